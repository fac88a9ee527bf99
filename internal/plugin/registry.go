package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/stackup-ml/stackup/internal/logger"
)

// Registry maps step types to their plugin implementations.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	logger  *logger.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
		logger:  log,
	}
}

// Register adds a plugin keyed by its metadata type.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("plugin is nil")
	}

	meta := p.PluginMetadata()
	if meta.Type == "" {
		return fmt.Errorf("plugin %q has no step type", meta.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[meta.Type]; exists {
		return fmt.Errorf("plugin for step type %q already registered", meta.Type)
	}

	r.plugins[meta.Type] = p
	r.logger.WithFields(map[string]any{"plugin": meta.Name, "type": meta.Type}).Debug("plugin registered")
	return nil
}

// Get retrieves the plugin handling the given step type.
func (r *Registry) Get(stepType string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[stepType]
	if !ok {
		return nil, fmt.Errorf("no plugin registered for step type %q", stepType)
	}
	return p, nil
}

// Types returns the registered step types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.plugins))
	for t := range r.plugins {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
