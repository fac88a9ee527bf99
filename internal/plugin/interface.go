package plugin

import (
	"context"

	"github.com/stackup-ml/stackup/internal/config"
	"github.com/stackup-ml/stackup/internal/model"
)

// Metadata describes a plugin's identity for the registry.
type Metadata struct {
	Name        string
	Type        string
	Version     string
	Description string
}

// Plugin defines the contract every step plugin must satisfy.
//
// Evaluate performs a strictly read-only assessment of the current state
// against the desired state of the step. It must not mutate anything; it
// reports what Apply would have to do. Apply mutates the system toward the
// desired state and must be idempotent.
type Plugin interface {
	// PluginMetadata returns the plugin's identity.
	PluginMetadata() Metadata

	// Evaluate assesses the current state without mutating it. The returned
	// EvaluationResult carries the state classification, whether Apply is
	// needed, and optional internal data forwarded to Apply.
	Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error)

	// Apply mutates the system to match the desired state. It is only called
	// when Evaluate reported RequiresAction. The evalResult parameter is the
	// result of the preceding Evaluate call.
	Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error)
}
