package main

import (
	"github.com/stackup-ml/stackup/internal/config"
	"github.com/stackup-ml/stackup/internal/logger"
	"github.com/stackup-ml/stackup/internal/plugin"
	commandplugin "github.com/stackup-ml/stackup/internal/plugins/command"
	downloadplugin "github.com/stackup-ml/stackup/internal/plugins/download"
	packageplugin "github.com/stackup-ml/stackup/internal/plugins/package"
	pipplugin "github.com/stackup-ml/stackup/internal/plugins/pip"
	repoplugin "github.com/stackup-ml/stackup/internal/plugins/repo"
	serveplugin "github.com/stackup-ml/stackup/internal/plugins/serve"
)

// buildRegistry wires one plugin per step type. Plugins that depend on run
// settings (auth token, auto-update) receive them at construction so the
// settings never leak into per-step payloads.
func buildRegistry(cfg *config.Config, log *logger.Logger) (*plugin.Registry, error) {
	registry := plugin.NewRegistry(log)

	plugins := []plugin.Plugin{
		packageplugin.New(),
		repoplugin.New(repoplugin.Options{AutoUpdate: cfg.Settings.AutoUpdate}),
		pipplugin.New(),
		downloadplugin.New(downloadplugin.Options{Token: cfg.Settings.HFToken, Logger: log}),
		commandplugin.New(commandplugin.Options{}),
		serveplugin.New(),
	}

	for _, p := range plugins {
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
