package engine

import (
	"context"

	"github.com/stackup-ml/stackup/internal/config"
	"github.com/stackup-ml/stackup/internal/logger"
	"github.com/stackup-ml/stackup/internal/model"
	"github.com/stackup-ml/stackup/internal/plugin"
)

// ExecutionContext contains runtime state shared across executor workers.
type ExecutionContext struct {
	Config   *config.Config
	Registry *plugin.Registry
	DryRun   bool
	Verbose  bool
	// BestEffort keeps the run going past failed steps, recording them in the
	// report instead of aborting.
	BestEffort bool
	// WorkerPool bounds how many foreground steps run concurrently.
	// Background steps run outside the pool so long builds do not starve the
	// rest of the run.
	WorkerPool chan struct{}
	Results    map[string]*model.StepResult
	Logger     *logger.Logger
	Context    context.Context
	// OnStepComplete, when set, is invoked after every finished step. The TUI
	// uses it to stream progress.
	OnStepComplete func(model.StepResult)
}
