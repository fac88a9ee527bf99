package packageplugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/stackup-ml/stackup/internal/config"
	"github.com/stackup-ml/stackup/internal/execx"
	"github.com/stackup-ml/stackup/internal/model"
	"github.com/stackup-ml/stackup/internal/plugin"
)

type packagePlugin struct{}

// New creates a new package plugin instance.
func New() plugin.Plugin {
	return &packagePlugin{}
}

var _ plugin.Plugin = (*packagePlugin)(nil)

func (p *packagePlugin) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "package",
		Type:        "package",
		Version:     "1.0.0",
		Description: "Installs system packages through the apt package manager.",
	}
}

// packageEvaluationData carries the dpkg query results from Evaluate to Apply
// so Apply only installs what is actually missing.
type packageEvaluationData struct {
	Missing   []string
	Installed []string
}

func (p *packagePlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg, err := packageConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, plugin.NewStateError(step.ID, fmt.Errorf("context cancelled: %w", err))
	}

	data := &packageEvaluationData{}
	for _, name := range cfg.Packages {
		if err := runQuiet(ctx, "dpkg-query", "-W", name); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return nil, plugin.NewStateError(step.ID, fmt.Errorf("query package %s: %w", name, err))
			}
			data.Missing = append(data.Missing, name)
			continue
		}
		data.Installed = append(data.Installed, name)
	}

	if len(data.Missing) == 0 {
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusSatisfied,
			RequiresAction: false,
			Message:        fmt.Sprintf("all packages installed: %s", strings.Join(cfg.Packages, ", ")),
			InternalData:   data,
		}, nil
	}

	return &model.EvaluationResult{
		StepID:         step.ID,
		CurrentState:   model.StatusMissing,
		RequiresAction: true,
		Message:        fmt.Sprintf("packages not installed: %s", strings.Join(data.Missing, ", ")),
		Diff:           fmt.Sprintf("Would install: %s", strings.Join(data.Missing, ", ")),
		InternalData:   data,
	}, nil
}

func (p *packagePlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg, err := packageConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	var data *packageEvaluationData
	if evalResult != nil {
		if typed, ok := evalResult.InternalData.(*packageEvaluationData); ok {
			data = typed
		}
	}
	if data == nil {
		evalResult, err = p.Evaluate(ctx, step)
		if err != nil {
			return nil, err
		}
		data = evalResult.InternalData.(*packageEvaluationData)
	}

	if !evalResult.RequiresAction {
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusSkipped,
			Message: "all packages already installed",
		}, nil
	}

	if cfg.Update {
		if err := runInstall(ctx, "update"); err != nil {
			return failedResult(step.ID, fmt.Errorf("apt-get update: %w", err))
		}
	}

	args := append([]string{"install", "-y"}, data.Missing...)
	if err := runInstall(ctx, args...); err != nil {
		return failedResult(step.ID, fmt.Errorf("install packages: %w", err))
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("installed packages: %s", strings.Join(data.Missing, ", ")),
	}, nil
}

func failedResult(stepID string, err error) (*model.StepResult, error) {
	return &model.StepResult{
		StepID:  stepID,
		Status:  model.StatusFailed,
		Message: err.Error(),
		Error:   err,
	}, plugin.NewExecutionError(stepID, err)
}

// runQuiet runs a read-only probe without echoing its output.
func runQuiet(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run()
}

func runInstall(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "apt-get", args...)
	cmd.Env = append(os.Environ(), "DEBIAN_FRONTEND=noninteractive")

	res, err := execx.RunStreaming(cmd)
	if err != nil {
		if out := execx.PrimaryOutput(res); out != "" {
			return fmt.Errorf("%w: %s", err, out)
		}
		return err
	}
	return nil
}

func packageConfig(step *config.Step) (*config.PackageStep, error) {
	if step == nil {
		return nil, fmt.Errorf("step is nil")
	}
	if step.Package == nil {
		return nil, fmt.Errorf("package configuration missing")
	}
	return step.Package, nil
}
