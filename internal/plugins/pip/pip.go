package pipplugin

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

type pipPlugin struct{}

// New creates a new pip plugin instance.
func New() plugin.Plugin {
	return &pipPlugin{}
}

var _ plugin.Plugin = (*pipPlugin)(nil)

func (p *pipPlugin) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "pip",
		Type:        "pip",
		Version:     "1.0.0",
		Description: "Installs Python dependencies from manifests or explicit package lists.",
	}
}

// pipEvaluationData carries the probe results from Evaluate to Apply.
type pipEvaluationData struct {
	MissingPackages []string
}

func (p *pipPlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg, err := pipConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, plugin.NewStateError(step.ID, fmt.Errorf("context cancelled: %w", err))
	}

	// A requirements manifest is resolved by pip itself; the manifest is
	// re-applied every run and pip skips satisfied entries.
	if cfg.Requirements != "" {
		if _, err := os.Stat(cfg.Requirements); err != nil {
			return nil, plugin.NewStateError(step.ID, fmt.Errorf("requirements manifest: %w", err))
		}
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusUnknown,
			RequiresAction: true,
			Message:        fmt.Sprintf("manifest %s will be applied", cfg.Requirements),
		}, nil
	}

	// Explicit package lists can be probed read-only through pip show.
	var missing []string
	for _, name := range cfg.Packages {
		if err := pipShow(ctx, interpreter(cfg), name); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return nil, plugin.NewStateError(step.ID, fmt.Errorf("probe package %s: %w", name, err))
			}
			missing = append(missing, name)
		}
	}

	data := &pipEvaluationData{MissingPackages: missing}
	if len(missing) == 0 {
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
		Message:        fmt.Sprintf("packages not installed: %s", strings.Join(missing, ", ")),
		Diff:           fmt.Sprintf("Would install: %s", strings.Join(missing, ", ")),
		InternalData:   data,
	}, nil
}

func (p *pipPlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg, err := pipConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	if evalResult == nil {
		evalResult, err = p.Evaluate(ctx, step)
		if err != nil {
			return nil, err
		}
	}

	if !evalResult.RequiresAction {
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusSkipped,
			Message: "all packages already installed",
		}, nil
	}

	args := []string{"-m", "pip", "install"}
	args = append(args, cfg.ExtraArgs...)

	if cfg.Requirements != "" {
		args = append(args, "-r", cfg.Requirements)
	} else {
		packages := cfg.Packages
		if data, ok := evalResult.InternalData.(*pipEvaluationData); ok && len(data.MissingPackages) > 0 {
			packages = data.MissingPackages
		}
		args = append(args, packages...)
	}

	cmd := exec.CommandContext(ctx, interpreter(cfg), args...)
	cmd.Env = os.Environ()

	res, err := execx.RunStreaming(cmd)
	if err != nil {
		installErr := fmt.Errorf("pip install: %w", err)
		if out := execx.PrimaryOutput(res); out != "" {
			installErr = fmt.Errorf("pip install: %w: %s", err, out)
		}
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusFailed,
			Message: installErr.Error(),
			Error:   installErr,
		}, plugin.NewExecutionError(step.ID, installErr)
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: "python dependencies installed",
	}, nil
}

func interpreter(cfg *config.PipStep) string {
	if cfg.Python != "" {
		return cfg.Python
	}
	return "python3"
}

func pipShow(ctx context.Context, python, name string) error {
	cmd := exec.CommandContext(ctx, python, "-m", "pip", "show", "--quiet", name)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run()
}

func pipConfig(step *config.Step) (*config.PipStep, error) {
	if step == nil {
		return nil, fmt.Errorf("step is nil")
	}
	if step.Pip == nil {
		return nil, fmt.Errorf("pip configuration missing")
	}
	if step.Pip.Requirements == "" && len(step.Pip.Packages) == 0 {
		return nil, fmt.Errorf("pip step needs requirements or packages")
	}
	return step.Pip, nil
}
