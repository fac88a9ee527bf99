package commandplugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/stackup-ml/stackup/internal/config"
	"github.com/stackup-ml/stackup/internal/execx"
	"github.com/stackup-ml/stackup/internal/model"
	"github.com/stackup-ml/stackup/internal/plugin"
)

// Options configures the command plugin.
type Options struct {
	// Sink receives the output of executed commands. Background steps tag
	// every line with the step ID so interleaved output stays attributable.
	// Defaults to stdout.
	Sink io.Writer
}

type commandPlugin struct {
	sink io.Writer
}

// New creates a new command plugin instance.
func New(opts Options) plugin.Plugin {
	sink := opts.Sink
	if sink == nil {
		sink = os.Stdout
	}
	return &commandPlugin{sink: sink}
}

var _ plugin.Plugin = (*commandPlugin)(nil)

func (p *commandPlugin) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "command",
		Type:        "command",
		Version:     "1.0.0",
		Description: "Runs shell commands with an optional idempotency probe.",
	}
}

func (p *commandPlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg, err := commandConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, plugin.NewStateError(step.ID, fmt.Errorf("context cancelled: %w", err))
	}

	// Without a check probe the outcome of the command is unknowable ahead
	// of time; the command itself is expected to be idempotent.
	if cfg.Check == "" {
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusUnknown,
			RequiresAction: true,
			Message:        "no check command, will execute",
		}, nil
	}

	cmd := buildCommand(ctx, cfg, cfg.Check)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, plugin.NewStateError(step.ID, fmt.Errorf("check command: %w", err))
		}
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusMissing,
			RequiresAction: true,
			Message:        "check failed, will execute",
			Diff:           fmt.Sprintf("Would run: %s", cfg.Command),
		}, nil
	}

	return &model.EvaluationResult{
		StepID:         step.ID,
		CurrentState:   model.StatusSatisfied,
		RequiresAction: false,
		Message:        "check passed, command not needed",
	}, nil
}

func (p *commandPlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg, err := commandConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	if evalResult != nil && !evalResult.RequiresAction {
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusSkipped,
			Message: "check passed, command not needed",
		}, nil
	}

	cmd := buildCommand(ctx, cfg, cfg.Command)

	var res execx.Result
	if step.Background {
		res, err = execx.RunTagged(cmd, step.ID, p.sink)
	} else {
		cmd.Stdout = p.sink
		cmd.Stderr = p.sink
		res, err = execx.RunStreaming(cmd)
	}
	if err != nil {
		runErr := fmt.Errorf("command failed: %w", err)
		if out := execx.PrimaryOutput(res); out != "" {
			runErr = fmt.Errorf("command failed: %w: %s", err, out)
		}
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusFailed,
			Message: runErr.Error(),
			Error:   runErr,
		}, plugin.NewExecutionError(step.ID, runErr)
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: "command executed",
	}, nil
}

func buildCommand(ctx context.Context, cfg *config.CommandStep, script string) *exec.Cmd {
	shell := cfg.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", script)
	cmd.Dir = cfg.WorkDir
	cmd.Env = os.Environ()
	for key, value := range cfg.Env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}
	return cmd
}

func commandConfig(step *config.Step) (*config.CommandStep, error) {
	if step == nil {
		return nil, fmt.Errorf("step is nil")
	}
	if step.Command == nil {
		return nil, fmt.Errorf("command configuration missing")
	}
	return step.Command, nil
}
