package serveplugin

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/stackup-ml/stackup/internal/config"
	"github.com/stackup-ml/stackup/internal/model"
	"github.com/stackup-ml/stackup/internal/plugin"
)

const (
	defaultStartupTimeout = 120 * time.Second
	healthPollInterval    = time.Second
)

type servePlugin struct {
	httpClient *http.Client
}

// New creates a new serve plugin instance.
func New() plugin.Plugin {
	return &servePlugin{httpClient: &http.Client{Timeout: 5 * time.Second}}
}

var _ plugin.Plugin = (*servePlugin)(nil)

func (p *servePlugin) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "serve",
		Type:        "serve",
		Version:     "1.0.0",
		Description: "Launches long-lived server processes detached from the provisioning run.",
	}
}

func (p *servePlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg, err := serveConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, plugin.NewStateError(step.ID, fmt.Errorf("context cancelled: %w", err))
	}

	// A responding health endpoint means the server is already up; launching
	// a second instance would fight over the port.
	if cfg.HealthURL != "" && p.healthy(ctx, cfg.HealthURL) {
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusSatisfied,
			RequiresAction: false,
			Message:        fmt.Sprintf("server already responding at %s", cfg.HealthURL),
		}, nil
	}

	return &model.EvaluationResult{
		StepID:         step.ID,
		CurrentState:   model.StatusMissing,
		RequiresAction: true,
		Message:        "server not running",
		Diff:           fmt.Sprintf("Would start: %s", cfg.Command),
	}, nil
}

func (p *servePlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg, err := serveConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	if evalResult != nil && !evalResult.RequiresAction {
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusSkipped,
			Message: "server already running",
		}, nil
	}

	pid, err := p.launch(cfg)
	if err != nil {
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusFailed,
			Message: err.Error(),
			Error:   err,
		}, plugin.NewExecutionError(step.ID, err)
	}

	if cfg.HealthURL != "" {
		if err := p.awaitHealthy(ctx, cfg); err != nil {
			err = fmt.Errorf("server started (pid %d) but %w", pid, err)
			return &model.StepResult{
				StepID:  step.ID,
				Status:  model.StatusFailed,
				Message: err.Error(),
				Error:   err,
			}, plugin.NewExecutionError(step.ID, err)
		}
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusSuccess,
			Message: fmt.Sprintf("server running (pid %d), healthy at %s", pid, cfg.HealthURL),
		}, nil
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("server started (pid %d)", pid),
	}, nil
}

// launch starts the server in its own session so it survives the provisioning
// process, with stdout and stderr redirected to the configured log file.
func (p *servePlugin) launch(cfg *config.ServeStep) (int, error) {
	cmd := exec.Command("/bin/sh", "-c", cfg.Command)
	cmd.Dir = cfg.WorkDir
	cmd.Env = os.Environ()
	for key, value := range cfg.Env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return 0, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return 0, fmt.Errorf("open server log: %w", err)
		}
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start server: %w", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("release server process: %w", err)
	}
	return pid, nil
}

func (p *servePlugin) awaitHealthy(ctx context.Context, cfg *config.ServeStep) error {
	timeout := defaultStartupTimeout
	if cfg.StartupTimeout > 0 {
		timeout = time.Duration(cfg.StartupTimeout) * time.Second
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	for {
		if p.healthy(ctx, cfg.HealthURL) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("health check at %s did not pass within %s", cfg.HealthURL, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *servePlugin) healthy(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func serveConfig(step *config.Step) (*config.ServeStep, error) {
	if step == nil {
		return nil, fmt.Errorf("step is nil")
	}
	if step.Serve == nil {
		return nil, fmt.Errorf("serve configuration missing")
	}
	return step.Serve, nil
}
