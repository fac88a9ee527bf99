package downloadplugin

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/stackup-ml/stackup/internal/config"
	"github.com/stackup-ml/stackup/internal/download"
	"github.com/stackup-ml/stackup/internal/logger"
	"github.com/stackup-ml/stackup/internal/model"
	"github.com/stackup-ml/stackup/internal/plugin"
)

// Options configures the download plugin from run settings.
type Options struct {
	// Token authenticates requests to matching artifact hosts.
	Token string
	// AuthHosts overrides the host suffixes that receive the token.
	AuthHosts []string
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
	Logger     *logger.Logger
}

type downloadPlugin struct {
	opts Options
}

// New creates a new download plugin instance.
func New(opts Options) plugin.Plugin {
	return &downloadPlugin{opts: opts}
}

var _ plugin.Plugin = (*downloadPlugin)(nil)

func (p *downloadPlugin) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "download",
		Type:        "download",
		Version:     "1.0.0",
		Description: "Fetches model artifacts with resumable, parallel downloads.",
	}
}

// downloadEvaluationData carries the resolved task list from Evaluate to Apply.
type downloadEvaluationData struct {
	Tasks   []download.Task
	Missing []string
}

func (p *downloadPlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg, err := downloadConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, plugin.NewStateError(step.ID, fmt.Errorf("context cancelled: %w", err))
	}

	tasks, err := resolveTasks(cfg)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	var missing []string
	for _, task := range tasks {
		name := task.Filename
		if name == "" {
			// resolveTasks already derived every filename.
			continue
		}
		dest := filepath.Join(task.Dir, name)
		if _, err := os.Stat(dest); err != nil || task.Overwrite {
			missing = append(missing, name)
		}
	}

	data := &downloadEvaluationData{Tasks: tasks, Missing: missing}

	if len(missing) == 0 {
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusSatisfied,
			RequiresAction: false,
			Message:        fmt.Sprintf("all %d artifacts present", len(tasks)),
			InternalData:   data,
		}, nil
	}

	return &model.EvaluationResult{
		StepID:         step.ID,
		CurrentState:   model.StatusMissing,
		RequiresAction: true,
		Message:        fmt.Sprintf("%d of %d artifacts missing", len(missing), len(tasks)),
		Diff:           "Would download: " + strings.Join(missing, ", "),
		InternalData:   data,
	}, nil
}

func (p *downloadPlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg, err := downloadConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	var data *downloadEvaluationData
	if evalResult != nil {
		if typed, ok := evalResult.InternalData.(*downloadEvaluationData); ok {
			data = typed
		}
	}
	if data == nil {
		evalResult, err = p.Evaluate(ctx, step)
		if err != nil {
			return nil, err
		}
		data = evalResult.InternalData.(*downloadEvaluationData)
	}

	if !evalResult.RequiresAction {
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusSkipped,
			Message: "all artifacts already present",
		}, nil
	}

	client := download.New(download.Options{
		Connections: cfg.Connections,
		Token:       p.opts.Token,
		AuthHosts:   p.opts.AuthHosts,
		HTTPClient:  p.opts.HTTPClient,
		Logger:      p.opts.Logger,
	})

	// The whole list runs even when individual artifacts fail; the step
	// reports the failures afterwards.
	results := client.FetchAll(ctx, data.Tasks)

	var fetched, skipped int
	var failures []string
	for _, res := range results {
		switch {
		case res.Err != nil:
			failures = append(failures, fmt.Sprintf("%s: %v", res.Task.URL, res.Err))
		case res.Outcome == download.OutcomeSkipped:
			skipped++
		default:
			fetched++
		}
	}

	if len(failures) > 0 {
		err := fmt.Errorf("%d of %d downloads failed: %s", len(failures), len(results), strings.Join(failures, "; "))
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
		Message: fmt.Sprintf("%d artifacts downloaded, %d already present", fetched, skipped),
	}, nil
}

// resolveTasks expands step items into concrete download tasks, deriving the
// filename and defaulting the directory from the step.
func resolveTasks(cfg *config.DownloadStep) ([]download.Task, error) {
	tasks := make([]download.Task, 0, len(cfg.Items))
	for _, item := range cfg.Items {
		dir := item.Dir
		if dir == "" {
			dir = cfg.Dir
		}
		if dir == "" {
			return nil, fmt.Errorf("item %s has no target directory", item.URL)
		}

		name := item.Filename
		if name == "" {
			derived, err := download.FilenameFromURL(item.URL)
			if err != nil {
				return nil, fmt.Errorf("item %s: %w", item.URL, err)
			}
			name = derived
		}

		tasks = append(tasks, download.Task{
			URL:       item.URL,
			Dir:       dir,
			Filename:  name,
			Overwrite: cfg.Overwrite,
		})
	}
	return tasks, nil
}

func downloadConfig(step *config.Step) (*config.DownloadStep, error) {
	if step == nil {
		return nil, fmt.Errorf("step is nil")
	}
	if step.Download == nil {
		return nil, fmt.Errorf("download configuration missing")
	}
	if len(step.Download.Items) == 0 {
		return nil, fmt.Errorf("download step needs at least one item")
	}
	return step.Download, nil
}
