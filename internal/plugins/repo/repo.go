package repoplugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/stackup-ml/stackup/internal/config"
	"github.com/stackup-ml/stackup/internal/execx"
	"github.com/stackup-ml/stackup/internal/model"
	"github.com/stackup-ml/stackup/internal/plugin"
)

// Options configures the repo plugin from run settings.
type Options struct {
	// AutoUpdate pulls repositories that are already cloned. Without it an
	// existing clone satisfies the step as-is.
	AutoUpdate bool
	// Python is the interpreter used to install requirement manifests.
	// Defaults to python3.
	Python string
}

type repoPlugin struct {
	autoUpdate bool
	python     string
}

// New creates a new repository plugin.
func New(opts Options) plugin.Plugin {
	python := opts.Python
	if python == "" {
		python = "python3"
	}
	return &repoPlugin{autoUpdate: opts.AutoUpdate, python: python}
}

var _ plugin.Plugin = (*repoPlugin)(nil)

func (p *repoPlugin) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "repo",
		Type:        "repo",
		Version:     "1.0.0",
		Description: "Clones git repositories and keeps them updated, installing their requirement manifests.",
	}
}

// repoEvaluationData carries the state probe from Evaluate to Apply.
type repoEvaluationData struct {
	DirExists    bool
	IsGitRepo    bool
	CloneOptions *git.CloneOptions
}

func (p *repoPlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg, err := repoConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, plugin.NewStateError(step.ID, fmt.Errorf("context cancelled: %w", err))
	}

	dirExists := true
	if _, err := os.Stat(cfg.Destination); err != nil {
		if !os.IsNotExist(err) {
			return nil, plugin.NewStateError(step.ID, fmt.Errorf("cannot access destination: %w", err))
		}
		dirExists = false
	}

	isGitRepo := false
	if dirExists {
		if _, err := git.PlainOpen(cfg.Destination); err == nil {
			isGitRepo = true
		}
	}

	cloneOpts := &git.CloneOptions{URL: cfg.URL}
	if cfg.Depth > 0 {
		cloneOpts.Depth = cfg.Depth
	}
	if cfg.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(cfg.Branch)
		cloneOpts.SingleBranch = true
	}
	if cfg.RecurseSubmodules {
		cloneOpts.RecurseSubmodules = git.DefaultSubmoduleRecursionDepth
	}

	data := &repoEvaluationData{
		DirExists:    dirExists,
		IsGitRepo:    isGitRepo,
		CloneOptions: cloneOpts,
	}

	if !dirExists {
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusMissing,
			RequiresAction: true,
			Message:        fmt.Sprintf("repository not cloned at %s", cfg.Destination),
			Diff:           fmt.Sprintf("Would clone: %s", cfg.URL),
			InternalData:   data,
		}, nil
	}

	if !isGitRepo {
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusDrifted,
			RequiresAction: true,
			Message:        fmt.Sprintf("directory %s exists but is not a git repository", cfg.Destination),
			Diff:           fmt.Sprintf("Would remove directory and clone: %s", cfg.URL),
			InternalData:   data,
		}, nil
	}

	if p.autoUpdate {
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusDrifted,
			RequiresAction: true,
			Message:        fmt.Sprintf("repository at %s will be updated in place", cfg.Destination),
			Diff:           "Would pull: origin",
			InternalData:   data,
		}, nil
	}

	return &model.EvaluationResult{
		StepID:         step.ID,
		CurrentState:   model.StatusSatisfied,
		RequiresAction: false,
		Message:        fmt.Sprintf("repository exists at %s", cfg.Destination),
		InternalData:   data,
	}, nil
}

func (p *repoPlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg, err := repoConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	var data *repoEvaluationData
	if evalResult != nil {
		if typed, ok := evalResult.InternalData.(*repoEvaluationData); ok {
			data = typed
		}
	}
	if data == nil {
		evalResult, err = p.Evaluate(ctx, step)
		if err != nil {
			return nil, err
		}
		data = evalResult.InternalData.(*repoEvaluationData)
	}

	if !evalResult.RequiresAction {
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusSkipped,
			Message: "repository already present",
		}, nil
	}

	if data.DirExists && data.IsGitRepo {
		return p.update(ctx, step.ID, cfg)
	}
	return p.clone(ctx, step.ID, cfg, data)
}

func (p *repoPlugin) clone(ctx context.Context, stepID string, cfg *config.RepoStep, data *repoEvaluationData) (*model.StepResult, error) {
	if data.DirExists && !data.IsGitRepo {
		if err := os.RemoveAll(cfg.Destination); err != nil {
			return failedResult(stepID, fmt.Errorf("remove non-repository directory: %w", err))
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Destination), 0o755); err != nil {
		return failedResult(stepID, fmt.Errorf("create destination directory: %w", err))
	}

	if _, err := git.PlainCloneContext(ctx, cfg.Destination, false, data.CloneOptions); err != nil {
		return failedResult(stepID, fmt.Errorf("clone %s: %w", cfg.URL, err))
	}

	if err := p.installRequirements(ctx, cfg); err != nil {
		return failedResult(stepID, err)
	}

	return &model.StepResult{
		StepID:  stepID,
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("cloned %s", cfg.URL),
	}, nil
}

func (p *repoPlugin) update(ctx context.Context, stepID string, cfg *config.RepoStep) (*model.StepResult, error) {
	repo, err := git.PlainOpen(cfg.Destination)
	if err != nil {
		return failedResult(stepID, fmt.Errorf("open repository: %w", err))
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return failedResult(stepID, fmt.Errorf("open worktree: %w", err))
	}

	err = worktree.PullContext(ctx, &git.PullOptions{RemoteName: "origin"})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return &model.StepResult{
			StepID:  stepID,
			Status:  model.StatusSkipped,
			Message: "repository already up to date",
		}, nil
	}
	if err != nil {
		return failedResult(stepID, fmt.Errorf("pull %s: %w", cfg.Destination, err))
	}

	// A pull that moved HEAD can change the requirement manifest.
	if err := p.installRequirements(ctx, cfg); err != nil {
		return failedResult(stepID, err)
	}

	return &model.StepResult{
		StepID:  stepID,
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("updated repository at %s", cfg.Destination),
	}, nil
}

// installRequirements installs the repository's requirement manifest when one
// exists. A repository without a manifest is not an error.
func (p *repoPlugin) installRequirements(ctx context.Context, cfg *config.RepoStep) error {
	manifest := cfg.Requirements
	if manifest == "" {
		manifest = "requirements.txt"
	}
	// Relative manifests live inside the repository.
	if !filepath.IsAbs(manifest) {
		manifest = filepath.Join(cfg.Destination, manifest)
	}
	if _, err := os.Stat(manifest); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("check requirements manifest: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.python, "-m", "pip", "install", "-r", manifest)
	cmd.Dir = cfg.Destination
	cmd.Env = os.Environ()

	res, err := execx.RunStreaming(cmd)
	if err != nil {
		if out := execx.PrimaryOutput(res); out != "" {
			return fmt.Errorf("install requirements %s: %w: %s", manifest, err, out)
		}
		return fmt.Errorf("install requirements %s: %w", manifest, err)
	}
	return nil
}

func failedResult(stepID string, err error) (*model.StepResult, error) {
	return &model.StepResult{
		StepID:  stepID,
		Status:  model.StatusFailed,
		Message: err.Error(),
		Error:   err,
	}, plugin.NewExecutionError(stepID, err)
}

func repoConfig(step *config.Step) (*config.RepoStep, error) {
	if step == nil {
		return nil, fmt.Errorf("step is nil")
	}
	if step.Repo == nil {
		return nil, fmt.Errorf("repo configuration missing")
	}
	return step.Repo, nil
}
