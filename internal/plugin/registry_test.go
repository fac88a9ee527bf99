package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stackup-ml/stackup/internal/config"
	"github.com/stackup-ml/stackup/internal/model"
)

type fakePlugin struct {
	meta Metadata
}

func (p *fakePlugin) PluginMetadata() Metadata { return p.meta }

func (p *fakePlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	return &model.EvaluationResult{StepID: step.ID, CurrentState: model.StatusSatisfied}, nil
}

func (p *fakePlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	return &model.StepResult{StepID: step.ID, Status: model.StatusSuccess}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	p := &fakePlugin{meta: Metadata{Name: "download", Type: "download", Version: "1.0.0"}}

	require.NoError(t, r.Register(p))

	got, err := r.Get("download")
	require.NoError(t, err)
	require.Same(t, p, got)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	p := &fakePlugin{meta: Metadata{Name: "repo", Type: "repo"}}

	require.NoError(t, r.Register(p))
	require.Error(t, r.Register(p))
}

func TestRegistryUnknownType(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)

	_, err := r.Get("missing")
	require.Error(t, err)
}

func TestRegistryTypesSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	for _, typ := range []string{"serve", "download", "package"} {
		require.NoError(t, r.Register(&fakePlugin{meta: Metadata{Name: typ, Type: typ}}))
	}

	require.Equal(t, []string{"download", "package", "serve"}, r.Types())
}

func TestPluginErrorTaxonomy(t *testing.T) {
	t.Parallel()

	execErr := NewExecutionError("fetch_models", context.DeadlineExceeded)
	pluginErr, ok := AsPluginError(execErr)
	require.True(t, ok)
	require.Equal(t, "fetch_models", pluginErr.StepID())
	require.ErrorIs(t, execErr, context.DeadlineExceeded)

	valErr := NewValidationError("bad_step", nil)
	require.Contains(t, valErr.Error(), "bad_step")

	stateErr := NewStateError("probe", nil)
	require.Equal(t, "probe", stateErr.StepID())
}
