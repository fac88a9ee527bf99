package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackup-ml/stackup/internal/config"
	"github.com/stackup-ml/stackup/internal/engine"
	"github.com/stackup-ml/stackup/internal/model"
)

func newTestModel(t *testing.T) Model {
	t.Helper()

	cfg := &config.Config{
		Version: "1.0",
		Name:    "comfyui-provision",
		Steps: []config.Step{
			{ID: "apt_packages", Type: "package", Enabled: true},
			{ID: "fetch_models", Type: "download", Enabled: true, DependsOn: []string{"apt_packages"}},
			{ID: "build_engine", Type: "command", Enabled: true, Background: true},
		},
	}

	graph, err := engine.BuildDAG(cfg.Steps)
	require.NoError(t, err)
	plan, err := engine.GeneratePlan(graph)
	require.NoError(t, err)

	return NewModel(cfg, plan, true)
}

func applyMsg(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	updated, _ := m.Update(msg)
	next, ok := updated.(Model)
	require.True(t, ok)
	return next
}

func TestNewModelTracksAllPlannedSteps(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	assert.Equal(t, 3, m.TotalSteps())
	assert.Equal(t, 0, m.CompletedSteps())
	assert.False(t, m.IsFinished())
}

func TestStepCompleteAdvancesProgress(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	m = applyMsg(t, m, StepCompleteMsg{Result: model.StepResult{StepID: "apt_packages", Status: model.StatusSuccess}})

	assert.Equal(t, 1, m.CompletedSteps())
	assert.False(t, m.IsFinished())
}

func TestAllStepsCompleteFinishesModel(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	for _, id := range []string{"apt_packages", "fetch_models", "build_engine"} {
		m = applyMsg(t, m, StepCompleteMsg{Result: model.StepResult{StepID: id, Status: model.StatusSuccess}})
	}

	assert.True(t, m.IsFinished())
	assert.Equal(t, 3, m.CompletedSteps())
}

func TestFailedStepCountsButDoesNotFinishRun(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	m = applyMsg(t, m, StepCompleteMsg{Result: model.StepResult{StepID: "apt_packages", Status: model.StatusFailed, Message: "boom"}})

	assert.Equal(t, 1, m.FailedSteps())
	assert.False(t, m.IsFinished(), "a failure must not stop the display while other steps keep running")
}

func TestDuplicateCompletionIsCountedOnce(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	msg := StepCompleteMsg{Result: model.StepResult{StepID: "apt_packages", Status: model.StatusSuccess}}
	m = applyMsg(t, m, msg)
	m = applyMsg(t, m, msg)

	assert.Equal(t, 1, m.CompletedSteps())
}

func TestViewRendersStepsAndValidations(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	m = applyMsg(t, m, StepCompleteMsg{Result: model.StepResult{StepID: "apt_packages", Status: model.StatusSuccess, Message: "installed packages: git"}})
	m = applyMsg(t, m, ValidationMsg{Passed: true, Message: "passed"})

	view := m.View()
	assert.Contains(t, view, "comfyui-provision")
	assert.Contains(t, view, "apt_packages")
	assert.Contains(t, view, "build_engine (background)")
	assert.Contains(t, view, "Validations:")
}

func TestCtrlCCancels(t *testing.T) {
	t.Parallel()

	m := newTestModel(t)
	m = applyMsg(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})

	assert.True(t, m.IsFinished())
	assert.Contains(t, m.View(), "Run cancelled")
}
