package components

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackup-ml/stackup/internal/model"
)

func TestStepListKeepsPlanOrderAndBackgroundFlag(t *testing.T) {
	t.Parallel()

	order := []string{"apt_packages", "build_engine", "fetch_models"}
	steps := map[string]model.StepResult{
		"apt_packages": {StepID: "apt_packages", Status: model.StatusSuccess},
		"build_engine": {StepID: "build_engine", Status: model.StatusRunning},
		"fetch_models": {StepID: "fetch_models", Status: model.StatusPending},
	}
	background := map[string]bool{"build_engine": true}

	entries := NewStepList(order, steps, background).Entries()
	require.Len(t, entries, 3)

	assert.Equal(t, "apt_packages", entries[0].ID)
	assert.False(t, entries[0].Background)
	assert.Equal(t, "build_engine", entries[1].ID)
	assert.True(t, entries[1].Background)
	assert.Equal(t, model.StatusPending, entries[2].Result.Status)
}
