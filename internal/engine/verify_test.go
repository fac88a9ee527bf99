package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackup-ml/stackup/internal/model"
)

func TestVerifyStepsAllSatisfied(t *testing.T) {
	t.Parallel()

	fake := newFakePlugin()
	fake.satisfy["one"] = true
	fake.satisfy["two"] = true
	cfg := runConfig(step("one"), step("two", "one"))
	execCtx := newExecContext(t, cfg, fake)

	summary, err := NewExecutor(nil).VerifySteps(execCtx, cfg.Steps, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalSteps)
	assert.Equal(t, 2, summary.Satisfied)
	assert.True(t, summary.AllSatisfied())
}

func TestVerifyStepsBlocksDependentsOfUnsatisfied(t *testing.T) {
	t.Parallel()

	fake := newFakePlugin()
	cfg := runConfig(step("missing_one"), step("dependent", "missing_one"))
	execCtx := newExecContext(t, cfg, fake)

	summary, err := NewExecutor(nil).VerifySteps(execCtx, cfg.Steps, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Missing)
	assert.Equal(t, 1, summary.Blocked)
	assert.False(t, summary.AllSatisfied())

	byID := map[string]*model.VerificationResult{}
	for _, res := range summary.Results {
		byID[res.StepID] = res
	}
	assert.Equal(t, model.StatusMissing, byID["missing_one"].Status)
	assert.Equal(t, model.StatusBlocked, byID["dependent"].Status)

	// Verification is read-only: nothing may have been applied.
	assert.Empty(t, fake.eventList())
}
