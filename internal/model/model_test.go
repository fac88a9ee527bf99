package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVerificationStatus_IsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status VerificationStatus
		want   bool
	}{
		{"satisfied is valid", StatusSatisfied, true},
		{"missing is valid", StatusMissing, true},
		{"drifted is valid", StatusDrifted, true},
		{"blocked is valid", StatusBlocked, true},
		{"unknown is valid", StatusUnknown, true},
		{"invalid status", VerificationStatus("invalid"), false},
		{"empty status", VerificationStatus(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.status.IsValid())
		})
	}
}

func TestStepResult_Failed(t *testing.T) {
	t.Parallel()

	require.True(t, StepResult{Status: StatusFailed}.Failed())
	require.False(t, StepResult{Status: StatusSuccess}.Failed())
	require.False(t, StepResult{Status: StatusSkipped}.Failed())
}

func TestRunReport_Counters(t *testing.T) {
	t.Parallel()

	started := time.Now().Add(-2 * time.Second)
	results := []StepResult{
		{StepID: "apt_packages", Status: StatusSuccess},
		{StepID: "sync_plugins", Status: StatusSkipped},
		{StepID: "fetch_models", Status: StatusFailed, Error: errors.New("unreachable")},
		{StepID: "launch_server", Status: StatusSuccess},
	}

	report := NewRunReport("comfyui", started, results)

	require.Equal(t, 2, report.Succeeded)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, 1, report.Failed)
	require.True(t, report.HasFailures())
	require.Equal(t, []string{"fetch_models"}, report.FailedSteps())
	require.Contains(t, report.String(), "comfyui")
	require.Contains(t, report.String(), "failed: fetch_models")
}

func TestRunReport_NoFailures(t *testing.T) {
	t.Parallel()

	report := NewRunReport("lightx2v", time.Now(), []StepResult{
		{StepID: "apt_packages", Status: StatusSuccess},
	})

	require.False(t, report.HasFailures())
	require.Nil(t, report.FailedSteps())
}
