package model

import "time"

// VerificationStatus classifies a step's current state relative to its
// desired state.
type VerificationStatus string

const (
	// StatusSatisfied means the resource already matches the desired state.
	StatusSatisfied VerificationStatus = "satisfied"
	// StatusMissing means the resource does not exist yet.
	StatusMissing VerificationStatus = "missing"
	// StatusDrifted means the resource exists but differs from the desired state.
	StatusDrifted VerificationStatus = "drifted"
	// StatusBlocked means the step cannot run because a dependency is unsatisfied.
	StatusBlocked VerificationStatus = "blocked"
	// StatusUnknown means the current state could not be determined.
	StatusUnknown VerificationStatus = "unknown"
)

// IsValid reports whether the status is one of the defined states.
func (s VerificationStatus) IsValid() bool {
	switch s {
	case StatusSatisfied, StatusMissing, StatusDrifted, StatusBlocked, StatusUnknown:
		return true
	}
	return false
}

// VerificationResult captures the read-only assessment of a single step.
type VerificationResult struct {
	StepID    string
	Status    VerificationStatus
	Message   string
	Details   string
	Error     error
	Duration  time.Duration
	Timestamp time.Time
}

// VerificationSummary aggregates verification results for a whole run.
type VerificationSummary struct {
	TotalSteps int
	Satisfied  int
	Missing    int
	Drifted    int
	Blocked    int
	Unknown    int
	Results    []*VerificationResult
	Duration   time.Duration
}

// AllSatisfied reports whether every assessed step is already in its
// desired state.
func (s *VerificationSummary) AllSatisfied() bool {
	if s == nil {
		return false
	}
	return s.TotalSteps > 0 && s.Satisfied == s.TotalSteps
}

// ExitCode maps the summary to a process exit code: 0 when nothing needs to
// change, 1 when an apply would act.
func (s *VerificationSummary) ExitCode() int {
	if s.AllSatisfied() {
		return 0
	}
	return 1
}
