package model

import (
	"fmt"
	"strings"
	"time"
)

// RunReport aggregates the outcome of one provisioning run. The run itself is
// best-effort: individual step failures are recorded here instead of aborting
// the run, and the operator inspects the report (or the log) afterwards.
type RunReport struct {
	ConfigName string
	Results    []StepResult
	Succeeded  int
	Skipped    int
	Failed     int
	StartedAt  time.Time
	Duration   time.Duration
}

// NewRunReport builds a report from the collected step results.
func NewRunReport(name string, startedAt time.Time, results []StepResult) *RunReport {
	report := &RunReport{
		ConfigName: name,
		Results:    results,
		StartedAt:  startedAt,
		Duration:   time.Since(startedAt),
	}
	for _, res := range results {
		switch res.Status {
		case StatusSuccess, StatusWouldCreate, StatusWouldUpdate:
			report.Succeeded++
		case StatusSkipped:
			report.Skipped++
		case StatusFailed:
			report.Failed++
		}
	}
	return report
}

// HasFailures reports whether any step failed during the run.
func (r *RunReport) HasFailures() bool {
	return r != nil && r.Failed > 0
}

// FailedSteps returns the identifiers of failed steps in run order.
func (r *RunReport) FailedSteps() []string {
	if r == nil {
		return nil
	}
	var ids []string
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			ids = append(ids, res.StepID)
		}
	}
	return ids
}

// String renders a single-line summary suitable for the end of the run log.
func (r *RunReport) String() string {
	if r == nil {
		return ""
	}
	line := fmt.Sprintf("%s: %d succeeded, %d skipped, %d failed in %s",
		r.ConfigName, r.Succeeded, r.Skipped, r.Failed, r.Duration.Truncate(10*time.Millisecond))
	if failed := r.FailedSteps(); len(failed) > 0 {
		line = fmt.Sprintf("%s (failed: %s)", line, strings.Join(failed, ", "))
	}
	return line
}
