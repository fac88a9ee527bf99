package components

import (
	"github.com/stackup-ml/stackup/internal/model"
)

// StepEntry is one provisioning step prepared for rendering: its latest
// result plus whether it runs detached from its level.
type StepEntry struct {
	ID         string
	Result     model.StepResult
	Background bool
}

// StepList orders the provisioning steps for display. Plan order is kept so
// the view mirrors the execution levels rather than completion order.
type StepList struct {
	entries []StepEntry
}

// NewStepList builds the list from plan order, current results, and the set
// of background step IDs.
func NewStepList(order []string, steps map[string]model.StepResult, background map[string]bool) StepList {
	entries := make([]StepEntry, 0, len(order))
	for _, id := range order {
		entries = append(entries, StepEntry{ID: id, Result: steps[id], Background: background[id]})
	}
	return StepList{entries: entries}
}

// Entries returns the ordered step entries.
func (s StepList) Entries() []StepEntry {
	clone := make([]StepEntry, len(s.entries))
	copy(clone, s.entries)
	return clone
}
