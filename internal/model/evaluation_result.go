package model

// EvaluationResult contains the result of evaluating a step's current state
// against its desired state. Returned by Plugin.Evaluate() and handed back to
// Plugin.Apply() when action is required.
type EvaluationResult struct {
	// StepID is the unique identifier of the evaluated step.
	StepID string

	// CurrentState classifies the resource relative to the desired state.
	CurrentState VerificationStatus

	// RequiresAction indicates whether Apply() should be called.
	RequiresAction bool

	// Message is a human-readable description of what was found.
	Message string

	// Diff optionally describes what Apply() would change, for dry-run output.
	Diff string

	// InternalData is opaque data carried from Evaluate() to Apply() so that
	// Apply() does not have to recompute expensive probes.
	InternalData any
}
