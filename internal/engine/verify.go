package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stackup-ml/stackup/internal/config"
	"github.com/stackup-ml/stackup/internal/logger"
	"github.com/stackup-ml/stackup/internal/model"
	"github.com/stackup-ml/stackup/internal/plugin"
	stackuperrors "github.com/stackup-ml/stackup/pkg/errors"
)

// Executor drives verification runs.
type Executor struct {
	logger *logger.Logger
}

// NewExecutor creates a new executor instance.
func NewExecutor(log *logger.Logger) *Executor {
	return &Executor{logger: log}
}

// VerifySteps evaluates every enabled step without mutating anything and
// returns a summary of how far the host has drifted from the configuration.
// Steps whose dependencies are not satisfied are reported as blocked instead
// of being evaluated.
func (e *Executor) VerifySteps(execCtx *ExecutionContext, steps []config.Step, defaultTimeout time.Duration) (*model.VerificationSummary, error) {
	start := time.Now()

	stepIndex := make(map[string]*config.Step, len(steps))
	enabledSteps := 0
	for i := range steps {
		if !steps[i].Enabled {
			continue
		}
		step := &steps[i]
		stepIndex[step.ID] = step
		enabledSteps++
	}

	graph, err := BuildDAG(steps)
	if err != nil {
		return nil, err
	}

	summary := &model.VerificationSummary{
		TotalSteps: enabledSteps,
		Results:    make([]*model.VerificationResult, 0, enabledSteps),
	}

	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}

	resultsByID := make(map[string]*model.VerificationResult, enabledSteps)
	addResult := func(result *model.VerificationResult) {
		summary.Results = append(summary.Results, result)
		resultsByID[result.StepID] = result
		switch result.Status {
		case model.StatusSatisfied:
			summary.Satisfied++
		case model.StatusMissing:
			summary.Missing++
		case model.StatusDrifted:
			summary.Drifted++
		case model.StatusBlocked:
			summary.Blocked++
		case model.StatusUnknown:
			summary.Unknown++
		}
	}

	for _, level := range graph.Levels {
		for _, stepID := range level {
			step, ok := stepIndex[stepID]
			if !ok {
				continue
			}

			if execCtx.Context.Err() != nil {
				return summary, execCtx.Context.Err()
			}

			unsatisfied := make([]string, 0, len(step.DependsOn))
			for _, depID := range step.DependsOn {
				depResult, exists := resultsByID[depID]
				if !exists {
					continue
				}
				if depResult.Status != model.StatusSatisfied {
					unsatisfied = append(unsatisfied, fmt.Sprintf("%s (%s)", depID, depResult.Status))
				}
			}

			if len(unsatisfied) > 0 {
				msg := "blocked: dependencies not satisfied: " + strings.Join(unsatisfied, ", ")
				addResult(&model.VerificationResult{
					StepID:    step.ID,
					Status:    model.StatusBlocked,
					Message:   msg,
					Error:     errors.New(msg),
					Timestamp: time.Now(),
				})
				continue
			}

			impl, err := execCtx.Registry.Get(step.Type)
			if err != nil {
				addResult(&model.VerificationResult{
					StepID:    step.ID,
					Status:    model.StatusBlocked,
					Message:   fmt.Sprintf("plugin not found for type %s", step.Type),
					Error:     err,
					Timestamp: time.Now(),
				})
				continue
			}

			stepStart := time.Now()
			stepCtx, cancel := context.WithTimeout(execCtx.Context, defaultTimeout)
			evalResult, verifyErr := impl.Evaluate(stepCtx, step)
			cancel()

			if verifyErr != nil {
				// A state probe failure means the step's status is unknown;
				// anything else is a configuration problem and fatal.
				var stateErr *plugin.StateError
				if errors.As(verifyErr, &stateErr) {
					addResult(&model.VerificationResult{
						StepID:    step.ID,
						Status:    model.StatusUnknown,
						Message:   stateErr.Error(),
						Error:     stateErr.Unwrap(),
						Duration:  time.Since(stepStart),
						Timestamp: time.Now(),
					})
					continue
				}

				summary.Duration = time.Since(start)
				if _, ok := plugin.AsPluginError(verifyErr); ok {
					return summary, verifyErr
				}
				return summary, stackuperrors.NewExecutionError(step.ID, verifyErr)
			}

			addResult(&model.VerificationResult{
				StepID:    evalResult.StepID,
				Status:    evalResult.CurrentState,
				Message:   evalResult.Message,
				Details:   evalResult.Diff,
				Duration:  time.Since(stepStart),
				Timestamp: time.Now(),
			})
		}
	}

	summary.Duration = time.Since(start)
	return summary, nil
}
