package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stackup-ml/stackup/internal/config"
	"github.com/stackup-ml/stackup/internal/model"
	stackuperrors "github.com/stackup-ml/stackup/pkg/errors"
)

// bgHandle tracks a background step that the run must join before finishing.
// Dependents wait on done; the result is valid once done is closed.
type bgHandle struct {
	stepID string
	result *model.StepResult
	done   chan struct{}
}

// Execute runs the execution plan and returns step results.
//
// Steps marked background start when their level is reached but do not block
// the level: later levels overlap with them. A dependent of a background step
// waits for it before starting, and the run joins every background step before
// returning. A failed background step is reported as a warning rather than
// aborting the run.
func Execute(execCtx *ExecutionContext, plan *ExecutionPlan) ([]model.StepResult, error) {
	if execCtx == nil {
		return nil, stackuperrors.NewExecutionError("", fmt.Errorf("execution context is nil"))
	}
	if execCtx.Config == nil {
		return nil, stackuperrors.NewExecutionError("", fmt.Errorf("execution context config is nil"))
	}
	if plan == nil {
		return nil, stackuperrors.NewExecutionError("", fmt.Errorf("execution plan is nil"))
	}

	baseCtx := execCtx.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	var timeout time.Duration
	if execCtx.Config.Settings.Timeout > 0 {
		timeout = time.Duration(execCtx.Config.Settings.Timeout) * time.Second
	}

	stepLookup := make(map[string]*config.Step, len(execCtx.Config.Steps))
	for i := range execCtx.Config.Steps {
		step := &execCtx.Config.Steps[i]
		stepLookup[step.ID] = step
	}

	if execCtx.Results == nil {
		execCtx.Results = make(map[string]*model.StepResult)
	}

	var resultsMu sync.Mutex
	var allResults []model.StepResult
	var firstErr error

	record := func(res *model.StepResult) {
		resultsMu.Lock()
		execCtx.Results[res.StepID] = res
		allResults = append(allResults, *res)
		resultsMu.Unlock()
		if execCtx.OnStepComplete != nil {
			execCtx.OnStepComplete(*res)
		}
	}

	// background is only touched from this goroutine; workers receive the
	// handles they must wait on at launch time.
	background := make(map[string]*bgHandle)

	collectHandles := func(step *config.Step) []*bgHandle {
		var handles []*bgHandle
		for _, dep := range step.DependsOn {
			if handle, ok := background[dep]; ok {
				handles = append(handles, handle)
			}
		}
		return handles
	}

	awaitHandles := func(handles []*bgHandle) {
		for _, handle := range handles {
			select {
			case <-handle.done:
			case <-ctx.Done():
				return
			}
		}
	}

	for _, level := range plan.Levels {
		var levelErr error
		var once sync.Once
		var wg sync.WaitGroup

		for _, stepID := range level.StepIDs {
			step, ok := stepLookup[stepID]
			if !ok {
				return allResults, stackuperrors.NewExecutionError(stepID, fmt.Errorf("step not found"))
			}

			if step.Background {
				handle := &bgHandle{stepID: step.ID, done: make(chan struct{})}
				deps := collectHandles(step)
				background[step.ID] = handle
				go func(step *config.Step, handle *bgHandle) {
					defer close(handle.done)
					awaitHandles(deps)
					res, err := executeStep(ctx, execCtx, step, timeout, false)
					if res == nil {
						res = &model.StepResult{
							StepID:  step.ID,
							Status:  model.StatusFailed,
							Message: "background step produced no result",
							Error:   err,
						}
					}
					handle.result = res
				}(step, handle)
				continue
			}

			deps := collectHandles(step)
			wg.Add(1)
			go func(step *config.Step) {
				defer wg.Done()

				awaitHandles(deps)
				res, err := executeStep(ctx, execCtx, step, timeout, true)
				if res != nil {
					record(res)
				}

				if err != nil {
					once.Do(func() {
						levelErr = err
						if !execCtx.BestEffort {
							cancel()
						}
					})
				}
			}(step)
		}

		wg.Wait()

		if levelErr != nil {
			if firstErr == nil {
				firstErr = levelErr
			}
			if !execCtx.BestEffort {
				joinBackground(execCtx, background, record)
				return allResults, levelErr
			}
		}
	}

	joinBackground(execCtx, background, record)
	return allResults, firstErr
}

// joinBackground waits for every outstanding background step and records its
// result. Failures are logged as warnings; the run's exit status is driven by
// foreground steps.
func joinBackground(execCtx *ExecutionContext, background map[string]*bgHandle, record func(*model.StepResult)) {
	for _, handle := range background {
		<-handle.done
		res := handle.result
		if res == nil {
			continue
		}
		if res.Failed() {
			execCtx.Logger.WithFields(map[string]any{
				"step": handle.stepID,
			}).Warn("background step failed: " + res.Message)
		}
		record(res)
	}
}

func executeStep(ctx context.Context, execCtx *ExecutionContext, step *config.Step, timeout time.Duration, takeSlot bool) (*model.StepResult, error) {
	if ctx.Err() != nil {
		return nil, stackuperrors.NewExecutionError(step.ID, ctx.Err())
	}

	stepCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if takeSlot && execCtx.WorkerPool != nil {
		select {
		case execCtx.WorkerPool <- struct{}{}:
			defer func() { <-execCtx.WorkerPool }()
		case <-stepCtx.Done():
			return timeoutResult(step.ID, stepCtx.Err())
		}
	}

	impl, err := execCtx.Registry.Get(step.Type)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	evalResult, err := impl.Evaluate(stepCtx, step)
	if err != nil {
		res := &model.StepResult{
			StepID:    step.ID,
			Status:    model.StatusFailed,
			Message:   fmt.Sprintf("evaluation failed: %v", err),
			Duration:  time.Since(start),
			Timestamp: time.Now(),
			Error:     err,
		}
		return res, fmt.Errorf("evaluation failed for step %s: %w", step.ID, err)
	}

	var result *model.StepResult
	if execCtx.DryRun {
		status := model.StatusSkipped
		if evalResult.RequiresAction {
			status = model.StatusWouldUpdate
			if evalResult.CurrentState == model.StatusMissing {
				status = model.StatusWouldCreate
			}
		}
		result = &model.StepResult{
			StepID:  evalResult.StepID,
			Status:  status,
			Message: evalResult.Message,
		}
	} else if evalResult.RequiresAction {
		result, err = impl.Apply(stepCtx, evalResult, step)
	} else {
		result = &model.StepResult{
			StepID:  evalResult.StepID,
			Status:  model.StatusSkipped,
			Message: evalResult.Message,
		}
	}

	if result == nil {
		result = &model.StepResult{StepID: step.ID}
	}
	if result.StepID == "" {
		result.StepID = step.ID
	}
	result.Duration = time.Since(start)
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}

	if err != nil {
		return finalizeFailure(result, stepCtx, step.ID, err)
	}

	if result.Status == "" {
		result.Status = model.StatusSuccess
		if result.Message == "" {
			result.Message = "completed"
		}
	}

	return result, nil
}

func finalizeFailure(result *model.StepResult, stepCtx context.Context, stepID string, err error) (*model.StepResult, error) {
	if result.Status == "" {
		result.Status = model.StatusFailed
	}
	if result.Error == nil {
		result.Error = err
	}
	if result.Message == "" {
		result.Message = err.Error()
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		result.Message = "timeout exceeded"
	}

	return result, stackuperrors.NewExecutionError(stepID, err)
}

func timeoutResult(stepID string, err error) (*model.StepResult, error) {
	if err == nil {
		err = context.DeadlineExceeded
	}
	res := &model.StepResult{
		StepID:  stepID,
		Status:  model.StatusFailed,
		Message: "timeout exceeded",
		Error:   err,
	}
	return res, stackuperrors.NewExecutionError(stepID, err)
}
