package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/stackup-ml/stackup/internal/config"
	stackuperrors "github.com/stackup-ml/stackup/pkg/errors"
)

// Result captures the outcome of executing a single validation rule.
type Result struct {
	Validation config.Validation
	Passed     bool
	Message    string
	Error      error
}

// RunValidations executes the post-run validation rules in order. Every rule
// runs even when earlier ones fail; the combined error reports all failures.
func RunValidations(ctx context.Context, validations []config.Validation) ([]Result, error) {
	results := make([]Result, 0, len(validations))
	var failed []string

	for _, val := range validations {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result := Result{Validation: val}

		var err error
		switch val.Type {
		case "command_exists":
			if val.CommandExists == nil {
				err = stackuperrors.NewValidationError("validation.command_exists", "configuration missing", nil)
			} else {
				err = CheckCommandExists(val.CommandExists.Command)
			}
		case "file_exists":
			if val.FileExists == nil {
				err = stackuperrors.NewValidationError("validation.file_exists", "configuration missing", nil)
			} else {
				err = CheckFileExists(val.FileExists.Path)
			}
		case "path_contains":
			if val.PathContains == nil {
				err = stackuperrors.NewValidationError("validation.path_contains", "configuration missing", nil)
			} else {
				err = CheckPathContains(val.PathContains.File, val.PathContains.Text)
			}
		default:
			err = stackuperrors.NewValidationError("validation.type", fmt.Sprintf("unknown validation type %q", val.Type), nil)
		}

		if err != nil {
			result.Message = err.Error()
			result.Error = err
			failed = append(failed, err.Error())
		} else {
			result.Passed = true
			result.Message = "passed"
		}

		results = append(results, result)
	}

	if len(failed) > 0 {
		return results, fmt.Errorf("validations failed: %s", strings.Join(failed, "; "))
	}

	return results, nil
}
