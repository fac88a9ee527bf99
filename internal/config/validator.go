package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	stackuperrors "github.com/stackup-ml/stackup/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	semverPattern = regexp.MustCompile(`^\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z-.]+)?(?:\+[0-9A-Za-z-.]+)?$`)
	stepIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
			return semverPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("step_id", func(fl validator.FieldLevel) bool {
			return stepIDPattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// ValidateConfig performs schema and cross-field validation on the document.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return stackuperrors.NewValidationError("config", "configuration is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(cfg); err != nil {
		return convertValidationError(err)
	}

	stepIndex := make(map[string]int, len(cfg.Steps))

	for i, step := range cfg.Steps {
		if _, exists := stepIndex[step.ID]; exists {
			return stackuperrors.NewValidationError(fieldForStep(i, "id"), fmt.Sprintf("duplicate step id %q", step.ID), nil)
		}

		if err := validateStepPayload(i, step); err != nil {
			return err
		}

		stepIndex[step.ID] = i
	}

	for i, step := range cfg.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := stepIndex[dep]; !ok {
				return stackuperrors.NewValidationError(fieldForStep(i, "depends_on"), fmt.Sprintf("references unknown step %q", dep), nil)
			}
			if dep == step.ID {
				return stackuperrors.NewValidationError(fieldForStep(i, "depends_on"), "step cannot depend on itself", nil)
			}
		}
	}

	if cycle := detectCycle(cfg.Steps); len(cycle) > 0 {
		return stackuperrors.NewValidationError("steps", fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")), nil)
	}

	for i, val := range cfg.Validations {
		if err := validateValidationPayload(i, val); err != nil {
			return err
		}
	}

	return nil
}

func validateStepPayload(index int, step Step) error {
	var present bool
	switch step.Type {
	case "package":
		present = step.Package != nil
	case "repo":
		present = step.Repo != nil
	case "pip":
		present = step.Pip != nil
		if present && step.Pip.Requirements == "" && len(step.Pip.Packages) == 0 {
			return stackuperrors.NewValidationError(fieldForStep(index, "pip"), "requires either requirements or packages", nil)
		}
	case "download":
		present = step.Download != nil
	case "command":
		present = step.Command != nil
	case "serve":
		present = step.Serve != nil
	default:
		return stackuperrors.NewValidationError(fieldForStep(index, "type"), fmt.Sprintf("unknown step type %q", step.Type), nil)
	}

	if !present {
		return stackuperrors.NewValidationError(fieldForStep(index, step.Type), "step configuration missing", nil)
	}

	return nil
}

func validateValidationPayload(index int, val Validation) error {
	field := fmt.Sprintf("validations[%d]", index)
	switch val.Type {
	case "command_exists":
		if val.CommandExists == nil {
			return stackuperrors.NewValidationError(field, "command_exists payload missing", nil)
		}
	case "file_exists":
		if val.FileExists == nil {
			return stackuperrors.NewValidationError(field, "file_exists payload missing", nil)
		}
	case "path_contains":
		if val.PathContains == nil {
			return stackuperrors.NewValidationError(field, "path_contains payload missing", nil)
		}
	default:
		return stackuperrors.NewValidationError(field, fmt.Sprintf("unknown validation type %q", val.Type), nil)
	}
	return nil
}

// detectCycle runs a DFS over the dependency edges and returns the first
// cycle found, or nil.
func detectCycle(steps []Step) []string {
	const (
		unvisited = iota
		inProgress
		done
	)

	deps := make(map[string][]string, len(steps))
	for _, step := range steps {
		deps[step.ID] = step.DependsOn
	}

	state := make(map[string]int, len(steps))
	var cycle []string

	var visit func(id string, path []string) bool
	visit = func(id string, path []string) bool {
		switch state[id] {
		case inProgress:
			start := 0
			for i, p := range path {
				if p == id {
					start = i
					break
				}
			}
			cycle = append(append([]string(nil), path[start:]...), id)
			return true
		case done:
			return false
		}

		state[id] = inProgress
		for _, dep := range deps[id] {
			if visit(dep, append(path, id)) {
				return true
			}
		}
		state[id] = done
		return false
	}

	for _, step := range steps {
		if state[step.ID] == unvisited {
			if visit(step.ID, nil) {
				return cycle
			}
		}
	}

	return nil
}

func fieldForStep(index int, field string) string {
	return fmt.Sprintf("steps[%d].%s", index, field)
}

func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return stackuperrors.NewValidationError("config", invalid.Error(), err)
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return stackuperrors.NewValidationError(namespaceToField(fe.Namespace()), fmt.Sprintf("failed %q validation", fe.Tag()), err)
	}

	return stackuperrors.NewValidationError("config", err.Error(), err)
}

func namespaceToField(ns string) string {
	parts := strings.SplitN(ns, ".", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return ns
}
