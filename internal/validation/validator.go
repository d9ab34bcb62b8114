// Package validation wraps a shared go-playground/validator instance and translates its
// failures into errs.ErrValidation errors that name the violated constraint.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/errs"
	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Struct validates the struct tags of value.
func Struct(value any) error {
	return translate(getValidator().Struct(value), "")
}

// Var validates a single value against tag, reporting failures under field.
func Var(field string, value any, tag string) error {
	return translate(getValidator().Var(value, tag), field)
}

// translate converts validator output into an errs.ErrValidation describing the first
// violated constraint.
func translate(err error, field string) error {
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	fe := fieldErrors[0]
	name := field
	if name == "" {
		name = fieldName(fe.Field())
	}
	return fmt.Errorf("%w: %s", errs.ErrValidation, describeConstraint(name, fe))
}

// fieldName lower-cases the first letter, so FavoriteGenres reads favoriteGenres.
func fieldName(structField string) string {
	if structField == "" {
		return structField
	}
	return strings.ToLower(structField[:1]) + structField[1:]
}

func describeConstraint(name string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", name)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", name)
	case "min":
		if isLengthConstrained(fe) {
			return fmt.Sprintf("%s must contain at least %s items or characters", name, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "max":
		if isLengthConstrained(fe) {
			return fmt.Sprintf("%s must contain at most %s items or characters", name, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", name, fe.Tag())
	}
}

func isLengthConstrained(fe validator.FieldError) bool {
	switch fe.Kind().String() {
	case "string", "slice", "map", "array":
		return true
	default:
		return false
	}
}
