// Package validation provides a small fluent builder for request
// validation. Each field registers checks; Validate collects every
// failure into a single validation error.
package validation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	errors "github.com/sokoworks/payment-hub/internal"
)

type ValidatorFunc func() *errors.ValidationError

type ValidationBuilder struct {
	validators []ValidatorFunc
}

func NewValidationBuilder() *ValidationBuilder {
	return &ValidationBuilder{}
}

type FieldValidator struct {
	builder *ValidationBuilder
	field   string
	value   interface{}
}

func (vb *ValidationBuilder) Field(name string, value interface{}) *FieldValidator {
	return &FieldValidator{
		builder: vb,
		field:   name,
		value:   value,
	}
}

func (fv *FieldValidator) add(fn ValidatorFunc) *FieldValidator {
	fv.builder.validators = append(fv.builder.validators, fn)
	return fv
}

func (fv *FieldValidator) fail(message string, code errors.ErrorCode) *errors.ValidationError {
	return &errors.ValidationError{
		Field:   fv.field,
		Message: message,
		Code:    string(code),
	}
}

func (fv *FieldValidator) Required() *FieldValidator {
	return fv.add(func() *errors.ValidationError {
		switch v := fv.value.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return fv.fail(fmt.Sprintf("%s is required", fv.field), errors.ErrCodeValidationFailed)
			}
		case *string:
			if v == nil || strings.TrimSpace(*v) == "" {
				return fv.fail(fmt.Sprintf("%s is required", fv.field), errors.ErrCodeValidationFailed)
			}
		case int64:
			if v == 0 {
				return fv.fail(fmt.Sprintf("%s is required", fv.field), errors.ErrCodeValidationFailed)
			}
		case decimal.Decimal:
			if v.IsZero() {
				return fv.fail(fmt.Sprintf("%s is required", fv.field), errors.ErrCodeValidationFailed)
			}
		default:
			if fv.value == nil {
				return fv.fail(fmt.Sprintf("%s is required", fv.field), errors.ErrCodeValidationFailed)
			}
		}
		return nil
	})
}

func (fv *FieldValidator) MinLength(min int, code errors.ErrorCode) *FieldValidator {
	return fv.add(func() *errors.ValidationError {
		if v, ok := fv.value.(string); ok && v != "" && len(v) < min {
			return fv.fail(fmt.Sprintf("%s must be at least %d characters", fv.field, min), code)
		}
		return nil
	})
}

func (fv *FieldValidator) MaxLength(max int, code errors.ErrorCode) *FieldValidator {
	return fv.add(func() *errors.ValidationError {
		if v, ok := fv.value.(string); ok && len(v) > max {
			return fv.fail(fmt.Sprintf("%s must be at most %d characters", fv.field, max), code)
		}
		return nil
	})
}

func (fv *FieldValidator) Email() *FieldValidator {
	return fv.add(func() *errors.ValidationError {
		if v, ok := fv.value.(string); ok && v != "" {
			if !strings.Contains(v, "@") || strings.HasPrefix(v, "@") || strings.HasSuffix(v, "@") {
				return fv.fail(fmt.Sprintf("%s must be a valid email address", fv.field), errors.ErrCodeValidationFailed)
			}
		}
		return nil
	})
}

func (fv *FieldValidator) OneOf(values []string, code errors.ErrorCode) *FieldValidator {
	return fv.add(func() *errors.ValidationError {
		v, ok := fv.value.(string)
		if !ok || v == "" {
			return nil
		}
		for _, allowed := range values {
			if v == allowed {
				return nil
			}
		}
		return fv.fail(fmt.Sprintf("%s must be one of: %s", fv.field, strings.Join(values, ", ")), code)
	})
}

func (fv *FieldValidator) DecimalPositive(code errors.ErrorCode) *FieldValidator {
	return fv.add(func() *errors.ValidationError {
		if v, ok := fv.value.(decimal.Decimal); ok && !v.IsPositive() {
			return fv.fail(fmt.Sprintf("%s must be greater than zero", fv.field), code)
		}
		return nil
	})
}

func (fv *FieldValidator) DecimalMax(max int64, code errors.ErrorCode) *FieldValidator {
	return fv.add(func() *errors.ValidationError {
		if v, ok := fv.value.(decimal.Decimal); ok && v.GreaterThan(decimal.NewFromInt(max)) {
			return fv.fail(fmt.Sprintf("%s must not exceed %d", fv.field, max), code)
		}
		return nil
	})
}

// DecimalScale rejects values with more than the given number of decimal
// places. Money amounts carry at most two.
func (fv *FieldValidator) DecimalScale(places int32, code errors.ErrorCode) *FieldValidator {
	return fv.add(func() *errors.ValidationError {
		if v, ok := fv.value.(decimal.Decimal); ok && !v.Equal(v.Round(places)) {
			return fv.fail(fmt.Sprintf("%s must have at most %d decimal places", fv.field, places), code)
		}
		return nil
	})
}

func (fv *FieldValidator) Custom(check func(value interface{}) bool, message string, code errors.ErrorCode) *FieldValidator {
	return fv.add(func() *errors.ValidationError {
		if !check(fv.value) {
			return fv.fail(message, code)
		}
		return nil
	})
}

func (vb *ValidationBuilder) Validate() *errors.AppError {
	var failures []errors.ValidationError
	for _, validate := range vb.validators {
		if failure := validate(); failure != nil {
			failures = append(failures, *failure)
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return errors.NewValidationError("Validation failed", errors.ErrCodeValidationFailed).
		WithDetails(errors.ValidationErrors{Errors: failures})
}
