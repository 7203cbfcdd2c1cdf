package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/turtacn/qrgate/pkg/errors"
)

// PurposeTag is the struct tag validating a QR purpose.
const PurposeTag = "qr_purpose"

var (
	defaultValidator = NewValidator()
	matchFirstCap    = regexp.MustCompile("(.)([A-Z][a-z]+)")
	matchAllCap      = regexp.MustCompile("([a-z0-9])([A-Z])")
)

// BindingTag is the struct tag read by both gin binding and ValidateStruct.
const BindingTag = "binding"

// NewValidator returns a validator with the custom tags registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName(BindingTag)
	RegisterCustomValidations(v)
	return v
}

// RegisterCustomValidations installs the custom tags on v. The HTTP layer uses
// it on gin's validator engine so binding and CLI validation agree.
func RegisterCustomValidations(v *validator.Validate) {
	_ = v.RegisterValidation(PurposeTag, validatePurpose)
}

// ValidateStruct validates a struct using the default validator.
// It returns a formatted AppError if validation fails.
func ValidateStruct(s interface{}) errors.AppError {
	err := defaultValidator.Struct(s)
	if err == nil {
		return nil
	}
	return ValidationError(err)
}

// ValidationError converts a validator error into an invalid_request AppError.
func ValidationError(err error) errors.AppError {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return errors.ErrInvalidRequest(err.Error())
	}
	fields := make(map[string]string, len(validationErrors))
	msgs := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		field := toSnakeCase(fe.Field())
		msg := formatValidationError(fe)
		fields[field] = msg
		msgs = append(msgs, field+" "+msg)
	}
	return errors.ErrInvalidRequest(strings.Join(msgs, "; ")).
		WithCause(err).
		WithMetadata("fields", fields)
}

func validatePurpose(fl validator.FieldLevel) bool {
	switch strings.ToUpper(fl.Field().String()) {
	case "ENTRY", "EXIT", "PAYMENT":
		return true
	}
	return false
}

// formatValidationError creates a user-friendly error message for a validation error.
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return "is required for this scope"
	case PurposeTag:
		return "must be one of: ENTRY EXIT PAYMENT"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "excludes":
		return fmt.Sprintf("must not contain '%s'", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed on the '%s' tag", fe.Tag())
	}
}

// toSnakeCase converts a string from CamelCase to snake_case.
func toSnakeCase(str string) string {
	snake := matchFirstCap.ReplaceAllString(str, "${1}_${2}")
	snake = matchAllCap.ReplaceAllString(snake, "${1}_${2}")
	return strings.ToLower(snake)
}
