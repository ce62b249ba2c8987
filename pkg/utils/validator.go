package utils

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/turtacn/contatto/pkg/constants"
	"github.com/turtacn/contatto/pkg/errors"
)

var defaultValidator *validator.Validate

func init() {
	defaultValidator = validator.New()
	_ = defaultValidator.RegisterValidation("relay_duration", validateRelayDuration)
	_ = defaultValidator.RegisterValidation("hardware", validateHardware)
}

// ValidateStruct checks s against its `validate` tags. Each failed field is
// reported in the error metadata under its snake_case name.
func ValidateStruct(s interface{}) errors.ContattoError {
	err := defaultValidator.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.ErrInvalidArgument(err.Error())
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, toSnakeCase(fe.Field())+" "+formatValidationError(fe))
	}
	ce := errors.ErrInvalidArgument("validation failed: " + strings.Join(msgs, "; "))
	for _, fe := range fieldErrs {
		ce = ce.WithMetadata(toSnakeCase(fe.Field()), formatValidationError(fe))
	}
	return ce
}

// ValidRelayDuration reports whether ms is a valid relay mode: -1 for toggle or a 1..30000 ms pulse.
func ValidRelayDuration(ms int) bool {
	return ms == constants.RelayDurationToggle ||
		(ms >= constants.RelayDurationMinPulse && ms <= constants.RelayDurationMaxPulse)
}

func validateRelayDuration(fl validator.FieldLevel) bool {
	return ValidRelayDuration(int(fl.Field().Int()))
}

func validateHardware(fl validator.FieldLevel) bool {
	return constants.HardwareType(fl.Field().String()).Valid()
}

// formatValidationError creates a user-friendly error message for a validation error.
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "relay_duration":
		return fmt.Sprintf("must be %d (toggle) or between %d and %d ms",
			constants.RelayDurationToggle, constants.RelayDurationMinPulse, constants.RelayDurationMaxPulse)
	case "hardware":
		return "must be gate or relay"
	default:
		return fmt.Sprintf("failed on the '%s' tag", fe.Tag())
	}
}

var (
	matchFirstCap = regexp.MustCompile("(.)([A-Z][a-z]+)")
	matchAllCap   = regexp.MustCompile("([a-z0-9])([A-Z])")
)

// toSnakeCase converts a string from CamelCase to snake_case.
func toSnakeCase(str string) string {
	snake := matchFirstCap.ReplaceAllString(str, "${1}_${2}")
	snake = matchAllCap.ReplaceAllString(snake, "${1}_${2}")
	return strings.ToLower(snake)
}
