package missionmodel

import (
	"errors"
	"fmt"
)

// Validation error codes (E200-E299)
const (
	ErrUnknownActivityType = "E201" // directive names an unregistered type
	ErrInvalidArgument     = "E202" // argument has the wrong type or value
	ErrDuplicateActivity   = "E203" // two directives share an id
	ErrMissingID           = "E204" // directive has no id
	ErrNegativeOffset      = "E205" // start offset before the plan start
	ErrInvalidConfig       = "E206" // mission-model configuration rejected
)

// ErrUnknownType is returned by Model.NewTask for unregistered types.
var ErrUnknownType = errors.New("unknown activity type")

// ValidationError describes one problem with a directive or configuration.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ConfigError wraps the validation errors of a mission-model configuration.
type ConfigError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid model config: " + e.Errors[0].Error()
	}
	return fmt.Sprintf("invalid model config: %s (and %d more)", e.Errors[0].Error(), len(e.Errors)-1)
}

// IsConfigError returns true if err is or wraps *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
