package timeline

import (
	"errors"
	"fmt"
)

// StateErrorCode categorizes registry misuse.
type StateErrorCode string

const (
	// ErrCodeBuilderClosed indicates a registration on a built builder.
	ErrCodeBuilderClosed StateErrorCode = "BUILDER_CLOSED"

	// ErrCodeForeignQuery indicates a query whose cell is not registered at
	// its index in the schema it was used against.
	ErrCodeForeignQuery StateErrorCode = "FOREIGN_QUERY"
)

// StateError reports a configuration error. It is returned to the caller
// and never retried.
type StateError struct {
	Code    StateErrorCode
	Message string
	Index   int
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsBuilderClosed returns true if err is a BUILDER_CLOSED state error.
func IsBuilderClosed(err error) bool {
	var se *StateError
	return errors.As(err, &se) && se.Code == ErrCodeBuilderClosed
}

// IsForeignQuery returns true if err is a FOREIGN_QUERY state error.
func IsForeignQuery(err error) bool {
	var se *StateError
	return errors.As(err, &se) && se.Code == ErrCodeForeignQuery
}

// ErrNegativeDuration is returned when elapsing a negative duration.
var ErrNegativeDuration = errors.New("timeline: negative duration")

func builderClosedError(index int) *StateError {
	return &StateError{
		Code:    ErrCodeBuilderClosed,
		Message: "a schema has already been built from this builder; call Extend to derive a new builder from the built schema",
		Index:   index,
	}
}

func foreignQueryError(index int, name string) *StateError {
	return &StateError{
		Code:    ErrCodeForeignQuery,
		Message: fmt.Sprintf("query %d (%s) is not registered in this schema", index, name),
		Index:   index,
	}
}
