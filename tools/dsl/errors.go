package dsl

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedVersion is wrapped by the ValidationError returned for a
	// version other than Version.
	ErrUnsupportedVersion = errors.New("unsupported program version")
	// ErrNotObject is wrapped when the document is not a JSON object.
	ErrNotObject = errors.New("document is not a JSON object")
)

// ValidationError pins a validation failure to an op and field. OpIndex is -1
// for problems with the program envelope.
type ValidationError struct {
	OpIndex int
	Field   string
	Reason  string
	Err     error
}

func (e *ValidationError) Error() string {
	where := "program"
	if e.OpIndex >= 0 {
		where = fmt.Sprintf("ops[%d]", e.OpIndex)
	}
	if e.Field != "" {
		where += "." + e.Field
	}
	return fmt.Sprintf("%s: %s", where, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func envelopeError(field, format string, args ...any) *ValidationError {
	return &ValidationError{OpIndex: -1, Field: field, Reason: fmt.Sprintf(format, args...)}
}
