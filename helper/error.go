package helper

import "strings"

// Error is an error carrying a trace of the operations it passed through.
// The original error stays reachable through errors.Is and errors.As.
type Error struct {
	Original error
	Trace    []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Original == nil {
		return strings.Join(e.Trace, ": ")
	}
	return strings.Join(e.Trace, ": ") + ": " + e.Original.Error()
}

// Unwrap returns the original error.
func (e *Error) Unwrap() error {
	return e.Original
}

// NewError wraps err with the given trace step.
// If err already is an *Error the step is prepended to its trace instead of nesting.
func NewError(trace string, err error) error {
	if traced, ok := err.(*Error); ok {
		return &Error{
			Original: traced.Original,
			Trace:    append([]string{trace}, traced.Trace...),
		}
	}

	return &Error{
		Original: err,
		Trace:    []string{trace},
	}
}
