package telemetry

import "fmt"

// NewError creates an error with the given message, matching the
// teacher's kernel/utils/errors.go idiom.
func NewError(msg string) error {
	return fmt.Errorf("%s", msg)
}

// WrapError wraps err with additional context, or creates a plain error
// from msg if err is nil.
func WrapError(err error, msg string) error {
	if err == nil {
		return fmt.Errorf("%s", msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// TimeoutError creates an error describing a timed-out operation.
func TimeoutError(operation string) error {
	return fmt.Errorf("%s: operation timed out", operation)
}
