package ingest

import (
	"errors"
	"fmt"
)

// PermanentError marks a failure that retrying cannot fix, such as a
// malformed email record. The queue consumer acks these instead of
// redelivering them.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps a failure as non-retryable
func Permanent(reason string, err error) error {
	return &PermanentError{Reason: reason, Err: err}
}

// IsPermanent reports whether err is non-retryable
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
