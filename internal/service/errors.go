package service

import (
	"errors"
	"fmt"
)

// PermanentError marks a rule-level failure that must never be retried: the
// rule has already been driven to FAILED by the time it is returned.
// Everything else is treated as transient infrastructure trouble.
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

// IsPermanent reports whether err carries a PermanentError anywhere in its
// chain.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}
