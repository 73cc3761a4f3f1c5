package techaccess

import (
	"errors"
	"fmt"
)

// Grant state errors. They reach callers wrapped in *StateError and can be
// checked with errors.Is.
var (
	ErrGrantNotFound   = errors.New("grant: not found")
	ErrGrantNotOwned   = errors.New("grant: assigned to another technician")
	ErrGrantNotPending = errors.New("grant: not awaiting activation")
	ErrGrantExpired    = errors.New("grant: expired")
	ErrGrantOpen       = errors.New("grant: homeowner already has an open grant")
)

// StateError reports why an operation on a job was refused. The caller
// already holds a valid session, so the reason is not hidden.
type StateError struct {
	JobID  string
	Reason error
}

func (e *StateError) Error() string {
	if e.JobID == "" {
		return e.Reason.Error()
	}
	return fmt.Sprintf("job %s: %v", e.JobID, e.Reason)
}

func (e *StateError) Unwrap() error { return e.Reason }

// IsStateError reports whether err is or wraps a *StateError.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}
