package transport

import (
	"errors"
	"fmt"
)

// ErrQueueExpired signals that a previously registered event queue was
// invalidated server-side and must be re-registered. The listener treats
// it as a state transition, never as a failure.
var ErrQueueExpired = errors.New("transport: event queue expired")

// Error is a transport-level failure. Transient errors (network,
// 5xx, rate limits) are safe to retry with backoff; non-transient ones
// (auth, malformed request) are not.
type Error struct {
	Op        string
	Status    int
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport: %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a transport error worth retrying.
func IsTransient(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Transient
}

// IsAuth reports whether err is an authentication or authorization
// failure, which is fatal to the listener and requires operator
// intervention.
func IsAuth(err error) bool {
	var te *Error
	return errors.As(err, &te) && (te.Status == 401 || te.Status == 403)
}
