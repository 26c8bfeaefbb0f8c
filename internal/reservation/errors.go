package reservation

import (
	"errors"
	"fmt"
	"time"
)

type ErrorKind string

const (
	KindClosedDate               ErrorKind = "CLOSED_DATE"
	KindDuplicateReservation     ErrorKind = "DUPLICATE_RESERVATION"
	KindCapacityExceeded         ErrorKind = "CAPACITY_EXCEEDED"
	KindServiceUnavailable       ErrorKind = "SERVICE_UNAVAILABLE"
	KindInvalidStateTransition   ErrorKind = "INVALID_STATE_TRANSITION"
	KindCancellationWindowClosed ErrorKind = "CANCELLATION_WINDOW_CLOSED"
	KindPersistenceError         ErrorKind = "PERSISTENCE_ERROR"
	KindInvalidRequest           ErrorKind = "INVALID_REQUEST"
	KindNotFound                 ErrorKind = "NOT_FOUND"
	KindForbidden                ErrorKind = "FORBIDDEN"
)

// Error is returned by every Service operation. Match it with errors.Is
// against the Err* values, which compare by Kind only.
type Error struct {
	Kind    ErrorKind
	Message string
	// Deadline is the last instant a user cancellation was allowed.
	Deadline *time.Time
	Err      error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrClosedDate               = &Error{Kind: KindClosedDate}
	ErrDuplicateReservation     = &Error{Kind: KindDuplicateReservation}
	ErrCapacityExceeded         = &Error{Kind: KindCapacityExceeded}
	ErrServiceUnavailable       = &Error{Kind: KindServiceUnavailable}
	ErrInvalidStateTransition   = &Error{Kind: KindInvalidStateTransition}
	ErrCancellationWindowClosed = &Error{Kind: KindCancellationWindowClosed}
	ErrPersistence              = &Error{Kind: KindPersistenceError}
	ErrInvalidRequest           = &Error{Kind: KindInvalidRequest}
	ErrNotFound                 = &Error{Kind: KindNotFound}
	ErrForbidden                = &Error{Kind: KindForbidden}
)

func newError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind of err, or "" when err did not come from this package.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
