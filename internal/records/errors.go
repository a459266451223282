package records

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the store returns.
type Kind string

const (
	KindConnection Kind = "connection"
	KindQuota      Kind = "quota"
	KindValidation Kind = "validation"
	KindDuplicate  Kind = "duplicate"
	KindNotFound   Kind = "not_found"
)

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrConnection = &Error{Kind: KindConnection}
	ErrQuota      = &Error{Kind: KindQuota}
	ErrValidation = &Error{Kind: KindValidation}
	ErrDuplicate  = &Error{Kind: KindDuplicate}
	ErrNotFound   = &Error{Kind: KindNotFound}
)

// Error is returned by every Store method. Err keeps the backend cause
// for logs; callers display Reason.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
	Details map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Reason()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Reason is the human-readable message for display.
func (e *Error) Reason() string {
	if e.Message != "" {
		return e.Message
	}
	switch e.Kind {
	case KindConnection:
		return "cannot reach data store"
	case KindQuota:
		return "data store is busy, try again shortly"
	case KindValidation:
		return "invalid record"
	case KindDuplicate:
		return "record already exists"
	case KindNotFound:
		return "record no longer exists"
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or "" when it is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Reason returns the display message of err.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason()
	}
	if err == nil {
		return ""
	}
	return "unexpected error"
}

func validationError(op, msg string, details map[string]any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: msg, Details: details}
}
