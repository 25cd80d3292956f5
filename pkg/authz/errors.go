package authz

import (
	"errors"
	"fmt"
)

// Kind classifies an authorization or mutation failure
type Kind string

const (
	KindForbidden              Kind = "forbidden"
	KindNotFound               Kind = "not_found"
	KindSelfModificationDenied Kind = "self_modification_denied"
	KindConstraintViolation    Kind = "constraint_violation"
	KindAuditWriteFailed       Kind = "audit_write_failed"
	KindInvalid                Kind = "invalid"
)

// Error is the typed failure returned by the engine.
// Two errors match under errors.Is when their kinds match.
type Error struct {
	Kind   Kind
	Reason Reason
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Reason)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so sentinels work with wrapped instances
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrForbidden              = &Error{Kind: KindForbidden}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrSelfModificationDenied = &Error{Kind: KindSelfModificationDenied}
	ErrConstraintViolation    = &Error{Kind: KindConstraintViolation}
	ErrAuditWriteFailed       = &Error{Kind: KindAuditWriteFailed}
	ErrInvalid                = &Error{Kind: KindInvalid}
)

// NewError builds an error of the given kind
func NewError(kind Kind, reason Reason, msg string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Msg: msg, Err: cause}
}

// Invalidf builds a KindInvalid error with a formatted message
func Invalidf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalid, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, or "" if err is not an *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// PublicMessage renders err for an end user. Forbidden and not-found
// outcomes never describe the row or the rule that matched.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	switch e.Kind {
	case KindForbidden:
		return "not permitted"
	case KindNotFound:
		return "not found"
	case KindSelfModificationDenied:
		return "you cannot change your own role or deactivate your own account"
	case KindConstraintViolation:
		if e.Reason == ReasonDuplicate {
			return "already exists"
		}
		return "still in use"
	case KindAuditWriteFailed:
		return "internal error, please retry"
	case KindInvalid:
		if e.Msg != "" {
			return e.Msg
		}
		return "invalid request"
	}
	return "internal error"
}
