// Package apperr defines the error kinds every scrubnotes operation reports:
// validation, authentication, not-found and remote (collaborator) failures.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that branch on it.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindNotFound   Kind = "not_found"
	KindRemote     Kind = "remote"
)

// Sentinels matched with errors.Is against any *Error of the same kind.
var (
	ErrValidation = errors.New("validation failed")
	ErrAuth       = errors.New("not authenticated")
	ErrNotFound   = errors.New("not found")
	ErrRemote     = errors.New("remote failure")
)

// Error carries a kind, the operation that failed and a user-facing message.
// For remote failures Message is the collaborator's message, unmodified.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return sentinel(e.Kind) == target
}

func sentinel(k Kind) error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindAuth:
		return ErrAuth
	case KindNotFound:
		return ErrNotFound
	case KindRemote:
		return ErrRemote
	}
	return nil
}

// Validation reports bad input detected before any remote call.
func Validation(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

// Validationf is Validation with a format string.
func Validationf(op, format string, args ...any) *Error {
	return Validation(op, fmt.Sprintf(format, args...))
}

// Auth reports a missing, expired or invalid session.
func Auth(op string, err error) *Error {
	return &Error{Kind: KindAuth, Op: op, Message: "not authenticated", Err: err}
}

// NotFound reports that a row or object does not exist for the current user.
func NotFound(op, message string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: message}
}

// Remote wraps a collaborator failure, keeping its message verbatim.
func Remote(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: KindRemote, Op: op, Message: err.Error(), Err: err}
}

// KindOf returns the kind of err, defaulting to KindRemote for foreign errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindRemote
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return err.Error()
}
