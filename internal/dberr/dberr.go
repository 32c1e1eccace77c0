// Package dberr defines the error taxonomy shared by the access layer. Backend
// failures are classified into a Kind at the backend boundary; the original
// driver message is kept as diagnostic text.
package dberr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	Internal Kind = iota
	NotFound
	AlreadyExists
	ConstraintViolation
	TypeMismatch
	MissingParameter
	UnknownForeignKeyTarget
	BackendUnavailable
	SyntaxError
	InvalidRequest
)

var kindNames = [...]string{
	Internal:                "INTERNAL",
	NotFound:                "NOT_FOUND",
	AlreadyExists:           "ALREADY_EXISTS",
	ConstraintViolation:     "CONSTRAINT_VIOLATION",
	TypeMismatch:            "TYPE_MISMATCH",
	MissingParameter:        "MISSING_PARAMETER",
	UnknownForeignKeyTarget: "UNKNOWN_FOREIGN_KEY_TARGET",
	BackendUnavailable:      "BACKEND_UNAVAILABLE",
	SyntaxError:             "SYNTAX_ERROR",
	InvalidRequest:          "INVALID_REQUEST",
}

// String returns the upper-snake code used in acknowledgements and stream errors.
func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("KIND_%d", int(k))
}

// Error is a classified failure. Msg is the human-readable summary; Err, when
// set, carries the backend error it was derived from.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, dberr.New(dberr.NotFound, ""))
// style checks work without comparing messages.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
