package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to pick a response (HTTP status, exit code).
type Kind int

const (
	// StoreFailure is the zero value: anything not explicitly classified is treated as
	// an infrastructure failure.
	StoreFailure Kind = iota
	NotFound
	Conflict
	Validation
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Validation:
		return "validation"
	default:
		return "store_failure"
	}
}

// Error is a classified error with a stable machine code.
// Sentinels are *Error values compared with errors.Is.
type Error struct {
	Kind Kind
	Code string
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Is matches sentinels by code so wrapped copies (see Wrap) still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, msg: msg}
}

// Wrap attaches a cause to a classification. A nil cause returns nil.
func Wrap(kind Kind, code string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Code: code, msg: code, err: err}
}

// Store marks err as a persistence failure for op.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: StoreFailure, Code: "store_failure", msg: op, err: err}
}

// Invalid builds a validation error with a formatted message.
func Invalid(code, format string, args ...any) error {
	return &Error{Kind: Validation, Code: code, msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the classification of err. Unclassified errors are StoreFailure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return StoreFailure
}

// CodeOf returns the stable code of err, or "store_failure" when unclassified.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "store_failure"
}
