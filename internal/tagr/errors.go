package tagr

import (
	"errors"
	"fmt"
)

// Kind classifies core errors so callers can present them without string
// matching. Query syntax errors are a separate type owned by the query
// package; integrity findings are returned as data, not errors.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAccess
	KindValidity
	KindInvalidState
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindAccess:
		return "access denied"
	case KindValidity:
		return "invalid input"
	case KindInvalidState:
		return "invalid state"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is a classified core error. Msg is human-readable; Err is the
// causing error, if any.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NotFoundf builds a KindNotFound error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Accessf builds a KindAccess error.
func Accessf(format string, args ...any) *Error {
	return &Error{Kind: KindAccess, Msg: fmt.Sprintf(format, args...)}
}

// Validityf builds a KindValidity error.
func Validityf(format string, args ...any) *Error {
	return &Error{Kind: KindValidity, Msg: fmt.Sprintf(format, args...)}
}

// InvalidStatef builds a KindInvalidState error.
func InvalidStatef(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Msg: fmt.Sprintf(format, args...)}
}

// Conflictf builds a KindConflict error.
func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, or KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// IOError reports a failed filesystem operation during reconciliation.
// Partially applied filesystem state may persist after it: the engine does
// not undo completed stages, so Stage, Src and Dst carry enough detail for
// the caller to resolve matters by hand.
type IOError struct {
	Stage string // which step failed: "copy", "move", "hash", "remove", "mkdir"
	Src   string
	Dst   string
	Err   error
}

func (e *IOError) Error() string {
	if e.Dst != "" {
		return fmt.Sprintf("io failure during %s (src=%s dst=%s): %v", e.Stage, e.Src, e.Dst, e.Err)
	}
	return fmt.Sprintf("io failure during %s (path=%s): %v", e.Stage, e.Src, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsIOFailure reports whether err is (or wraps) an IOError.
func IsIOFailure(err error) bool {
	var e *IOError
	return errors.As(err, &e)
}
