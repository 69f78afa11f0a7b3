package store

import (
	"errors"
	"fmt"
)

// ErrKind classifies a store failure per the taxonomy in spec §7. Callers
// should branch on kind via errors.Is/errors.As, not on message text.
type ErrKind int

const (
	KindInternal ErrKind = iota
	KindNotFound
	KindConflict
	KindInvalidState
	KindUnauthorized
	KindExternalFailure
	KindTimeout
)

func (k ErrKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindInvalidState:
		return "InvalidState"
	case KindUnauthorized:
		return "Unauthorized"
	case KindExternalFailure:
		return "ExternalFailure"
	case KindTimeout:
		return "Timeout"
	default:
		return "Internal"
	}
}

// Error is a typed-kind error wrapping an underlying cause.
type Error struct {
	Kind ErrKind
	Op   string // operation that failed, e.g. "CreateStory"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, &store.Error{Kind: store.KindNotFound}) style
// checks: any *Error target matches when its Kind equals e's Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newErr(kind ErrKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFound builds a KindNotFound error.
func NotFound(op string, err error) error { return newErr(KindNotFound, op, err) }

// Conflict builds a KindConflict error.
func Conflict(op string, err error) error { return newErr(KindConflict, op, err) }

// InvalidState builds a KindInvalidState error.
func InvalidState(op string, err error) error { return newErr(KindInvalidState, op, err) }

// Unauthorized builds a KindUnauthorized error.
func Unauthorized(op string, err error) error { return newErr(KindUnauthorized, op, err) }

// ExternalFailure builds a KindExternalFailure error.
func ExternalFailure(op string, err error) error { return newErr(KindExternalFailure, op, err) }

// Timeout builds a KindTimeout error.
func Timeout(op string, err error) error { return newErr(KindTimeout, op, err) }

// KindOf extracts the ErrKind of err, defaulting to KindInternal when err
// is not (or does not wrap) a *Error.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsExternal reports whether err is an ExternalFailure or Timeout — the two
// kinds that spec §7 says must never be pipeline-fatal.
func IsExternal(err error) bool {
	k := KindOf(err)
	return k == KindExternalFailure || k == KindTimeout
}
