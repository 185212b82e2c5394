package wire

import (
	stderrors "errors"
)

// ErrKind categorizes request-handling failures so the connection boundary
// can map them onto the closed status-code set without ever leaking the
// underlying fault text to the peer.
type ErrKind uint8

const (
	KindMalformed ErrKind = iota + 1
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindMethodUnknown
	KindTooLarge
	KindRateLimited
	KindIntegrity
	KindInternal
)

// Status maps an error kind to its caller-visible status code. Unknown
// methods are deliberately aliased to not-found so that verb scanning in
// covert mode learns nothing a bad path would not.
func (k ErrKind) Status() int {
	switch k {
	case KindMalformed, KindIntegrity:
		return StatusBadRequest
	case KindUnauthenticated:
		return StatusUnauthorized
	case KindForbidden:
		return StatusForbidden
	case KindNotFound, KindMethodUnknown:
		return StatusNotFound
	case KindTooLarge:
		return StatusPayloadTooLarge
	case KindRateLimited:
		return StatusTooManyRequests
	default:
		return StatusInternalServerError
	}
}

type Error struct {
	Kind  ErrKind
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Inner == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Inner.Error()
}

func (e *Error) Unwrap() error { return e.Inner }

func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind ErrKind, msg string, inner error) *Error {
	return &Error{Kind: kind, Msg: msg, Inner: inner}
}

func IsKind(err error, kind ErrKind) bool {
	var we *Error
	if stderrors.As(err, &we) {
		return we.Kind == kind
	}
	return false
}

// KindOf extracts the kind from err, defaulting to KindInternal for
// anything that is not a wire error.
func KindOf(err error) ErrKind {
	var we *Error
	if stderrors.As(err, &we) {
		return we.Kind
	}
	return KindInternal
}
