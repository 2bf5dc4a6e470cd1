package types

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure so callers can branch without string matching
type Kind int

const (
	KindUnknown Kind = iota
	KindTransport
	KindProtocol
	KindQuota
	KindPersistence
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindQuota:
		return "quota"
	case KindPersistence:
		return "persistence"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Error is a tagged pipeline error
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare sentinel such as ErrRejected by kind and op
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Err != nil {
		return false
	}
	return e.Kind == t.Kind && e.Op == t.Op
}

// ErrRejected marks an item the trade engine did not qualify
var ErrRejected = &Error{Kind: KindRejected, Op: "qualify"}

// E builds a tagged error
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost tagged error in the chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
