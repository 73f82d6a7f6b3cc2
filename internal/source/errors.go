package source

import (
	"errors"
	"fmt"
)

// FetchKind classifies portal/file fetch failures. AuthRejected is terminal;
// Unreachable and Timeout are retried before surfacing.
type FetchKind int

const (
	Unreachable FetchKind = iota
	AuthRejected
	Timeout
	MalformedResponse
)

func (k FetchKind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case AuthRejected:
		return "auth rejected"
	case Timeout:
		return "timeout"
	case MalformedResponse:
		return "malformed response"
	}
	return "unknown"
}

// FetchError is a classified failure of a network or file fetch.
type FetchError struct {
	Kind FetchKind
	Op   string // e.g. "get_live_streams"
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps err with a kind and the operation that failed.
func NewFetchError(kind FetchKind, op string, err error) *FetchError {
	return &FetchError{Kind: kind, Op: op, Err: err}
}

// FetchKindOf returns the FetchKind of err and true when err (or anything it
// wraps) is a FetchError.
func FetchKindOf(err error) (FetchKind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// IsAuthRejected reports whether err is a terminal credential rejection.
func IsAuthRejected(err error) bool {
	k, ok := FetchKindOf(err)
	return ok && k == AuthRejected
}

// IsTransient reports whether err is worth retrying (unreachable/timeout).
func IsTransient(err error) bool {
	k, ok := FetchKindOf(err)
	return ok && (k == Unreachable || k == Timeout)
}

// ValidationError marks user input that fails validation before any network
// call is attempted (e.g. empty host on an account).
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// PersistenceError marks a failed disk write. The prior on-disk state is
// always left intact by the writer.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
