// Package errs defines the failure kinds of the ingestion pipeline.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type Kind string

const (
	KindFetch   Kind = "fetch"
	KindStore   Kind = "store"
	KindPublish Kind = "publish"
)

// Error carries the failing component, the operation and whether a retry may succeed.
type Error struct {
	Kind      Kind
	Op        string // endpoint, key or statement the failure relates to
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Fetch(op string, transient bool, err error) *Error {
	return &Error{Kind: KindFetch, Op: op, Transient: transient, Err: err}
}

func Store(op string, transient bool, err error) *Error {
	return &Error{Kind: KindStore, Op: op, Transient: transient, Err: err}
}

func Publish(op string, transient bool, err error) *Error {
	return &Error{Kind: KindPublish, Op: op, Transient: transient, Err: err}
}

// IsKind reports whether err wraps an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsTransient reports whether err is marked transient, or is a timeout or
// cancellation that a later attempt may not hit.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Transient
	}
	return IsTimeout(err)
}

// IsTimeout reports deadline and network timeout errors.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
