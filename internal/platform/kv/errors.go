package kv

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrMissing is wrapped by errors describing an absent key.
	ErrMissing = errors.New("kv: key not found")
	// ErrInvalidAddress reports an empty namespace or malformed key.
	ErrInvalidAddress = errors.New("kv: invalid namespace or key")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("kv: store is closed")
)

type category int

const (
	categoryNone category = iota
	categoryNotFound
	categoryConflict
	categoryUnavailable
)

// Error classifies backend failures the same way across every Store implementation.
type Error struct {
	op  string
	err error
	cat category
}

func newError(op string, err error, cat category) *Error {
	return &Error{op: op, err: err, cat: cat}
}

func notFound(op, namespace, key string) *Error {
	return newError(op, fmt.Errorf("%w: %s/%s", ErrMissing, namespace, key), categoryNotFound)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing key.
func (e *Error) IsNotFound() bool { return e != nil && e.cat == categoryNotFound }

// IsConflict reports whether the error represents a conflicting update.
func (e *Error) IsConflict() bool { return e != nil && e.cat == categoryConflict }

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool { return e != nil && e.cat == categoryUnavailable }

// IsNotFound reports whether err (or anything it wraps) is a missing-key error.
func IsNotFound(err error) bool {
	var classified interface{ IsNotFound() bool }
	return errors.As(err, &classified) && classified.IsNotFound()
}

// IsUnavailable reports whether err is a transient backend failure.
func IsUnavailable(err error) bool {
	var classified interface{ IsUnavailable() bool }
	return errors.As(err, &classified) && classified.IsUnavailable()
}

// wrapRPCError maps gRPC status codes returned by cloud backends onto error categories.
// Context cancellations are passed through.
func wrapRPCError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.NotFound:
		return newError(op, fmt.Errorf("%w: %v", ErrMissing, err), categoryNotFound)
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		return newError(op, err, categoryConflict)
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return newError(op, err, categoryUnavailable)
	}
	var kvErr *Error
	if errors.As(err, &kvErr) {
		return kvErr
	}
	return newError(op, err, categoryNone)
}
