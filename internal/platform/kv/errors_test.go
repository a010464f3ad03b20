package kv

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapRPCErrorCategories(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{codes.NotFound, true, false, false},
		{codes.Aborted, false, true, false},
		{codes.FailedPrecondition, false, true, false},
		{codes.Unavailable, false, false, true},
		{codes.ResourceExhausted, false, false, true},
		{codes.PermissionDenied, false, false, false},
	}
	for _, tc := range cases {
		err := wrapRPCError("op", status.Error(tc.code, "boom"))
		var kvErr *Error
		if !errors.As(err, &kvErr) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if kvErr.IsNotFound() != tc.notFound || kvErr.IsConflict() != tc.conflict || kvErr.IsUnavailable() != tc.unavailable {
			t.Fatalf("%s: unexpected classification %+v", tc.code, kvErr)
		}
	}
}

func TestWrapRPCErrorPassesCancellation(t *testing.T) {
	if err := wrapRPCError("op", status.Error(codes.Canceled, "gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := wrapRPCError("op", fmt.Errorf("wrapped: %w", context.DeadlineExceeded)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if wrapRPCError("op", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestIsNotFoundThroughWrapping(t *testing.T) {
	err := fmt.Errorf("cart: load: %w", notFound("kv.memory.get", "ns", KeyCart))
	if !IsNotFound(err) {
		t.Fatalf("expected wrapped not found to be detected")
	}
	if !errors.Is(err, ErrMissing) {
		t.Fatalf("expected ErrMissing in chain")
	}
	if IsNotFound(errors.New("other")) {
		t.Fatalf("plain errors are not not-found")
	}
}
