package server

import (
	"errors"
	"strings"
	"testing"
)

func TestDispatchErrorUnwrap(t *testing.T) {
	inner := errors.New("db connection refused")
	err := &DispatchError{RequestID: "req-1", Method: "GET", Path: "/x", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("DispatchError should unwrap to the handler error")
	}
	for _, part := range []string{"req-1", "GET", "/x", "db connection refused"} {
		if !strings.Contains(err.Error(), part) {
			t.Errorf("Error() = %q, missing %q", err.Error(), part)
		}
	}
}

func TestLimitErrorIsBodyTooLarge(t *testing.T) {
	err := &LimitError{Limit: "file size", Max: 1024}
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Error("LimitError should match ErrBodyTooLarge")
	}
	if !strings.Contains(err.Error(), "file size") || !strings.Contains(err.Error(), "1024") {
		t.Errorf("Error() = %q", err.Error())
	}
}
