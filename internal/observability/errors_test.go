// ABOUTME: Tests for structured error context on pipeline failures
// ABOUTME: Validates codes, categories, unwrapping, chain lookup, and slog integration

package observability

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestNewErrorContext(t *testing.T) {
	t.Parallel()

	ec := NewErrorContext("FETCH_FAILURE", CategoryTransient, "fetch")

	if ec.Code != "FETCH_FAILURE" {
		t.Errorf("Code = %q, want %q", ec.Code, "FETCH_FAILURE")
	}
	if ec.Category != CategoryTransient {
		t.Errorf("Category = %q, want %q", ec.Category, CategoryTransient)
	}
	if ec.Operation != "fetch" {
		t.Errorf("Operation = %q, want %q", ec.Operation, "fetch")
	}
}

func TestErrorContext_WithStack(t *testing.T) {
	t.Parallel()

	ec := NewErrorContext("WRITE_FAILURE", CategoryTransient, "write").WithStack()

	if ec.StackTrace == "" {
		t.Error("WithStack() should populate StackTrace")
	}
}

func TestErrorContext_WithDetails(t *testing.T) {
	t.Parallel()

	details := map[string]any{"header": []string{"a", "b"}}
	ec := NewErrorContext("UNRECOGNIZED_SCHEMA", CategoryPermanent, "detect").WithDetails(details)

	got, ok := ec.Details.(map[string]any)
	if !ok {
		t.Fatalf("Details type = %T, want map[string]any", ec.Details)
	}
	if _, ok := got["header"]; !ok {
		t.Error("Details should contain header")
	}
}

func TestErrorContext_Unwrap(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("no records")
	ec := NewErrorContext("ZERO_RECORDS", CategoryPermanent, "parse").
		WithError(fmt.Errorf("after parsing 3 lines: %w", sentinel))

	if !errors.Is(ec, sentinel) {
		t.Error("errors.Is() should find the wrapped sentinel")
	}

	msg := ec.Error()
	if !strings.HasPrefix(msg, "[ZERO_RECORDS] permanent: parse: ") {
		t.Errorf("Error() = %q, want code/category/operation prefix", msg)
	}
}

func TestErrorContext_IsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		category  string
		wantRetry bool
	}{
		{CategoryTransient, true},
		{CategoryPermanent, false},
		{CategoryUserError, false},
		{"unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			ec := NewErrorContext("TEST", tt.category, "op")
			if ec.IsRetryable() != tt.wantRetry {
				t.Errorf("IsRetryable() = %v, want %v", ec.IsRetryable(), tt.wantRetry)
			}
		})
	}
}

func TestErrorContext_LogValue(t *testing.T) {
	t.Parallel()

	ec := NewErrorContext("FETCH_FAILURE", CategoryTransient, "fetch").
		WithDetails(map[string]any{"status": 503}).
		WithError(errors.New("unexpected status code: 503"))

	val := ec.LogValue()
	if val.Kind() != slog.KindGroup {
		t.Fatalf("LogValue() kind = %v, want Group", val.Kind())
	}

	keys := make(map[string]bool)
	for _, attr := range val.Group() {
		keys[attr.Key] = true
	}
	for _, want := range []string{"code", "category", "operation", "is_retryable", "details", "error"} {
		if !keys[want] {
			t.Errorf("LogValue() missing key %q", want)
		}
	}
}

func TestAsErrorContext(t *testing.T) {
	t.Parallel()

	ec := NewErrorContext("WRITE_FAILURE", CategoryTransient, "write")
	wrapped := fmt.Errorf("run failed: %w", ec)

	got, ok := AsErrorContext(wrapped)
	if !ok || got != ec {
		t.Errorf("AsErrorContext() = %v, %v; want the wrapped context", got, ok)
	}
	if code := ErrorCode(wrapped); code != "WRITE_FAILURE" {
		t.Errorf("ErrorCode() = %q, want %q", code, "WRITE_FAILURE")
	}

	if _, ok := AsErrorContext(errors.New("plain")); ok {
		t.Error("AsErrorContext() ok = true for a plain error")
	}
	if code := ErrorCode(nil); code != "" {
		t.Errorf("ErrorCode(nil) = %q, want empty", code)
	}
}
