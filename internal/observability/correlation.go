// ABOUTME: Run identifiers shared by logs, spans, audit events, and history
// ABOUTME: Generates UUID run IDs and carries them through the context

package observability

import (
	"context"

	"github.com/google/uuid"
)

// runIDKey is the context key for storing run IDs.
type runIDKey struct{}

// RunID uniquely identifies one pipeline run.
type RunID string

// String returns the string representation of the run ID.
func (r RunID) String() string {
	return string(r)
}

// NewRunID generates a new unique run ID.
func NewRunID() RunID {
	return RunID(uuid.New().String())
}

// ParseRunID validates s as a run ID.
func ParseRunID(s string) (RunID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return RunID(id.String()), nil
}

// WithRunID returns a new context with the run ID attached.
func WithRunID(ctx context.Context, id RunID) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext extracts the run ID from the context.
// Returns empty string if no run ID is present.
func RunIDFromContext(ctx context.Context) RunID {
	id, ok := ctx.Value(runIDKey{}).(RunID)
	if !ok {
		return ""
	}
	return id
}

// EnsureRunID returns ctx and its run ID, attaching a fresh one when ctx
// has none.
func EnsureRunID(ctx context.Context) (context.Context, RunID) {
	if id := RunIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewRunID()
	return WithRunID(ctx, id), id
}
