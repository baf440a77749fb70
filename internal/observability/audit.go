// ABOUTME: Audit logging for feed artifact changes
// ABOUTME: Records feed updates, artifact publication, and history pruning as audit events

package observability

import (
	"context"
	"log/slog"
	"time"
)

// Audit event type constants.
const (
	EventTypeUpdate  = "UPDATE"
	EventTypePublish = "PUBLISH"
	EventTypeHistory = "HISTORY"
)

// Audit action constants.
const (
	ActionCreate = "CREATE"
	ActionDelete = "DELETE"
)

// Audit result constants.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// FeedUpdateEvent describes the outcome of one pipeline run.
type FeedUpdateEvent struct {
	Feed      string
	Artifact  string
	Records   int
	SHA256    string
	ErrorCode string
	Success   bool
}

// AuditLogger provides structured audit logging for feed artifact changes.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger. A nil logger discards events.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = DiscardLogger()
	}
	return &AuditLogger{
		logger: logger,
	}
}

// LogFeedUpdate logs the result of a run against the output artifact.
// Failed runs are logged at warn level; the previous artifact is untouched.
func (a *AuditLogger) LogFeedUpdate(ctx context.Context, ev FeedUpdateEvent) {
	result := ResultSuccess
	level := slog.LevelInfo
	if !ev.Success {
		result = ResultFailure
		level = slog.LevelWarn
	}

	attrs := []any{
		slog.String("event_type", EventTypeUpdate),
		slog.String("action", ActionCreate),
		slog.String("actor", "system"),
		slog.String("feed", ev.Feed),
		slog.String("resource", ev.Artifact),
		slog.Int("records", ev.Records),
		slog.String("result", result),
		slog.String("run_id", RunIDFromContext(ctx).String()),
		slog.Time("timestamp", time.Now().UTC()),
	}
	if ev.SHA256 != "" {
		attrs = append(attrs, slog.String("sha256", ev.SHA256))
	}
	if ev.ErrorCode != "" {
		attrs = append(attrs, slog.String("error_code", ev.ErrorCode))
	}

	a.logger.Log(ctx, level, "audit_event", attrs...)
}

// LogPublish logs delivery of an artifact or notification to a sink.
func (a *AuditLogger) LogPublish(ctx context.Context, sink, destination string, success bool, details string) {
	result := ResultSuccess
	if !success {
		result = ResultFailure
	}

	a.logger.InfoContext(ctx, "audit_event",
		slog.String("event_type", EventTypePublish),
		slog.String("action", ActionCreate),
		slog.String("actor", "system"),
		slog.String("sink", sink),
		slog.String("resource", destination),
		slog.String("result", result),
		slog.String("details", RedactSensitive(details)),
		slog.String("run_id", RunIDFromContext(ctx).String()),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// LogHistoryPrune logs removal of old run records.
func (a *AuditLogger) LogHistoryPrune(ctx context.Context, removed, kept int) {
	a.logger.InfoContext(ctx, "audit_event",
		slog.String("event_type", EventTypeHistory),
		slog.String("action", ActionDelete),
		slog.String("actor", "operator"),
		slog.Int("removed", removed),
		slog.Int("kept", kept),
		slog.String("result", ResultSuccess),
		slog.Time("timestamp", time.Now().UTC()),
	)
}
