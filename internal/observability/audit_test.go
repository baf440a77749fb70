// ABOUTME: Tests for audit logging of feed artifact changes
// ABOUTME: Validates update, publish, and prune events and their structured fields

package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func decodeAudit(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var result map[string]any
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse log output: %v\nOutput: %s", err, buf.String())
	}
	return result
}

func TestAuditLogger_LogFeedUpdate(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	id := NewRunID()
	ctx := WithRunID(context.Background(), id)
	al.LogFeedUpdate(ctx, FeedUpdateEvent{
		Feed:     "threatfox",
		Artifact: "/data/threatfox.csv",
		Records:  42,
		SHA256:   "abc",
		Success:  true,
	})

	result := decodeAudit(t, &buf)
	if result["msg"] != "audit_event" {
		t.Errorf("msg = %v, want audit_event", result["msg"])
	}
	if result["event_type"] != EventTypeUpdate {
		t.Errorf("event_type = %v, want %s", result["event_type"], EventTypeUpdate)
	}
	if result["result"] != ResultSuccess {
		t.Errorf("result = %v, want %s", result["result"], ResultSuccess)
	}
	if result["records"] != float64(42) {
		t.Errorf("records = %v, want 42", result["records"])
	}
	if result["run_id"] != id.String() {
		t.Errorf("run_id = %v, want %s", result["run_id"], id)
	}
	if _, ok := result["error_code"]; ok {
		t.Error("error_code should be absent on success")
	}
}

func TestAuditLogger_LogFeedUpdate_Failure(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.LogFeedUpdate(context.Background(), FeedUpdateEvent{
		Feed:      "threatfox",
		ErrorCode: "FETCH_FAILURE",
	})

	result := decodeAudit(t, &buf)
	if result["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", result["level"])
	}
	if result["result"] != ResultFailure {
		t.Errorf("result = %v, want %s", result["result"], ResultFailure)
	}
	if result["error_code"] != "FETCH_FAILURE" {
		t.Errorf("error_code = %v, want FETCH_FAILURE", result["error_code"])
	}
}

func TestAuditLogger_LogPublish_Redacts(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.LogPublish(context.Background(), "gcs", "gs://bucket/threatfox.csv", false, "upload failed: token=abc123")

	result := decodeAudit(t, &buf)
	if result["event_type"] != EventTypePublish {
		t.Errorf("event_type = %v, want %s", result["event_type"], EventTypePublish)
	}
	if result["details"] != "upload failed: token=[REDACTED]" {
		t.Errorf("details = %v, want redacted token", result["details"])
	}
}

func TestAuditLogger_LogHistoryPrune(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.LogHistoryPrune(context.Background(), 3, 10)

	result := decodeAudit(t, &buf)
	if result["action"] != ActionDelete {
		t.Errorf("action = %v, want %s", result["action"], ActionDelete)
	}
	if result["removed"] != float64(3) || result["kept"] != float64(10) {
		t.Errorf("removed/kept = %v/%v, want 3/10", result["removed"], result["kept"])
	}
}

func TestNewAuditLogger_Nil(t *testing.T) {
	t.Parallel()

	al := NewAuditLogger(nil)
	al.LogHistoryPrune(context.Background(), 0, 0)
}
