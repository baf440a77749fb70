// ABOUTME: Tests for pipeline wiring in the CLI app
// ABOUTME: Checks the startup log masks credentials and reports the GCS target

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/config"
	"github.com/hikmaai-io/hikmaai-iocfeed/internal/gcs"
)

func TestNewApp_LogsRedactedSource(t *testing.T) {
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Feed.URL = "https://threatfox.test/export/csv/full/?auth_key=url-secret"
	cfg.Feed.AuthKey = "header-secret"
	cfg.Output.Path = filepath.Join(dir, "threatfox.csv")
	cfg.History.Enabled = false
	cfg.Log.Format = "json"
	cfg.GCS.Bucket = "gs://ioc-feeds/feeds"
	cfg.GCS.EmulatorHost = "localhost:1"

	var logs bytes.Buffer
	a, err := newApp(context.Background(), cfg, newThreatFoxFetcher(cfg.Feed), &logs)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.Close(context.Background())

	out := logs.String()
	for _, secret := range []string{"header-secret", "url-secret"} {
		if strings.Contains(out, secret) {
			t.Errorf("log leaks %q:\n%s", secret, out)
		}
	}
	for _, want := range []string{
		`"msg":"feed source configured"`,
		`"Auth-Key":"[REDACTED]"`,
		`"tracing":false`,
		`"msg":"GCS upload enabled"`,
		`"object":"feeds/threatfox.csv"`,
		`"emulator":true`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %s:\n%s", want, out)
		}
	}

	if len(a.sinks) != 1 {
		t.Fatalf("sinks = %d, want 1", len(a.sinks))
	}
	if _, ok := a.sinks[0].(*gcs.Uploader); !ok {
		t.Errorf("sink = %T, want *gcs.Uploader", a.sinks[0])
	}
}
