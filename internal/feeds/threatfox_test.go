// ABOUTME: Tests for the ThreatFox export source and the local file source
// ABOUTME: Covers plain, ZIP, and GZIP bodies served over httptest and read from disk

package feeds

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

const sampleExport = "# ThreatFox IOCs\n" + `"ioc_id";"ioc_value"` + "\n" + `"1";"1.2.3.4:443"` + "\n"

func zipBytes(t *testing.T, name, content string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("zip Create() error = %v", err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatalf("zip Write() error = %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip Close() error = %v", err)
	}
	return buf.Bytes()
}

func gzipBytes(t *testing.T, content string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(content)); err != nil {
		t.Fatalf("gzip Write() error = %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip Close() error = %v", err)
	}
	return buf.Bytes()
}

func TestThreatFoxFeed_Name(t *testing.T) {
	t.Parallel()

	f := NewThreatFoxFeed(nil)
	if f.Name() != "threatfox" {
		t.Errorf("Name() = %q, want %q", f.Name(), "threatfox")
	}
	if f.URL() != ThreatFoxDefaultURL {
		t.Errorf("URL() = %q, want %q", f.URL(), ThreatFoxDefaultURL)
	}

	f.SetURL("")
	if f.URL() != ThreatFoxDefaultURL {
		t.Errorf("SetURL(\"\") changed URL to %q", f.URL())
	}
}

func TestThreatFoxFeed_Fetch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body func(t *testing.T) []byte
	}{
		{
			name: "plain text",
			body: func(_ *testing.T) []byte { return []byte(sampleExport) },
		},
		{
			name: "zip archive",
			body: func(t *testing.T) []byte { return zipBytes(t, "full.csv", sampleExport) },
		},
		{
			name: "gzip stream",
			body: func(t *testing.T) []byte { return gzipBytes(t, sampleExport) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			body := tt.body(t)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write(body)
			}))
			defer server.Close()

			f := NewThreatFoxFeed(nil)
			f.SetURL(server.URL)

			got, err := f.Fetch(context.Background())
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if got != sampleExport {
				t.Errorf("Fetch() = %q, want %q", got, sampleExport)
			}
		})
	}
}

func TestThreatFoxFeed_FetchFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f := NewThreatFoxFeed(nil)
	f.SetURL(server.URL)

	if _, err := f.Fetch(context.Background()); err == nil {
		t.Error("Fetch() expected error for 503 response")
	}
}

func TestDecompressIfNeeded_EmptyZip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := zip.NewWriter(&buf).Close(); err != nil {
		t.Fatalf("zip Close() error = %v", err)
	}

	// An empty archive has no local file header, so it is passed through.
	got, err := decompressIfNeeded(buf.Bytes())
	if err != nil {
		t.Fatalf("decompressIfNeeded() error = %v", err)
	}
	if !bytes.Equal(got, buf.Bytes()) {
		t.Error("decompressIfNeeded() modified non-archive data")
	}
}

func TestDecompressIfNeeded_CorruptGzip(t *testing.T) {
	t.Parallel()

	if _, err := decompressIfNeeded([]byte{0x1f, 0x8b, 0x00}); err == nil {
		t.Error("decompressIfNeeded() expected error for truncated gzip")
	}
}

func TestDecompressWithLimit(t *testing.T) {
	t.Parallel()

	content := "0123456789"

	tests := []struct {
		name    string
		data    []byte
		limit   int64
		wantErr bool
	}{
		{name: "zip within limit", data: zipBytes(t, "full.csv", content), limit: 10},
		{name: "zip over limit", data: zipBytes(t, "full.csv", content), limit: 9, wantErr: true},
		{name: "gzip within limit", data: gzipBytes(t, content), limit: 10},
		{name: "gzip over limit", data: gzipBytes(t, content), limit: 4, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := decompressWithLimit(tt.data, tt.limit)
			if tt.wantErr {
				if !errors.Is(err, ErrTooLarge) {
					t.Errorf("decompressWithLimit() error = %v, want ErrTooLarge", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decompressWithLimit() error = %v", err)
			}
			if string(got) != content {
				t.Errorf("decompressWithLimit() = %q, want %q", got, content)
			}
		})
	}
}

func TestThreatFoxFeed_OversizedBodyFails(t *testing.T) {
	t.Parallel()

	body := sampleExport + `"2";"5.6.7.8:8080"` + "\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	cfg := DefaultDownloaderConfig()
	cfg.MaxSize = int64(len(body) - 10)
	f := NewThreatFoxFeed(&cfg)
	f.SetURL(server.URL)

	got, err := f.Fetch(context.Background())
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Fetch() error = %v, want ErrTooLarge", err)
	}
	if got != "" {
		t.Errorf("Fetch() returned partial content %q", got)
	}
}

func TestFileSource_Fetch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	plain := filepath.Join(dir, "recent.csv")
	zipped := filepath.Join(dir, "full.csv.zip")

	if err := os.WriteFile(plain, []byte(sampleExport), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(zipped, zipBytes(t, "full.csv", sampleExport), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	for _, path := range []string{plain, zipped} {
		src := NewFileSource(path)
		got, err := src.Fetch(context.Background())
		if err != nil {
			t.Fatalf("Fetch(%s) error = %v", path, err)
		}
		if got != sampleExport {
			t.Errorf("Fetch(%s) = %q, want %q", path, got, sampleExport)
		}
	}

	if got := NewFileSource(plain).Name(); got != "file:recent.csv" {
		t.Errorf("Name() = %q, want %q", got, "file:recent.csv")
	}

	if _, err := NewFileSource(filepath.Join(dir, "missing.csv")).Fetch(context.Background()); err == nil {
		t.Error("Fetch() expected error for missing file")
	}
}
