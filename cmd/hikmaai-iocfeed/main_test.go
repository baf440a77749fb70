// ABOUTME: End-to-end tests for the CLI commands
// ABOUTME: Runs run, normalize, history, and shapes against temp dirs and an httptest feed

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/pipeline"
)

const sampleExport = `# ThreatFox IOCs: recent
"first_seen_utc","ioc_id","ioc_value","ioc_type","threat_type","fk_malware","malware_alias","malware_printable","last_seen_utc","confidence_level","reference","tags","anonymous","reporter"
"2024-05-01 10:00:00","1","1.2.3.4:443","ip:port","botnet_cc","win.cobalt_strike","","Cobalt Strike","","100","","c2","0","alice"
"2024-05-01 10:05:00","2","evil.test","domain","payload_delivery","win.qakbot","","QakBot","","75","","","0","bob"
"2024-05-01 10:05:00","2","evil.test","domain","payload_delivery","win.qakbot","","QakBot","","75","","","0","bob"
`

// setupCLI writes a config that keeps every path under a temp dir.
func setupCLI(t *testing.T, feedURL string) (configPath, outPath string) {
	t.Helper()

	dir := t.TempDir()
	outPath = filepath.Join(dir, "out", "threatfox.csv")
	configPath = filepath.Join(dir, "config.yaml")

	content := "feed:\n  url: " + feedURL + "\n" +
		"output:\n  path: " + outPath + "\n" +
		"history:\n  enabled: true\n  path: " + filepath.Join(dir, "history") + "\n" +
		"metrics:\n  textfile: " + filepath.Join(dir, "iocfeed.prom") + "\n" +
		"log:\n  level: error\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	t.Setenv("THREATFOX_AUTH_KEY", "")
	return configPath, outPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	// Reset globals bound to persistent flags between invocations.
	cfgFile, logLevel, logFormat = "", "", ""

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleExport))
	}))
	defer srv.Close()

	configPath, outPath := setupCLI(t, srv.URL)

	out, err := execute(t, "run", "--config", configPath, "--json")
	if err != nil {
		t.Fatalf("run error = %v\n%s", err, out)
	}

	var result pipeline.Result
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not a JSON result: %v\n%s", err, out)
	}
	if !result.Succeeded() {
		t.Fatalf("Status = %s, want succeeded", result.Status)
	}
	if result.Stats.Records != 2 || result.Stats.Duplicates != 1 {
		t.Errorf("Stats = %+v, want 2 records and 1 duplicate", result.Stats)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	if !strings.HasPrefix(string(data), `"first_seen_utc","ioc_id"`) {
		t.Errorf("artifact header = %q", strings.SplitN(string(data), "\n", 2)[0])
	}

	prom, err := os.ReadFile(filepath.Join(filepath.Dir(configPath), "iocfeed.prom"))
	if err != nil {
		t.Fatalf("metrics textfile not written: %v", err)
	}
	if !strings.Contains(string(prom), "iocfeed_records_written") {
		t.Errorf("metrics textfile missing records_written:\n%s", prom)
	}

	// The run is visible in history.
	out, err = execute(t, "history", "list", "--config", configPath, "--json")
	if err != nil {
		t.Fatalf("history list error = %v", err)
	}
	var runs []pipeline.Result
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("history output is not JSON: %v\n%s", err, out)
	}
	if len(runs) != 1 || runs[0].RunID != result.RunID {
		t.Errorf("history = %+v, want the run %s", runs, result.RunID)
	}

	out, err = execute(t, "history", "show", result.RunID, "--config", configPath)
	if err != nil {
		t.Fatalf("history show error = %v", err)
	}
	if !strings.Contains(out, result.RunID) {
		t.Errorf("history show output missing run ID:\n%s", out)
	}
}

func TestRunCommand_FetchFailureKeepsArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	configPath, outPath := setupCLI(t, srv.URL)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(outPath, []byte("previous"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	out, err := execute(t, "run", "--config", configPath)
	if err == nil {
		t.Fatal("run expected error on 503")
	}
	if !strings.Contains(out, "FETCH_FAILURE") {
		t.Errorf("output = %q, want FETCH_FAILURE", out)
	}

	data, _ := os.ReadFile(outPath)
	if string(data) != "previous" {
		t.Errorf("artifact changed to %q", data)
	}
}

func TestNormalizeCommand_IPPort(t *testing.T) {
	configPath, _ := setupCLI(t, "http://127.0.0.1:1/unused")

	input := filepath.Join(t.TempDir(), "export.csv")
	if err := os.WriteFile(input, []byte(sampleExport), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	outPath := filepath.Join(t.TempDir(), "ipport.csv")

	out, err := execute(t, "normalize", input, "--config", configPath, "--shape", "ip-port", "-o", outPath, "--no-history")
	if err != nil {
		t.Fatalf("normalize error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "succeeded") || !strings.Contains(out, "skipped:    1") {
		t.Errorf("output = %q", out)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\r\n"), "\r\n")
	// The domain indicator has no ip:port pair and is left out.
	if len(lines) != 2 {
		t.Fatalf("artifact has %d lines, want header + 1\n%s", len(lines), data)
	}
	if !strings.HasPrefix(lines[0], `"ip","port"`) {
		t.Errorf("header = %q, want ip-port shape", lines[0])
	}
	if !strings.Contains(lines[1], `"1.2.3.4","443"`) {
		t.Errorf("first record = %q", lines[1])
	}
}

func TestNormalizeCommand_Errors(t *testing.T) {
	configPath, _ := setupCLI(t, "http://127.0.0.1:1/unused")

	if _, err := execute(t, "normalize", "--config", configPath); err == nil {
		t.Error("normalize without file expected error")
	}

	if _, err := execute(t, "normalize", filepath.Join(t.TempDir(), "missing.csv"), "--config", configPath, "--no-history"); err == nil {
		t.Error("normalize of missing file expected error")
	}

	input := filepath.Join(t.TempDir(), "export.csv")
	_ = os.WriteFile(input, []byte(sampleExport), 0o644)
	if _, err := execute(t, "normalize", input, "--config", configPath, "--shape", "xml"); err == nil {
		t.Error("normalize with unknown shape expected error")
	}
}

func TestShapesCommand(t *testing.T) {
	out, err := execute(t, "shapes")
	if err != nil {
		t.Fatalf("shapes error = %v", err)
	}

	for _, want := range []string{"raw (14 fields)", "ip-port (12 fields)", "first_seen_utc", "collection_date"} {
		if !strings.Contains(out, want) {
			t.Errorf("shapes output missing %q:\n%s", want, out)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, "hikmaai-iocfeed version dev") {
		t.Errorf("version output = %q", out)
	}
}
