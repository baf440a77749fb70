// ABOUTME: Pipeline metrics collection for feed runs
// ABOUTME: Atomic row and run counters plus per-stage latency statistics

package observability

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsSnapshot contains a point-in-time snapshot of all counters.
type MetricsSnapshot struct {
	// Content lines after sanitizing.
	Lines int64 `json:"lines"`

	// Rows accepted by the row parser.
	RowsParsed int64 `json:"rows_parsed"`

	// Rows dropped as malformed or unusable.
	RowsDropped int64 `json:"rows_dropped"`

	// Records removed as duplicates.
	Duplicates int64 `json:"duplicates"`

	// Records written to the artifact.
	RecordsWritten int64 `json:"records_written"`

	// Runs that produced an artifact.
	RunsSucceeded int64 `json:"runs_succeeded"`

	// Runs that stopped on a fatal error.
	RunsFailed int64 `json:"runs_failed"`

	// Timestamp of snapshot.
	Timestamp time.Time `json:"timestamp"`
}

// String returns a human-readable representation.
func (s *MetricsSnapshot) String() string {
	return fmt.Sprintf(
		"runs=%d/%d lines=%d parsed=%d dropped=%d duplicates=%d written=%d",
		s.RunsSucceeded, s.RunsSucceeded+s.RunsFailed,
		s.Lines, s.RowsParsed, s.RowsDropped, s.Duplicates, s.RecordsWritten,
	)
}

// StageStat contains latency statistics for one pipeline stage.
type StageStat struct {
	Count          int64         `json:"count"`
	TotalLatency   time.Duration `json:"total_latency"`
	AverageLatency time.Duration `json:"average_latency"`
	MaxLatency     time.Duration `json:"max_latency"`
	P95Latency     time.Duration `json:"p95_latency"`
}

// stageStats holds latencies for one stage.
type stageStats struct {
	latencies []time.Duration
}

// maxStageSamples bounds memory per stage; the oldest half is dropped
// when the limit is reached.
const maxStageSamples = 1000

// PipelineMetrics collects counters across pipeline runs. It is safe for
// concurrent use.
type PipelineMetrics struct {
	lines          atomic.Int64
	rowsParsed     atomic.Int64
	rowsDropped    atomic.Int64
	duplicates     atomic.Int64
	recordsWritten atomic.Int64
	runsSucceeded  atomic.Int64
	runsFailed     atomic.Int64

	mu     sync.Mutex
	stages map[string]*stageStats
}

// NewPipelineMetrics creates a new metrics collector.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		stages: make(map[string]*stageStats),
	}
}

// RecordLines records sanitized content lines.
func (m *PipelineMetrics) RecordLines(n int) {
	m.lines.Add(int64(n))
}

// RecordRows records parsed and dropped rows.
func (m *PipelineMetrics) RecordRows(parsed, dropped int) {
	m.rowsParsed.Add(int64(parsed))
	m.rowsDropped.Add(int64(dropped))
}

// RecordDuplicates records records removed by deduplication.
func (m *PipelineMetrics) RecordDuplicates(n int) {
	m.duplicates.Add(int64(n))
}

// RecordWritten records records written to the artifact.
func (m *PipelineMetrics) RecordWritten(n int) {
	m.recordsWritten.Add(int64(n))
}

// RecordRun records the outcome of a run.
func (m *PipelineMetrics) RecordRun(success bool) {
	if success {
		m.runsSucceeded.Add(1)
		return
	}
	m.runsFailed.Add(1)
}

// ObserveStage records how long a stage took.
func (m *PipelineMetrics) ObserveStage(stage string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stages[stage]
	if !ok {
		s = &stageStats{}
		m.stages[stage] = s
	}
	s.latencies = append(s.latencies, d)
	if len(s.latencies) > maxStageSamples {
		s.latencies = s.latencies[len(s.latencies)-maxStageSamples/2:]
	}
}

// Snapshot returns a point-in-time snapshot of all counters.
func (m *PipelineMetrics) Snapshot() *MetricsSnapshot {
	return &MetricsSnapshot{
		Lines:          m.lines.Load(),
		RowsParsed:     m.rowsParsed.Load(),
		RowsDropped:    m.rowsDropped.Load(),
		Duplicates:     m.duplicates.Load(),
		RecordsWritten: m.recordsWritten.Load(),
		RunsSucceeded:  m.runsSucceeded.Load(),
		RunsFailed:     m.runsFailed.Load(),
		Timestamp:      time.Now(),
	}
}

// StageStats returns latency statistics per stage.
func (m *PipelineMetrics) StageStats() map[string]StageStat {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]StageStat, len(m.stages))
	for name, s := range m.stages {
		if len(s.latencies) == 0 {
			continue
		}

		sorted := make([]time.Duration, len(s.latencies))
		copy(sorted, s.latencies)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i] < sorted[j]
		})

		var total time.Duration
		for _, lat := range sorted {
			total += lat
		}

		result[name] = StageStat{
			Count:          int64(len(sorted)),
			TotalLatency:   total,
			AverageLatency: total / time.Duration(len(sorted)),
			MaxLatency:     sorted[len(sorted)-1],
			P95Latency:     percentile(sorted, 95),
		}
	}
	return result
}

// percentile calculates the pth percentile of a sorted slice.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Reset resets all metrics to zero.
func (m *PipelineMetrics) Reset() {
	m.lines.Store(0)
	m.rowsParsed.Store(0)
	m.rowsDropped.Store(0)
	m.duplicates.Store(0)
	m.recordsWritten.Store(0)
	m.runsSucceeded.Store(0)
	m.runsFailed.Store(0)

	m.mu.Lock()
	m.stages = make(map[string]*stageStats)
	m.mu.Unlock()
}

// String returns a summary string.
func (m *PipelineMetrics) String() string {
	var sb strings.Builder
	sb.WriteString(m.Snapshot().String())

	stats := m.StageStats()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, " %s=%v", name, stats[name].AverageLatency)
	}
	return sb.String()
}
