// ABOUTME: Prometheus textfile export of pipeline metrics for scheduled runs
// ABOUTME: Builds a private registry from a snapshot and writes it for the node exporter collector

package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "iocfeed"

// RunOutcome describes the run a textfile export reports on.
type RunOutcome struct {
	Feed     string
	Shape    string
	Success  bool
	Finished time.Time
	Duration time.Duration
}

// WriteTextfile writes the snapshot and stage latencies to path in the
// Prometheus text exposition format. The file is replaced atomically.
func WriteTextfile(path string, run RunOutcome, snap *MetricsSnapshot, stages map[string]StageStat) error {
	if path == "" {
		return errors.New("textfile path is required")
	}
	if snap == nil {
		return errors.New("metrics snapshot is nil")
	}

	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"feed": run.Feed, "shape": run.Shape}

	gauge := func(name, help string, v float64) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
		g.Set(v)
		reg.MustRegister(g)
	}

	success := 0.0
	if run.Success {
		success = 1
	}
	gauge("last_run_success", "Whether the last run produced an artifact.", success)
	gauge("last_run_timestamp_seconds", "Unix time the last run finished.", float64(run.Finished.Unix()))
	gauge("last_run_duration_seconds", "Wall time of the last run.", run.Duration.Seconds())
	gauge("lines", "Content lines after sanitizing.", float64(snap.Lines))
	gauge("rows_parsed", "Rows accepted by the row parser.", float64(snap.RowsParsed))
	gauge("rows_dropped", "Rows dropped as malformed or unusable.", float64(snap.RowsDropped))
	gauge("duplicates", "Records removed as duplicates.", float64(snap.Duplicates))
	gauge("records_written", "Records written to the artifact.", float64(snap.RecordsWritten))

	if len(stages) > 0 {
		latency := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "stage_duration_seconds",
			Help:        "Average latency of each pipeline stage.",
			ConstLabels: labels,
		}, []string{"stage"})
		for name, st := range stages {
			latency.WithLabelValues(name).Set(st.AverageLatency.Seconds())
		}
		reg.MustRegister(latency)
	}

	return prometheus.WriteToTextfile(path, reg)
}
