// ABOUTME: Pipeline orchestrator for one ThreatFox feed run
// ABOUTME: Fetch, sanitize, detect, parse, normalize, dedup, project, and write atomically

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/feeds"
	"github.com/hikmaai-io/hikmaai-iocfeed/internal/observability"
	"github.com/hikmaai-io/hikmaai-iocfeed/internal/output"
	"github.com/hikmaai-io/hikmaai-iocfeed/internal/types"
)

// Run status values.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Fetcher retrieves the raw feed text.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) (string, error)
}

// Writer persists the final records.
type Writer interface {
	WriteRecords(ctx context.Context, shape types.Shape, records []types.Record) (*output.Artifact, error)
}

// Publisher is notified after an artifact has been written.
// Publisher failures are logged and never fail the run.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, result *Result) error
}

// Recorder stores the outcome of every run.
type Recorder interface {
	RecordRun(ctx context.Context, result *Result) error
}

// Config holds the collaborators of a pipeline.
type Config struct {
	// Fetcher provides the raw feed text. Required for Run.
	Fetcher Fetcher

	// Writer persists the records. Required for Run.
	Writer Writer

	// Shape selects the output field list.
	Shape types.Shape

	// Source is the literal source tag for ip/port records.
	Source string

	// Publishers run after a successful write.
	Publishers []Publisher

	// History records every run, successful or not.
	History Recorder

	// Metrics accumulates counters across runs.
	Metrics *observability.PipelineMetrics

	// Logger receives run logs. Nil discards.
	Logger *slog.Logger

	// Audit receives the per-run audit event. Nil discards.
	Audit *observability.AuditLogger

	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
}

// Stats counts what each stage consumed and produced.
type Stats struct {
	Lines           int `json:"lines"`
	RowsParsed      int `json:"rows_parsed"`
	RowsDropped     int `json:"rows_dropped"`
	Duplicates      int `json:"duplicates"`
	MissingIdentity int `json:"missing_identity"`
	Unaddressable   int `json:"unaddressable,omitempty"`
	Records         int `json:"records"`
}

// Batch is the in-memory result of normalizing one snapshot.
type Batch struct {
	Dialect     types.Dialect
	Records     []types.Record
	Stats       Stats
	Source      string
	CollectedAt string
}

// ProjectStats counts records the projection left out.
type ProjectStats struct {
	// Unaddressable records have no ip:port pair for the ip/port shape.
	Unaddressable int

	// Duplicates collapsed onto an identity already projected.
	Duplicates int
}

// Project returns the batch records converted to shape. The ip/port shape
// keeps only records with an ip:port pair and is deduplicated again on its
// own identity, since distinct provider IDs may share one ioc_value.
func (b *Batch) Project(shape types.Shape) ([]types.Record, ProjectStats) {
	var stats ProjectStats

	out := make([]types.Record, 0, len(b.Records))
	for _, rec := range b.Records {
		projected := types.Project(rec, shape, b.Source, b.CollectedAt)
		if ep, ok := projected.(*types.Endpoint); ok && !ep.HasAddress() {
			stats.Unaddressable++
			continue
		}
		out = append(out, projected)
	}

	if shape != types.ShapeIPPort {
		return out, stats
	}

	kept, dedup := feeds.Dedup(out, feeds.NewSeenSet(uint(len(out))))
	stats.Duplicates = dedup.Duplicates
	return kept, stats
}

// Result describes one run.
type Result struct {
	RunID       string           `json:"run_id"`
	Feed        string           `json:"feed"`
	Status      string           `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	CollectedAt string           `json:"collected_at"`
	Dialect     types.Dialect    `json:"dialect"`
	Shape       types.Shape      `json:"shape"`
	Stats       Stats            `json:"stats"`
	Artifact    *output.Artifact `json:"artifact,omitempty"`
	ErrorCode   string           `json:"error_code,omitempty"`
	Error       string           `json:"error,omitempty"`

	// Metrics holds the collector's cumulative counters as of this run.
	Metrics *observability.MetricsSnapshot `json:"metrics,omitempty"`
}

// Succeeded reports whether the run produced an artifact.
func (r *Result) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// Duration returns how long the run took.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Pipeline runs the normalization stages against one feed.
type Pipeline struct {
	cfg    Config
	log    *observability.ContextLogger
	audit  *observability.AuditLogger
	now    func() time.Time
	source string
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	source := cfg.Source
	if source == "" {
		source = feeds.DefaultSource
	}
	audit := cfg.Audit
	if audit == nil {
		audit = observability.NewAuditLogger(cfg.Logger)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewPipelineMetrics()
	}

	return &Pipeline{
		cfg:    cfg,
		log:    observability.NewContextLogger(cfg.Logger).With(slog.String("component", "pipeline")),
		audit:  audit,
		now:    now,
		source: source,
	}
}

// Metrics returns the pipeline's metrics collector.
func (p *Pipeline) Metrics() *observability.PipelineMetrics {
	return p.cfg.Metrics
}

// Run executes one full run. The returned Result is non-nil even on error;
// a failed run leaves any previous artifact untouched.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if p.cfg.Fetcher == nil || p.cfg.Writer == nil {
		return nil, errors.New("pipeline requires a fetcher and a writer")
	}

	ctx, runID := observability.EnsureRunID(ctx)
	ctx, span := observability.StartSpan(ctx, "pipeline.run")

	started := p.now()
	result := &Result{
		RunID:     runID.String(),
		Feed:      p.cfg.Fetcher.Name(),
		StartedAt: started,
		Shape:     p.cfg.Shape,
	}

	err := p.run(ctx, started, result)
	p.finish(ctx, result, err)

	observability.EndSpan(span, err)
	return result, err
}

func (p *Pipeline) run(ctx context.Context, started time.Time, result *Result) error {
	var raw string
	err := p.stage(ctx, StageFetch, "feed.fetch", func(ctx context.Context) error {
		var err error
		raw, err = p.cfg.Fetcher.Fetch(ctx)
		if err != nil {
			return fetchError(err)
		}
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("feed.bytes", len(raw)))
		return nil
	})
	if err != nil {
		return err
	}

	batch, err := p.normalize(ctx, raw, started)
	if batch != nil {
		result.Dialect = batch.Dialect
		result.Stats = batch.Stats
		result.CollectedAt = batch.CollectedAt
	}
	if err != nil {
		return err
	}

	var records []types.Record
	p.step(ctx, StageProject, "pipeline.project", func(ctx context.Context) {
		var stats ProjectStats
		records, stats = batch.Project(p.cfg.Shape)
		result.Stats.Unaddressable = stats.Unaddressable
		result.Stats.Duplicates += stats.Duplicates
		result.Stats.Records = len(records)

		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int("records.projected", len(records)),
			attribute.Int("records.unaddressable", stats.Unaddressable),
		)
		p.cfg.Metrics.RecordDuplicates(stats.Duplicates)
	})
	if len(records) == 0 {
		return zeroRecordsError(result.Stats)
	}

	return p.stage(ctx, StageWrite, "output.write", func(ctx context.Context) error {
		art, err := p.cfg.Writer.WriteRecords(ctx, p.cfg.Shape, records)
		if err != nil {
			return writeError(err)
		}
		result.Artifact = art
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int("output.records", art.Records),
			attribute.String("output.sha256", art.SHA256),
		)
		return nil
	})
}

// Normalize runs the sanitize, detect, parse, normalize, and dedup stages
// over raw. Records keep the shape native to the detected schema.
func (p *Pipeline) Normalize(ctx context.Context, raw string) (*Batch, error) {
	return p.normalize(ctx, raw, p.now())
}

func (p *Pipeline) normalize(ctx context.Context, raw string, collectedAt time.Time) (*Batch, error) {
	batch := &Batch{Source: p.source}

	var lines []string
	p.step(ctx, StageSanitize, "pipeline.sanitize", func(ctx context.Context) {
		lines = feeds.Sanitize(raw)
		batch.Stats.Lines = len(lines)
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("lines", len(lines)))
	})
	p.cfg.Metrics.RecordLines(len(lines))

	if len(lines) == 0 {
		return batch, emptyError()
	}

	err := p.stage(ctx, StageDetect, "pipeline.detect", func(ctx context.Context) error {
		d, err := feeds.Detect(lines)
		if err != nil {
			return schemaError(err)
		}
		batch.Dialect = d
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String("dialect.schema", d.Schema.String()),
			attribute.String("dialect.delimiter", string(d.Delimiter)),
			attribute.Bool("dialect.header", d.HasHeader),
		)
		return nil
	})
	if err != nil {
		return batch, err
	}
	p.log.Debug(ctx, "schema detected", slog.String("dialect", batch.Dialect.String()))

	normalizer := feeds.NewNormalizer(batch.Dialect, feeds.NormalizerOptions{
		Source:      p.source,
		CollectedAt: collectedAt,
	})
	batch.CollectedAt = normalizer.CollectedAt()

	var parsed []types.Record
	p.step(ctx, StageParse, "pipeline.parse", func(ctx context.Context) {
		body := lines
		if batch.Dialect.HasHeader {
			body = lines[1:]
		}

		parsed = make([]types.Record, 0, len(body))
		for _, line := range body {
			row, ok := feeds.ParseRow(line, batch.Dialect)
			if !ok {
				batch.Stats.RowsDropped++
				continue
			}
			rec, ok := normalizer.Normalize(row)
			if !ok {
				batch.Stats.RowsDropped++
				continue
			}
			parsed = append(parsed, rec)
		}
		batch.Stats.RowsParsed = len(parsed)

		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int("rows.parsed", batch.Stats.RowsParsed),
			attribute.Int("rows.dropped", batch.Stats.RowsDropped),
		)
	})
	p.cfg.Metrics.RecordRows(batch.Stats.RowsParsed, batch.Stats.RowsDropped)

	p.step(ctx, StageDedup, "pipeline.dedup", func(ctx context.Context) {
		kept, stats := feeds.Dedup(parsed, feeds.NewSeenSet(uint(len(parsed))))
		batch.Records = kept
		batch.Stats.Duplicates = stats.Duplicates
		batch.Stats.MissingIdentity = stats.MissingIdentity
		batch.Stats.Records = stats.Kept

		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int("records.kept", stats.Kept),
			attribute.Int("records.duplicates", stats.Duplicates),
		)
	})
	p.cfg.Metrics.RecordDuplicates(batch.Stats.Duplicates)

	if len(batch.Records) == 0 {
		return batch, zeroRecordsError(batch.Stats)
	}

	return batch, nil
}

// stage runs fn inside a span and records its latency.
func (p *Pipeline) stage(ctx context.Context, stage, spanName string, fn func(context.Context) error) error {
	ctx, span := observability.StartSpan(ctx, spanName)
	start := time.Now()

	err := fn(ctx)

	p.cfg.Metrics.ObserveStage(stage, time.Since(start))
	observability.EndSpan(span, err)
	return err
}

// step runs a stage that cannot fail inside a span and records its latency.
func (p *Pipeline) step(ctx context.Context, stage, spanName string, fn func(context.Context)) {
	ctx, span := observability.StartSpan(ctx, spanName)
	start := time.Now()

	fn(ctx)

	p.cfg.Metrics.ObserveStage(stage, time.Since(start))
	span.End()
}

// finish fills in the outcome, then logs, audits, publishes, and records it.
func (p *Pipeline) finish(ctx context.Context, result *Result, err error) {
	result.FinishedAt = p.now()

	if err != nil {
		result.Status = StatusFailed
		result.ErrorCode = observability.ErrorCode(err)
		result.Error = observability.RedactSensitive(err.Error())
	} else {
		result.Status = StatusSucceeded
	}
	p.cfg.Metrics.RecordRun(err == nil)

	written := 0
	if result.Artifact != nil {
		written = result.Artifact.Records
		p.cfg.Metrics.RecordWritten(written)
	}
	result.Metrics = p.cfg.Metrics.Snapshot()

	attrs := []any{
		slog.String("feed", result.Feed),
		slog.String("status", result.Status),
		slog.String("dialect", result.Dialect.String()),
		slog.String("shape", result.Shape.String()),
		slog.Int("lines", result.Stats.Lines),
		slog.Int("rows_dropped", result.Stats.RowsDropped),
		slog.Int("duplicates", result.Stats.Duplicates),
		slog.Int("records", written),
		slog.Duration("duration", result.Duration()),
	}

	if err != nil {
		attrs = append(attrs, slog.Any("error", errorAttr(err)))
		p.log.Error(ctx, "feed run failed", attrs...)
	} else {
		attrs = append(attrs, slog.String("artifact", result.Artifact.Path))
		p.log.Info(ctx, "feed run finished", attrs...)
	}

	ev := observability.FeedUpdateEvent{
		Feed:      result.Feed,
		Records:   written,
		ErrorCode: result.ErrorCode,
		Success:   err == nil,
	}
	if result.Artifact != nil {
		ev.Artifact = result.Artifact.Path
		ev.SHA256 = result.Artifact.SHA256
	}
	p.audit.LogFeedUpdate(ctx, ev)

	if err == nil {
		p.publish(ctx, result)
	}

	if p.cfg.History != nil {
		if herr := p.cfg.History.RecordRun(ctx, result); herr != nil {
			p.log.Warn(ctx, "recording run history failed", slog.String("error", herr.Error()))
		}
	}
}

func (p *Pipeline) publish(ctx context.Context, result *Result) {
	dest := ""
	if result.Artifact != nil {
		dest = result.Artifact.Path
	}

	for _, pub := range p.cfg.Publishers {
		if err := pub.Publish(ctx, result); err != nil {
			p.log.Warn(ctx, "publish failed",
				slog.String("publisher", pub.Name()),
				slog.String("error", observability.RedactSensitive(err.Error())),
			)
			p.audit.LogPublish(ctx, pub.Name(), dest, false, err.Error())
			continue
		}
		p.log.Debug(ctx, "published", slog.String("publisher", pub.Name()))
		p.audit.LogPublish(ctx, pub.Name(), dest, true, "")
	}
}

// errorAttr prefers the structured ErrorContext form when present.
func errorAttr(err error) any {
	if ec, ok := observability.AsErrorContext(err); ok {
		return ec
	}
	return fmt.Sprint(err)
}
