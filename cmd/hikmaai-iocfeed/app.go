// ABOUTME: Wires configuration into a runnable pipeline with its optional sinks
// ABOUTME: Owns logger, tracer, history store, and publisher lifetimes for one invocation

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/config"
	"github.com/hikmaai-io/hikmaai-iocfeed/internal/feeds"
	"github.com/hikmaai-io/hikmaai-iocfeed/internal/gcs"
	"github.com/hikmaai-io/hikmaai-iocfeed/internal/history"
	"github.com/hikmaai-io/hikmaai-iocfeed/internal/observability"
	"github.com/hikmaai-io/hikmaai-iocfeed/internal/output"
	"github.com/hikmaai-io/hikmaai-iocfeed/internal/pipeline"
	"github.com/hikmaai-io/hikmaai-iocfeed/internal/queue"
	internalredis "github.com/hikmaai-io/hikmaai-iocfeed/internal/redis"
	"github.com/hikmaai-io/hikmaai-iocfeed/internal/types"
)

// loadConfig reads the config file and applies global flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = logFormat
	}

	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return observability.NewLogger(observability.LoggingConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "hikmaai-iocfeed",
		Version:     version,
	}, w)
}

// app holds everything one invocation opens and must close.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	audit    *observability.AuditLogger
	tracer   *observability.TracerProvider
	history  *history.Store
	sinks    []pipeline.Publisher
	closers  []func() error
	pipeline *pipeline.Pipeline
}

// newApp builds the pipeline for fetcher. Optional sinks that fail to
// initialize are logged and skipped; they never prevent a run.
func newApp(ctx context.Context, cfg *config.Config, fetcher pipeline.Fetcher, logOut io.Writer) (*app, error) {
	shape, err := types.ParseShape(cfg.Output.Shape)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: newLogger(cfg, logOut)}
	a.audit = observability.NewAuditLogger(a.logger)

	a.tracer, err = observability.NewTracerProvider(ctx, observability.TracingConfig{
		Enabled:       cfg.Tracing.Enabled,
		ServiceName:   "hikmaai-iocfeed",
		Version:       version,
		Endpoint:      cfg.Tracing.Endpoint,
		Insecure:      cfg.Tracing.Insecure,
		SamplingRatio: cfg.Tracing.SamplingRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("creating tracer provider: %w", err)
	}

	if cfg.History.Enabled {
		if err := os.MkdirAll(cfg.History.Path, 0o755); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
		a.history, err = history.Open(history.Config{Path: cfg.History.Path})
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("opening history: %w", err)
		}
		a.closers = append(a.closers, a.history.Close)
	}

	a.logSource(fetcher)
	a.connectSinks(ctx)

	pcfg := pipeline.Config{
		Fetcher:    fetcher,
		Writer:     output.NewCSVWriter(cfg.Output.Path),
		Shape:      shape,
		Source:     cfg.Feed.Source,
		Publishers: a.sinks,
		Logger:     a.logger,
		Audit:      a.audit,
	}
	if a.history != nil {
		pcfg.History = a.history
	}
	a.pipeline = pipeline.New(pcfg)

	return a, nil
}

// httpSource is implemented by fetchers that download over HTTP.
type httpSource interface {
	URL() string
	RequestHeaders() map[string]string
}

// logSource records where the run fetches from. Credentials in the URL
// and headers are masked.
func (a *app) logSource(fetcher pipeline.Fetcher) {
	attrs := []any{slog.Bool("tracing", a.tracer.IsEnabled())}
	if src, ok := fetcher.(httpSource); ok {
		attrs = append(attrs,
			slog.String("url", observability.RedactURL(src.URL())),
			slog.Any("headers", observability.RedactHeaders(src.RequestHeaders())),
		)
	}
	a.logger.Info("feed source configured", attrs...)
}

func (a *app) connectSinks(ctx context.Context) {
	cfg := a.cfg

	if cfg.GCS.Bucket != "" {
		up, err := gcs.NewUploader(ctx, gcs.Config{
			Bucket:          cfg.GCS.Bucket,
			Prefix:          cfg.GCS.Prefix,
			ProjectID:       cfg.GCS.ProjectID,
			CredentialsFile: cfg.GCS.CredentialsFile,
			EmulatorHost:    cfg.GCS.EmulatorHost,
		}, a.logger)
		if err != nil {
			a.logger.Warn("GCS upload disabled", slog.String("error", err.Error()))
		} else {
			a.logger.Info("GCS upload enabled",
				slog.String("object", up.ObjectName(cfg.Output.Path)),
				slog.Bool("emulator", up.IsEmulatorMode()),
			)
			a.sinks = append(a.sinks, up)
			a.closers = append(a.closers, up.Close)
		}
	}

	if cfg.NATS.URL != "" {
		ncfg := queue.DefaultNATSConfig()
		ncfg.URL = cfg.NATS.URL
		if cfg.NATS.Subject != "" {
			ncfg.Subject = cfg.NATS.Subject
		}
		if cfg.NATS.Timeout > 0 {
			ncfg.Timeout = cfg.NATS.Timeout
		}

		n := queue.NewNotifier(ncfg, a.logger)
		if err := n.Connect(ctx); err != nil {
			a.logger.Warn("NATS notification disabled", slog.String("error", observability.RedactSensitive(err.Error())))
		} else {
			a.sinks = append(a.sinks, n)
			a.closers = append(a.closers, n.Close)
		}
	}

	if cfg.Redis.Addr != "" {
		client, err := internalredis.NewClient(ctx, internalredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			a.logger.Warn("Redis publishing disabled", slog.String("error", err.Error()))
			return
		}
		a.closers = append(a.closers, client.Close)

		pub, err := internalredis.NewPublisher(client, internalredis.PublisherConfig{
			Stream:    cfg.Redis.Stream,
			MaxLen:    cfg.Redis.MaxLen,
			LatestTTL: cfg.Redis.LatestTTL,
		})
		if err != nil {
			a.logger.Warn("Redis publishing disabled", slog.String("error", err.Error()))
			return
		}
		a.sinks = append(a.sinks, pub)
	}
}

// run executes one pipeline run, then prunes history and exports metrics.
func (a *app) run(ctx context.Context) (*pipeline.Result, error) {
	result, err := a.pipeline.Run(ctx)

	if path := a.cfg.Metrics.Textfile; path != "" && result != nil {
		outcome := observability.RunOutcome{
			Feed:     result.Feed,
			Shape:    result.Shape.String(),
			Success:  result.Succeeded(),
			Finished: result.FinishedAt,
			Duration: result.Duration(),
		}
		if werr := observability.WriteTextfile(path, outcome, result.Metrics, a.pipeline.Metrics().StageStats()); werr != nil {
			a.logger.Warn("writing metrics textfile failed", slog.String("path", path), slog.String("error", werr.Error()))
		}
	}

	if a.history != nil && a.cfg.History.Keep > 0 {
		removed, perr := a.history.Prune(ctx, a.cfg.History.Keep)
		if perr != nil {
			a.logger.Warn("pruning run history failed", slog.String("error", perr.Error()))
		} else if removed > 0 {
			a.audit.LogHistoryPrune(ctx, removed, a.cfg.History.Keep)
		}
	}

	return result, err
}

// Close releases every resource in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newThreatFoxFetcher builds the HTTP source from feed settings.
func newThreatFoxFetcher(cfg config.FeedConfig) *feeds.ThreatFoxFeed {
	dl := feeds.DefaultDownloaderConfig()
	if cfg.Timeout > 0 {
		dl.Timeout = cfg.Timeout
	}
	dl.MaxSize = cfg.MaxSize
	if cfg.UserAgent != "" {
		dl.UserAgent = cfg.UserAgent
	}
	if cfg.AuthKey != "" {
		dl.Headers = map[string]string{feeds.AuthKeyHeader: cfg.AuthKey}
	}

	feed := feeds.NewThreatFoxFeed(&dl)
	feed.SetURL(cfg.URL)
	return feed
}
