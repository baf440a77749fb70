// ABOUTME: NATS notifier that announces new feed artifacts
// ABOUTME: Handles connection, publish with flush, and graceful shutdown

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/observability"
	"github.com/hikmaai-io/hikmaai-iocfeed/internal/pipeline"
)

// ErrNotConnected is returned when publishing before Connect.
var ErrNotConnected = errors.New("not connected to NATS")

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	// NATS server URL.
	URL string

	// Subject the feed.updated message is published on.
	Subject string

	// Connection name for identification.
	Name string

	// Reconnect settings.
	MaxReconnects int
	ReconnectWait time.Duration

	// Timeout bounds connect and flush.
	Timeout time.Duration
}

// DefaultNATSConfig returns a configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Subject:       "iocfeed.feed.updated",
		Name:          "hikmaai-iocfeed",
		MaxReconnects: 5,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// conn is the subset of *nats.Conn the notifier needs.
type conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	IsConnected() bool
	Close()
}

// Notifier publishes feed.updated messages.
type Notifier struct {
	conn   conn
	config NATSConfig
	logger *slog.Logger
}

// NewNotifier creates a notifier. Call Connect before publishing.
func NewNotifier(cfg NATSConfig, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultNATSConfig().Subject
	}

	return &Notifier{
		config: cfg,
		logger: logger,
	}
}

// Connect establishes the NATS connection.
func (n *Notifier) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(n.config.Name),
		nats.MaxReconnects(n.config.MaxReconnects),
		nats.ReconnectWait(n.config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				n.logger.Warn("NATS disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			n.logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			n.logger.Debug("NATS connection closed")
		}),
	}
	if n.config.Timeout > 0 {
		opts = append(opts, nats.Timeout(n.config.Timeout))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	nc, err := nats.Connect(n.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	n.conn = nc
	n.logger.Info("connected to NATS",
		slog.String("url", observability.RedactURL(nc.ConnectedUrl())),
		slog.String("server_id", nc.ConnectedServerId()),
	)

	return nil
}

// Name identifies the notifier in logs and audit events.
func (n *Notifier) Name() string {
	return "nats"
}

// Publish sends the feed.updated message for result and waits for the
// server to acknowledge the flush.
func (n *Notifier) Publish(ctx context.Context, result *pipeline.Result) error {
	if n.conn == nil {
		return ErrNotConnected
	}

	ctx, span := observability.StartSpan(ctx, "nats.publish")
	var err error
	defer func() { observability.EndSpan(span, err) }()

	data, err := json.Marshal(NewFeedUpdatedMessage(result))
	if err != nil {
		return fmt.Errorf("marshaling feed.updated: %w", err)
	}

	if err = n.conn.Publish(n.config.Subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", n.config.Subject, err)
	}

	timeout := n.config.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout || timeout <= 0 {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		timeout = DefaultNATSConfig().Timeout
	}

	if err = n.conn.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("flushing NATS connection: %w", err)
	}

	observability.LogWithContext(ctx, n.logger, slog.LevelDebug, "published feed update",
		slog.String("subject", n.config.Subject),
		slog.Int("bytes", len(data)),
	)
	return nil
}

// Close closes the NATS connection.
func (n *Notifier) Close() error {
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
	return nil
}

// IsConnected returns true if connected to NATS.
func (n *Notifier) IsConnected() bool {
	return n.conn != nil && n.conn.IsConnected()
}
