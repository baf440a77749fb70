// ABOUTME: Redis publisher that records each new feed artifact
// ABOUTME: Appends a feed.updated entry to a capped stream and refreshes a per-feed latest hash

package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/pipeline"
	"github.com/hikmaai-io/hikmaai-iocfeed/internal/queue"
)

// PublisherConfig holds configuration for the Redis publisher.
type PublisherConfig struct {
	// Stream is the stream name (without prefix).
	Stream string

	// MaxLen caps the stream length (approximate trimming). Zero keeps everything.
	MaxLen int64

	// LatestTTL expires the per-feed latest hash. Zero never expires.
	LatestTTL time.Duration
}

// DefaultPublisherConfig returns sensible defaults.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		Stream: "feed-updates",
		MaxLen: 1000,
	}
}

// Publisher writes feed updates to Redis.
type Publisher struct {
	client    *Client
	streamKey string
	maxLen    int64
	latestTTL time.Duration
}

// NewPublisher creates a publisher on top of client.
func NewPublisher(client *Client, cfg PublisherConfig) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = DefaultPublisherConfig().Stream
	}

	return &Publisher{
		client:    client,
		streamKey: client.PrefixedKey(cfg.Stream),
		maxLen:    cfg.MaxLen,
		latestTTL: cfg.LatestTTL,
	}, nil
}

// Name identifies the publisher in logs and audit events.
func (p *Publisher) Name() string {
	return "redis"
}

// StreamKey returns the full prefixed stream key.
func (p *Publisher) StreamKey() string {
	return p.streamKey
}

// LatestKey returns the hash key holding the latest artifact of feed.
func (p *Publisher) LatestKey(feed string) string {
	return p.client.PrefixedKey("feed:" + feed + ":latest")
}

// Publish appends the update to the stream and replaces the latest hash
// in one transaction.
func (p *Publisher) Publish(ctx context.Context, result *pipeline.Result) error {
	_, err := p.publish(ctx, result)
	return err
}

func (p *Publisher) publish(ctx context.Context, result *pipeline.Result) (string, error) {
	if result == nil {
		return "", errors.New("run result is nil")
	}

	values := fields(queue.NewFeedUpdatedMessage(result))
	latestKey := p.LatestKey(result.Feed)

	var add *redis.StringCmd
	_, err := p.client.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		args := &redis.XAddArgs{
			Stream: p.streamKey,
			Values: values,
		}
		if p.maxLen > 0 {
			args.MaxLen = p.maxLen
			args.Approx = true
		}
		add = pipe.XAdd(ctx, args)

		pipe.Del(ctx, latestKey)
		pipe.HSet(ctx, latestKey, values)
		if p.latestTTL > 0 {
			pipe.Expire(ctx, latestKey, p.latestTTL)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("publishing to stream %s: %w", p.streamKey, err)
	}

	return add.Val(), nil
}

// fields flattens the message into string values.
func fields(m queue.FeedUpdatedMessage) map[string]any {
	return map[string]any{
		"run_id":       m.RunID,
		"feed":         m.Feed,
		"shape":        m.Shape,
		"path":         m.Path,
		"sha256":       m.SHA256,
		"bytes":        strconv.FormatInt(m.Bytes, 10),
		"records":      strconv.Itoa(m.Records),
		"rows_dropped": strconv.Itoa(m.RowsDropped),
		"duplicates":   strconv.Itoa(m.Duplicates),
		"collected_at": m.CollectedAt,
		"updated_at":   m.UpdatedAt.Format(time.RFC3339),
	}
}
