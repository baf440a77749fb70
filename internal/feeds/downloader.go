// ABOUTME: HTTP downloader for fetching feed exports from remote URLs
// ABOUTME: Single bounded-timeout attempt with user-agent, auth header, and size cap

package feeds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DownloaderConfig holds configuration for the HTTP downloader.
type DownloaderConfig struct {
	// Timeout bounds the whole request including reading the body.
	Timeout time.Duration

	// UserAgent for HTTP requests.
	UserAgent string

	// MaxSize limits the maximum download size in bytes (0 = unlimited).
	MaxSize int64

	// Headers are added to every request (e.g. Auth-Key).
	Headers map[string]string
}

// DefaultDownloaderConfig returns sensible default configuration.
func DefaultDownloaderConfig() DownloaderConfig {
	return DownloaderConfig{
		Timeout:   60 * time.Second,
		UserAgent: "hikmaai-iocfeed/1.0",
		MaxSize:   256 * 1024 * 1024, // 256MB max
	}
}

// ErrTooLarge is returned when a payload exceeds its size limit. The
// payload is rejected rather than truncated.
var ErrTooLarge = errors.New("payload exceeds size limit")

// StatusError reports a non-200 response from the feed endpoint.
type StatusError struct {
	StatusCode int
	Status     string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

// Downloader handles HTTP downloads for feed data.
// It makes exactly one attempt per call; retries are left to the scheduler
// that invokes the pipeline.
type Downloader struct {
	client *http.Client
	config DownloaderConfig
}

// NewDownloader creates a new HTTP downloader.
// If config is nil, default configuration is used.
func NewDownloader(config *DownloaderConfig) *Downloader {
	cfg := DefaultDownloaderConfig()
	if config != nil {
		cfg = *config
	}

	return &Downloader{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
	}
}

// Download fetches data from the given URL.
func (d *Downloader) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if d.config.UserAgent != "" {
		req.Header.Set("User-Agent", d.config.UserAgent)
	}
	for k, v := range d.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	data, err := readLimited(resp.Body, d.config.MaxSize)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return data, nil
}

// readLimited reads r to the end. With a positive limit it reads one byte
// past the limit so an oversized payload fails with ErrTooLarge instead of
// being cut short.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}
