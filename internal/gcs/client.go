// ABOUTME: GCS uploader that publishes written feed artifacts to a bucket
// ABOUTME: Supports ADC authentication, emulator mode, and checksum verification before upload

package gcs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/observability"
	"github.com/hikmaai-io/hikmaai-iocfeed/internal/pipeline"
)

// ContentTypeCSV is the content type set on uploaded artifacts.
const ContentTypeCSV = "text/csv; charset=utf-8"

// ErrNoArtifact is returned when a result carries nothing to upload.
var ErrNoArtifact = errors.New("run result has no artifact")

// Config holds GCS uploader configuration.
type Config struct {
	// Bucket is the GCS bucket name. A gs://bucket/prefix URI is also
	// accepted; its path becomes the prefix when Prefix is empty.
	Bucket string

	// Prefix is prepended to the artifact file name to form the object name.
	Prefix string

	// ProjectID is the GCP project ID (optional for ADC).
	ProjectID string

	// CredentialsFile is the path to service account JSON (optional).
	// If empty, uses Application Default Credentials (ADC).
	CredentialsFile string

	// EmulatorHost is the GCS emulator host (e.g., "localhost:4443").
	// When set, the uploader talks HTTP to the JSON API directly because
	// fake-gcs-server does not accept the SDK's path-style upload URLs.
	EmulatorHost string
}

// Validate checks that required fields are set.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Prefix, "..") {
		return fmt.Errorf("prefix %q must not contain ..", c.Prefix)
	}
	return nil
}

// UploadResult describes an uploaded object.
type UploadResult struct {
	// URI is the gs:// location of the object.
	URI string

	// Checksum is the SHA256 hash of the uploaded bytes.
	Checksum string

	// Size is the object size in bytes.
	Size int64
}

// Uploader wraps the GCS storage client.
type Uploader struct {
	storageClient *storage.Client
	httpClient    *http.Client
	bucket        string
	prefix        string
	emulatorHost  string // Non-empty when using emulator mode
	logger        *slog.Logger
}

// NewUploader creates a new GCS uploader.
// When STORAGE_EMULATOR_HOST is set or EmulatorHost is configured,
// the uploader uses HTTP directly.
func NewUploader(ctx context.Context, cfg Config, logger *slog.Logger) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Explicit config takes precedence, then env var.
	emulatorHost := cfg.EmulatorHost
	if emulatorHost == "" {
		emulatorHost = os.Getenv("STORAGE_EMULATOR_HOST")
	}

	bucket, prefix := cfg.Bucket, cfg.Prefix
	if strings.HasPrefix(bucket, "gs://") {
		b, object, err := ParseGCSURI(bucket)
		if err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		bucket = b
		if prefix == "" {
			prefix = object
		}
		if strings.Contains(prefix, "..") {
			return nil, fmt.Errorf("invalid config: prefix %q must not contain ..", prefix)
		}
	}

	u := &Uploader{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}

	if emulatorHost != "" {
		u.httpClient = &http.Client{}
		u.emulatorHost = strings.TrimPrefix(strings.TrimPrefix(emulatorHost, "http://"), "https://")
		return u, nil
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.ProjectID != "" {
		opts = append(opts, option.WithQuotaProject(cfg.ProjectID))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	u.storageClient = client

	return u, nil
}

// Close closes the GCS client.
func (u *Uploader) Close() error {
	if u.storageClient != nil {
		return u.storageClient.Close()
	}
	return nil
}

// IsEmulatorMode returns true if the uploader is configured for emulator mode.
func (u *Uploader) IsEmulatorMode() bool {
	return u.emulatorHost != ""
}

// Name identifies the uploader in logs and audit events.
func (u *Uploader) Name() string {
	return "gcs"
}

// ObjectName returns the object name for a local artifact path.
func (u *Uploader) ObjectName(localPath string) string {
	name := filepath.Base(localPath)
	if u.prefix == "" {
		return name
	}
	return path.Join(u.prefix, name)
}

// Publish uploads the artifact of a successful run.
func (u *Uploader) Publish(ctx context.Context, result *pipeline.Result) error {
	if result == nil || result.Artifact == nil {
		return ErrNoArtifact
	}

	ctx, span := observability.StartSpan(ctx, "gcs.upload")
	var err error
	defer func() { observability.EndSpan(span, err) }()

	// The file on disk must still be the one the run produced.
	if result.Artifact.SHA256 != "" {
		if err = VerifyChecksum(result.Artifact.Path, result.Artifact.SHA256); err != nil {
			return err
		}
	}

	res, err := u.Upload(ctx, result.Artifact.Path, map[string]string{
		"run_id": result.RunID,
		"feed":   result.Feed,
		"shape":  result.Shape.String(),
		"sha256": result.Artifact.SHA256,
	})
	if err != nil {
		return err
	}

	observability.LogWithContext(ctx, u.logger, slog.LevelInfo, "uploaded artifact",
		slog.String("uri", res.URI),
		slog.Int64("size", res.Size),
	)
	return nil
}

// Upload copies a local file to the bucket.
func (u *Uploader) Upload(ctx context.Context, localPath string, metadata map[string]string) (*UploadResult, error) {
	objectName := u.ObjectName(localPath)

	file, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("opening local file %s: %w", localPath, err)
	}
	defer file.Close()

	hasher := sha256.New()
	reader := io.TeeReader(file, hasher)

	var size int64
	if u.emulatorHost != "" {
		size, err = u.uploadViaHTTP(ctx, objectName, reader)
	} else {
		size, err = u.uploadViaSDK(ctx, objectName, reader, metadata)
	}
	if err != nil {
		return nil, err
	}

	return &UploadResult{
		URI:      fmt.Sprintf("gs://%s/%s", u.bucket, objectName),
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
		Size:     size,
	}, nil
}

// uploadViaHTTP uses the JSON API media upload endpoint.
func (u *Uploader) uploadViaHTTP(ctx context.Context, objectName string, body io.Reader) (int64, error) {
	// Format: http://{host}/upload/storage/v1/b/{bucket}/o?uploadType=media&name={object}
	uploadURL := fmt.Sprintf("http://%s/upload/storage/v1/b/%s/o?uploadType=media&name=%s",
		u.emulatorHost, url.PathEscape(u.bucket), url.QueryEscape(objectName))

	counter := &countingReader{r: body}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, counter)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", ContentTypeCSV)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executing request to %s: %w", uploadURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return 0, fmt.Errorf("uploading object %s/%s: HTTP %d", u.bucket, objectName, resp.StatusCode)
	}

	return counter.n, nil
}

func (u *Uploader) uploadViaSDK(ctx context.Context, objectName string, body io.Reader, metadata map[string]string) (int64, error) {
	w := u.storageClient.Bucket(u.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = ContentTypeCSV
	w.Metadata = metadata

	size, err := io.Copy(w, body)
	if err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("uploading object %s/%s: %w", u.bucket, objectName, err)
	}

	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("finalizing object %s/%s: %w", u.bucket, objectName, err)
	}

	return size, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// ParseGCSURI parses a gs:// URI into bucket and object path.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if uri == "" {
		return "", "", errors.New("empty URI")
	}

	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: must start with gs://")
	}

	rest := strings.TrimPrefix(uri, "gs://")

	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		return "", "", errors.New("invalid GCS URI: missing bucket")
	}

	bucket = parts[0]
	if len(parts) > 1 {
		object = parts[1]
	}

	return bucket, object, nil
}

// ComputeSHA256 computes the SHA256 hash of a file.
func ComputeSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("computing hash: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifyChecksum verifies that a file matches the expected SHA256 checksum.
func VerifyChecksum(filePath, expected string) error {
	actual, err := ComputeSHA256(filePath)
	if err != nil {
		return err
	}

	if actual != expected {
		return fmt.Errorf("checksum mismatch: got %s, expected %s", actual, expected)
	}

	return nil
}
