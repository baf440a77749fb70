// ABOUTME: abuse.ch ThreatFox export source (recent ip:port CSV and full ZIP exports)
// ABOUTME: Downloads the export once with a bounded timeout and returns it as text

package feeds

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"maps"
)

// ThreatFox export URLs.
const (
	ThreatFoxDefaultURL = "https://threatfox.abuse.ch/export/csv/ip-port/recent/"
	ThreatFoxFullURL    = "https://threatfox.abuse.ch/export/csv/full/"
)

// AuthKeyHeader carries the abuse.ch API key.
const AuthKeyHeader = "Auth-Key"

// maxDecompressedSize caps archive extraction to prevent zip bombs.
const maxDecompressedSize = 512 * 1024 * 1024 // 512MB

// ThreatFoxFeed downloads the ThreatFox CSV export.
type ThreatFoxFeed struct {
	url        string
	downloader *Downloader
}

// NewThreatFoxFeed creates a ThreatFox source. If config is nil, default
// downloader configuration is used.
func NewThreatFoxFeed(config *DownloaderConfig) *ThreatFoxFeed {
	return &ThreatFoxFeed{
		url:        ThreatFoxDefaultURL,
		downloader: NewDownloader(config),
	}
}

// Name returns the name of the feed.
func (f *ThreatFoxFeed) Name() string {
	return "threatfox"
}

// URL returns the export URL.
func (f *ThreatFoxFeed) URL() string {
	return f.url
}

// RequestHeaders returns a copy of the headers sent with every request.
func (f *ThreatFoxFeed) RequestHeaders() map[string]string {
	return maps.Clone(f.downloader.config.Headers)
}

// SetURL overrides the default URL (useful for testing).
func (f *ThreatFoxFeed) SetURL(url string) {
	if url != "" {
		f.url = url
	}
}

// Fetch downloads the export and returns it as text.
func (f *ThreatFoxFeed) Fetch(ctx context.Context) (string, error) {
	data, err := f.downloader.Download(ctx, f.url)
	if err != nil {
		return "", fmt.Errorf("downloading threatfox feed: %w", err)
	}

	content, err := decompressIfNeeded(data)
	if err != nil {
		return "", fmt.Errorf("decompressing threatfox feed: %w", err)
	}

	return string(content), nil
}

// decompressIfNeeded detects and decompresses ZIP or GZIP data.
func decompressIfNeeded(data []byte) ([]byte, error) {
	return decompressWithLimit(data, maxDecompressedSize)
}

// decompressWithLimit decompresses archives, failing with ErrTooLarge when
// the extracted content is larger than limit.
func decompressWithLimit(data []byte, limit int64) ([]byte, error) {
	// Check for ZIP magic bytes (PK\x03\x04).
	if len(data) >= 4 && data[0] == 'P' && data[1] == 'K' && data[2] == 0x03 && data[3] == 0x04 {
		return decompressZIP(data, limit)
	}

	// Check for GZIP magic bytes.
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		return decompressGZIP(data, limit)
	}

	return data, nil
}

// decompressZIP extracts the first file from a ZIP archive.
func decompressZIP(data []byte, limit int64) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening zip: %w", err)
	}

	if len(reader.File) == 0 {
		return nil, fmt.Errorf("zip archive is empty")
	}

	f := reader.File[0]
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening zip file %s: %w", f.Name, err)
	}
	defer rc.Close()

	content, err := readLimited(rc, limit)
	if err != nil {
		return nil, fmt.Errorf("reading zip file %s: %w", f.Name, err)
	}

	return content, nil
}

// decompressGZIP decompresses GZIP data.
func decompressGZIP(data []byte, limit int64) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening gzip: %w", err)
	}
	defer reader.Close()

	content, err := readLimited(reader, limit)
	if err != nil {
		return nil, fmt.Errorf("reading gzip: %w", err)
	}

	return content, nil
}
