// ABOUTME: Feed source contract and a local-file source for offline normalization
// ABOUTME: Sources return the raw export text; parsing happens in the pipeline

package feeds

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Source provides the raw text of one feed snapshot.
type Source interface {
	// Name returns the name of the feed.
	Name() string

	// Fetch returns the full export body as text.
	Fetch(ctx context.Context) (string, error)
}

// FileSource reads a previously downloaded export from disk.
type FileSource struct {
	path string
}

// NewFileSource creates a source reading from path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Name returns the name of the feed.
func (f *FileSource) Name() string {
	return "file:" + filepath.Base(f.path)
}

// Fetch reads the file, decompressing ZIP or GZIP content.
func (f *FileSource) Fetch(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", f.path, err)
	}

	content, err := decompressIfNeeded(data)
	if err != nil {
		return "", fmt.Errorf("decompressing %s: %w", f.path, err)
	}

	return string(content), nil
}
