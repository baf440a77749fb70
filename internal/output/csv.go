// ABOUTME: Canonical CSV artifact writer with every field quoted
// ABOUTME: Writes to a temp file, fsyncs, and renames so a failed run never truncates output

package output

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/types"
)

// LineEnding terminates every CSV row.
const LineEnding = "\r\n"

// DefaultFileMode is the permission of written artifacts.
const DefaultFileMode os.FileMode = 0o644

// ErrNoPath is returned when the writer has no destination.
var ErrNoPath = errors.New("output path is empty")

// Artifact describes a written CSV file.
type Artifact struct {
	Path    string      `json:"path"`
	Shape   types.Shape `json:"shape"`
	Records int         `json:"records"`
	Bytes   int64       `json:"bytes"`
	SHA256  string      `json:"sha256"`
}

// CSVWriter writes records to a single destination file.
type CSVWriter struct {
	path string
	mode os.FileMode
}

// NewCSVWriter creates a writer for path.
func NewCSVWriter(path string) *CSVWriter {
	return &CSVWriter{path: path, mode: DefaultFileMode}
}

// Path returns the destination path.
func (w *CSVWriter) Path() string {
	return w.path
}

// WriteRecords writes the header for shape followed by one row per record.
// Records must already be in shape; a mismatch is an error.
// The destination is replaced only after the full file is on disk.
func (w *CSVWriter) WriteRecords(ctx context.Context, shape types.Shape, records []types.Record) (*Artifact, error) {
	if w.path == "" {
		return nil, ErrNoPath
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// Clean up on failure.
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	n, digest, err := Encode(tmp, shape, records)
	if err != nil {
		return nil, err
	}

	if err := tmp.Chmod(w.mode); err != nil {
		return nil, fmt.Errorf("setting file mode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing temp file: %w", err)
	}

	// Atomic rename.
	if err := os.Rename(tmpPath, w.path); err != nil {
		return nil, fmt.Errorf("renaming temp file: %w", err)
	}
	committed = true

	return &Artifact{
		Path:    w.path,
		Shape:   shape,
		Records: len(records),
		Bytes:   n,
		SHA256:  digest,
	}, nil
}

// Encode writes the quoted CSV for records to dst and returns the bytes
// written and their hex SHA-256.
func Encode(dst io.Writer, shape types.Shape, records []types.Record) (int64, string, error) {
	hash := sha256.New()
	counter := &countingWriter{w: io.MultiWriter(dst, hash)}
	bw := bufio.NewWriter(counter)

	if err := writeRow(bw, shape.Fields()); err != nil {
		return 0, "", fmt.Errorf("writing header: %w", err)
	}

	for i, rec := range records {
		if rec.Shape() != shape {
			return 0, "", fmt.Errorf("record %d has shape %s, want %s", i, rec.Shape(), shape)
		}
		if err := writeRow(bw, rec.Values()); err != nil {
			return 0, "", fmt.Errorf("writing record %d: %w", i, err)
		}
	}

	if err := bw.Flush(); err != nil {
		return 0, "", fmt.Errorf("flushing output: %w", err)
	}

	return counter.n, hex.EncodeToString(hash.Sum(nil)), nil
}

// writeRow writes fields with every value quoted and embedded quotes doubled.
func writeRow(w *bufio.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if err := w.WriteByte('"'); err != nil {
			return err
		}
		if _, err := w.WriteString(strings.ReplaceAll(f, `"`, `""`)); err != nil {
			return err
		}
		if err := w.WriteByte('"'); err != nil {
			return err
		}
	}
	_, err := w.WriteString(LineEnding)
	return err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
