// ABOUTME: Fatal error taxonomy for pipeline runs
// ABOUTME: Sentinels for errors.Is plus ErrorContext codes, categories, and stages

package pipeline

import (
	"errors"
	"fmt"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/feeds"
	"github.com/hikmaai-io/hikmaai-iocfeed/internal/observability"
)

// Fatal pipeline errors. A run that returns one of these writes nothing.
var (
	// ErrFetchFailure is returned when the feed cannot be retrieved.
	ErrFetchFailure = errors.New("feed fetch failed")

	// ErrEmptyAfterSanitize is returned when no content lines remain.
	ErrEmptyAfterSanitize = errors.New("no content lines after sanitizing")

	// ErrUnrecognizedSchema is returned when no known layout matches.
	ErrUnrecognizedSchema = feeds.ErrUnrecognizedSchema

	// ErrZeroRecords is returned when no row produced a usable record.
	ErrZeroRecords = errors.New("zero records after parsing")

	// ErrWriteFailure is returned when the artifact cannot be written.
	ErrWriteFailure = errors.New("artifact write failed")
)

// Error codes carried by ErrorContext.
const (
	CodeFetchFailure       = "FETCH_FAILURE"
	CodeEmptyAfterSanitize = "EMPTY_AFTER_SANITIZE"
	CodeUnrecognizedSchema = "UNRECOGNIZED_SCHEMA"
	CodeZeroRecords        = "ZERO_RECORDS"
	CodeWriteFailure       = "WRITE_FAILURE"
)

// Stage names used for errors, spans, and metrics.
const (
	StageFetch    = "fetch"
	StageSanitize = "sanitize"
	StageDetect   = "detect"
	StageParse    = "parse"
	StageDedup    = "dedup"
	StageProject  = "project"
	StageWrite    = "write"
)

// stageError wraps sentinel and cause in an ErrorContext so both the
// sentinel and the underlying cause satisfy errors.Is.
func stageError(code, category, stage string, sentinel, cause error) *observability.ErrorContext {
	err := sentinel
	if cause != nil && !errors.Is(cause, sentinel) {
		err = fmt.Errorf("%w: %w", sentinel, cause)
	} else if cause != nil {
		err = cause
	}

	return observability.NewErrorContext(code, category, stage).WithError(err)
}

func fetchError(cause error) error {
	return stageError(CodeFetchFailure, observability.CategoryTransient, StageFetch, ErrFetchFailure, cause)
}

func emptyError() error {
	return stageError(CodeEmptyAfterSanitize, observability.CategoryPermanent, StageSanitize, ErrEmptyAfterSanitize, nil)
}

// schemaError keeps the attempted header in the details.
func schemaError(cause error) error {
	ec := stageError(CodeUnrecognizedSchema, observability.CategoryPermanent, StageDetect, ErrUnrecognizedSchema, cause)

	var se *feeds.SchemaError
	if errors.As(cause, &se) {
		ec.WithDetails(map[string]any{
			"delimiter": string(se.Delimiter),
			"header":    se.Header,
			"reason":    se.Reason,
		})
	}
	return ec
}

func zeroRecordsError(stats Stats) error {
	return stageError(CodeZeroRecords, observability.CategoryPermanent, StageParse, ErrZeroRecords, nil).
		WithDetails(map[string]any{
			"lines":        stats.Lines,
			"rows_dropped": stats.RowsDropped,
			"duplicates":   stats.Duplicates,
		})
}

func writeError(cause error) error {
	return stageError(CodeWriteFailure, observability.CategoryTransient, StageWrite, ErrWriteFailure, cause).WithStack()
}
