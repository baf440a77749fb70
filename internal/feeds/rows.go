// ABOUTME: Dialect-aware row splitting for sanitized feed lines
// ABOUTME: Honors quoted fields and drops rows narrower than the schema minimum

package feeds

import (
	"encoding/csv"
	"strings"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/types"
)

// ParseRow splits one content line using the dialect's delimiter.
// It returns false when the line cannot be split or has fewer fields than
// the dialect requires; such rows are expected noise and not an error.
func ParseRow(line string, d types.Dialect) ([]string, bool) {
	fields, ok := splitLine(line, d.Delimiter)
	if !ok {
		return nil, false
	}

	if len(fields) < d.MinFields() {
		return nil, false
	}

	return fields, true
}

// splitLine parses a single CSV line. Quoted fields may contain the
// delimiter and doubled quotes. Leading spaces are skipped because ThreatFox
// separates quoted values with ", ".
func splitLine(line string, delimiter rune) ([]string, bool) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1 // Allow variable fields.
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	record, err := reader.Read()
	if err != nil {
		return nil, false
	}

	return record, true
}

// countOutsideQuotes counts occurrences of r that are not inside a
// double-quoted section of line.
func countOutsideQuotes(line string, r rune) int {
	count := 0
	inQuotes := false

	for _, c := range line {
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == r && !inQuotes:
			count++
		}
	}

	return count
}
