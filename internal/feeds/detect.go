// ABOUTME: Structural schema detection for ThreatFox CSV snapshots
// ABOUTME: Chooses delimiter, header presence, and layout from the first content line

package feeds

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/types"
)

// Detection errors.
var (
	// ErrNoContent is returned when there are no content lines to inspect.
	ErrNoContent = errors.New("no content lines")

	// ErrUnrecognizedSchema is returned when no known layout matches.
	ErrUnrecognizedSchema = errors.New("unrecognized feed schema")
)

// SchemaError describes a detection failure together with the header that
// was attempted, so a format drift can be diagnosed from the error alone.
type SchemaError struct {
	Delimiter rune
	Header    []string
	Reason    string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: %s (delimiter %q, header %q)",
		ErrUnrecognizedSchema, e.Reason, e.Delimiter, e.Header)
}

// Unwrap allows errors.Is(err, ErrUnrecognizedSchema).
func (e *SchemaError) Unwrap() error {
	return ErrUnrecognizedSchema
}

// Column name aliases observed across feed releases.
var (
	identifierAliases = []string{types.FieldIOCID, "id", "iocid"}
	addressAliases    = []string{types.FieldIP, "ip_address", "address", "dst_ip"}
	portAliases       = []string{types.FieldPort, "dst_port"}
	malwareAliases    = []string{types.FieldMalware, types.FieldMalwarePrintable}
	firstSeenAliases  = []string{types.FieldFirstSeen, types.FieldFirstSeenUTC}
	lastSeenAliases   = []string{types.FieldLastSeen, types.FieldLastSeenUTC}
)

// headerToken matches a bare column name.
var headerToken = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// dataToken matches values that only appear in data rows: timestamps,
// dates, integers, and IPv4 addresses.
var dataToken = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}|\d+$|\d{1,3}(\.\d{1,3}){3})`)

// vocabulary holds every column name the detector recognizes.
var vocabulary = buildVocabulary()

func buildVocabulary() map[string]struct{} {
	vocab := make(map[string]struct{})
	groups := [][]string{
		types.RawFields, types.IPPortFields,
		identifierAliases, addressAliases, portAliases,
		malwareAliases, firstSeenAliases, lastSeenAliases,
	}
	for _, group := range groups {
		for _, name := range group {
			vocab[name] = struct{}{}
		}
	}
	return vocab
}

// Detect inspects the content lines and returns the feed dialect.
//
// A ';' outside quotes selects the semicolon delimiter: a header line must
// name an IOC identifier (named raw layout), and a data line selects the
// positional raw layout. Otherwise the line is comma-delimited: a header
// naming address and port columns selects the ip/port layout, a header
// naming an IOC identifier selects the named raw layout, and a data line
// selects the positional raw layout. A line of column names the detector
// does not know, or a header matching neither rule, fails with a
// *SchemaError carrying the attempted header.
func Detect(lines []string) (types.Dialect, error) {
	if len(lines) == 0 {
		return types.Dialect{}, ErrNoContent
	}

	first := lines[0]

	if countOutsideQuotes(first, ';') > 0 {
		return detectSemicolon(first)
	}

	fields, ok := splitLine(first, ',')
	if !ok {
		return positional(','), nil
	}

	header := trimFields(fields)
	switch classifyLine(fields) {
	case lineData:
		return positional(','), nil
	case lineUnknownHeader:
		return types.Dialect{}, &SchemaError{
			Delimiter: ',',
			Header:    header,
			Reason:    "header names no known column",
		}
	}

	index := newHeaderIndex(header)
	hasID := index.hasAny(identifierAliases...)
	hasEndpoint := index.hasAny(addressAliases...) && index.hasAny(portAliases...)

	switch {
	case hasEndpoint && !hasID:
		return types.Dialect{
			Delimiter: ',',
			HasHeader: true,
			Schema:    types.SchemaNamedIPPort,
			Header:    header,
		}, nil
	case hasID && !hasEndpoint:
		return types.Dialect{
			Delimiter: ',',
			HasHeader: true,
			Schema:    types.SchemaNamedRaw,
			Header:    header,
		}, nil
	case hasID && hasEndpoint:
		return types.Dialect{}, &SchemaError{
			Delimiter: ',',
			Header:    header,
			Reason:    "header names both an IOC identifier and an address/port pair",
		}
	default:
		return types.Dialect{}, &SchemaError{
			Delimiter: ',',
			Header:    header,
			Reason:    "header names neither an IOC identifier nor an address/port pair",
		}
	}
}

func detectSemicolon(first string) (types.Dialect, error) {
	fields, ok := splitLine(first, ';')
	if !ok {
		return types.Dialect{}, &SchemaError{
			Delimiter: ';',
			Header:    []string{first},
			Reason:    "header line could not be parsed",
		}
	}

	header := trimFields(fields)
	switch classifyLine(fields) {
	case lineData:
		return positional(';'), nil
	case lineUnknownHeader:
		return types.Dialect{}, &SchemaError{
			Delimiter: ';',
			Header:    header,
			Reason:    "header names no known column",
		}
	}

	if !newHeaderIndex(header).hasAny(identifierAliases...) {
		return types.Dialect{}, &SchemaError{
			Delimiter: ';',
			Header:    header,
			Reason:    "semicolon header names no IOC identifier column",
		}
	}

	return types.Dialect{
		Delimiter: ';',
		HasHeader: true,
		Schema:    types.SchemaNamedRaw,
		Header:    header,
	}, nil
}

func positional(delim rune) types.Dialect {
	return types.Dialect{
		Delimiter: delim,
		HasHeader: false,
		Schema:    types.SchemaPositionalRaw,
	}
}

// lineKind classifies the first content line.
type lineKind int

const (
	lineData lineKind = iota
	lineHeader
	lineUnknownHeader
)

// classifyLine decides whether fields form a data row or a header. Any
// data-shaped value makes it data. Otherwise one known column name is
// enough for a header, so names with spaces or hyphens survive. A line of
// bare names none of which are known is an unknown header.
func classifyLine(fields []string) lineKind {
	nonEmpty, tokens, known := 0, 0, 0
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		nonEmpty++
		if dataToken.MatchString(f) {
			return lineData
		}
		if headerToken.MatchString(f) {
			tokens++
		}
		if _, ok := vocabulary[f]; ok {
			known++
		}
	}

	switch {
	case known > 0:
		return lineHeader
	case nonEmpty > 0 && tokens == nonEmpty:
		return lineUnknownHeader
	default:
		return lineData
	}
}

func trimFields(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.TrimSpace(f)
	}
	return out
}

// headerIndex maps lower-cased column names to their position.
// Later duplicates win.
type headerIndex map[string]int

func newHeaderIndex(header []string) headerIndex {
	idx := make(headerIndex, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return idx
}

func (h headerIndex) hasAny(names ...string) bool {
	for _, name := range names {
		if _, ok := h[name]; ok {
			return true
		}
	}
	return false
}
