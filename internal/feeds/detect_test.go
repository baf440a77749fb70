// ABOUTME: Tests for schema detection and row parsing of ThreatFox snapshots
// ABOUTME: Covers semicolon, comma-named, ip/port, and positional layouts plus failures

package feeds

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/types"
)

const (
	semicolonHeader = `"first_seen_utc";"ioc_id";"ioc_value";"ioc_type";"threat_type";"fk_malware";"malware_alias";"malware_printable";"last_seen_utc";"confidence_level";"reference";"tags";"anonymous";"reporter"`
	commaRawHeader  = `"first_seen_utc","ioc_id","ioc_value","ioc_type","threat_type","fk_malware","malware_alias","malware_printable","last_seen_utc","confidence_level","reference","tags","anonymous","reporter"`
	ipPortHeader    = `ip,port,ioc_type,threat_type,malware,confidence_level,reference,first_seen,last_seen`
)

// semicolonRow builds a 14-field semicolon row for the raw layout.
func semicolonRow(id, value, reporter string) string {
	fields := []string{
		"2024-05-01 10:00:00", id, value, "ip:port", "botnet_cc", "win.cobalt_strike",
		"", "Cobalt Strike", "", "100", "", "c2,cobaltstrike", "0", reporter,
	}
	return `"` + strings.Join(fields, `";"`) + `"`
}

// positionalRow builds a headerless comma row in the ", " style of the
// recent export.
func positionalRow(id, value string) string {
	fields := []string{
		"2024-05-01 10:00:00", id, value, "ip:port", "botnet_cc", "win.qakbot",
		"qbot", "QakBot", "", "75", "https://example.test/ref", "Qakbot", "0", "abuse_ch",
	}
	return `"` + strings.Join(fields, `", "`) + `"`
}

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		first         string
		wantSchema    types.Schema
		wantDelimiter rune
		wantHeader    bool
	}{
		{
			name:          "semicolon raw header",
			first:         semicolonHeader,
			wantSchema:    types.SchemaNamedRaw,
			wantDelimiter: ';',
			wantHeader:    true,
		},
		{
			name:          "comma raw header",
			first:         commaRawHeader,
			wantSchema:    types.SchemaNamedRaw,
			wantDelimiter: ',',
			wantHeader:    true,
		},
		{
			name:          "ip port header",
			first:         ipPortHeader,
			wantSchema:    types.SchemaNamedIPPort,
			wantDelimiter: ',',
			wantHeader:    true,
		},
		{
			name:          "ip port header with aliases and case",
			first:         "IP_Address, Dst_Port, Malware",
			wantSchema:    types.SchemaNamedIPPort,
			wantDelimiter: ',',
			wantHeader:    true,
		},
		{
			name:          "headerless data row",
			first:         positionalRow("1", "1.2.3.4:443"),
			wantSchema:    types.SchemaPositionalRaw,
			wantDelimiter: ',',
			wantHeader:    false,
		},
		{
			name:          "semicolon inside quotes is not a delimiter",
			first:         `"2024-05-01 10:00:00", "1", "a;b"`,
			wantSchema:    types.SchemaPositionalRaw,
			wantDelimiter: ',',
			wantHeader:    false,
		},
		{
			name:          "headerless semicolon row",
			first:         semicolonRow("1", "1.2.3.4:443", "alice"),
			wantSchema:    types.SchemaPositionalRaw,
			wantDelimiter: ';',
			wantHeader:    false,
		},
		{
			name:          "semicolon header with a spaced column name",
			first:         strings.Replace(semicolonHeader, `"reporter"`, `"reporter name"`, 1),
			wantSchema:    types.SchemaNamedRaw,
			wantDelimiter: ';',
			wantHeader:    true,
		},
		{
			name:          "semicolon header with a hyphenated column name",
			first:         `"ioc_id";"ioc_value";"last-seen"`,
			wantSchema:    types.SchemaNamedRaw,
			wantDelimiter: ';',
			wantHeader:    true,
		},
		{
			name:          "semicolon header using id alias",
			first:         "id;ioc_value;tags",
			wantSchema:    types.SchemaNamedRaw,
			wantDelimiter: ';',
			wantHeader:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d, err := Detect([]string{tt.first})
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if d.Schema != tt.wantSchema {
				t.Errorf("Schema = %v, want %v", d.Schema, tt.wantSchema)
			}
			if d.Delimiter != tt.wantDelimiter {
				t.Errorf("Delimiter = %q, want %q", d.Delimiter, tt.wantDelimiter)
			}
			if d.HasHeader != tt.wantHeader {
				t.Errorf("HasHeader = %v, want %v", d.HasHeader, tt.wantHeader)
			}
			if tt.wantHeader && len(d.Header) == 0 {
				t.Error("Header is empty for a header dialect")
			}
		})
	}
}

func TestDetect_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		lines      []string
		wantErr    error
		wantHeader bool
	}{
		{
			name:    "no lines",
			lines:   nil,
			wantErr: ErrNoContent,
		},
		{
			name:       "semicolon header without identifier",
			lines:      []string{"first_seen_utc;ioc_value;tags"},
			wantErr:    ErrUnrecognizedSchema,
			wantHeader: true,
		},
		{
			name:       "comma header without identifier or endpoint",
			lines:      []string{"ioc_value,tags,reporter"},
			wantErr:    ErrUnrecognizedSchema,
			wantHeader: true,
		},
		{
			name:       "comma header with identifier and endpoint",
			lines:      []string{"ioc_id,ip,port"},
			wantErr:    ErrUnrecognizedSchema,
			wantHeader: true,
		},
		{
			name:       "comma header of unknown names",
			lines:      []string{"date,indicator,kind", "2024-01-01,1.2.3.4:443,ip:port"},
			wantErr:    ErrUnrecognizedSchema,
			wantHeader: true,
		},
		{
			name:       "semicolon header of unknown names",
			lines:      []string{"date;indicator;kind"},
			wantErr:    ErrUnrecognizedSchema,
			wantHeader: true,
		},
		{
			name:       "address without port",
			lines:      []string{"ip,malware,reference"},
			wantErr:    ErrUnrecognizedSchema,
			wantHeader: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Detect(tt.lines)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Detect() error = %v, want %v", err, tt.wantErr)
			}

			if !tt.wantHeader {
				return
			}
			var schemaErr *SchemaError
			if !errors.As(err, &schemaErr) {
				t.Fatalf("Detect() error type = %T, want *SchemaError", err)
			}
			if len(schemaErr.Header) == 0 {
				t.Error("SchemaError.Header is empty")
			}
		})
	}
}

func TestDetect_SpacedHeaderIsNotARecord(t *testing.T) {
	t.Parallel()

	header := strings.Replace(semicolonHeader, `"reporter"`, `"reporter name"`, 1)
	lines := []string{header, semicolonRow("111", "1.2.3.4:443", "alice")}

	d, err := Detect(lines)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if d.Header[len(d.Header)-1] != "reporter name" {
		t.Errorf("Header = %q, want the names verbatim", d.Header)
	}

	n := NewNormalizer(d, NormalizerOptions{})
	var ids []string
	for _, line := range lines[1:] {
		row, ok := ParseRow(line, d)
		if !ok {
			continue
		}
		if rec, ok := n.Normalize(row); ok {
			ids = append(ids, rec.IdentityKey())
		}
	}
	if fmt.Sprint(ids) != "[111]" {
		t.Errorf("records = %v, want only the data row", ids)
	}
}

func TestDetect_HeaderIsTrimmed(t *testing.T) {
	t.Parallel()

	d, err := Detect([]string{"ioc_id ; ioc_value ;tags"})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	want := []string{"ioc_id", "ioc_value", "tags"}
	if fmt.Sprint(d.Header) != fmt.Sprint(want) {
		t.Errorf("Header = %q, want %q", d.Header, want)
	}
}

func TestParseRow(t *testing.T) {
	t.Parallel()

	raw := types.Dialect{Delimiter: ',', Schema: types.SchemaPositionalRaw}
	semi, err := Detect([]string{semicolonHeader})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	short := types.Dialect{
		Delimiter: ';',
		HasHeader: true,
		Schema:    types.SchemaNamedRaw,
		Header:    []string{"ioc_id", "ioc_value", "reporter"},
	}

	tests := []struct {
		name       string
		line       string
		dialect    types.Dialect
		wantOK     bool
		wantFields int
	}{
		{
			name:       "full positional row",
			line:       positionalRow("42", "1.2.3.4:443"),
			dialect:    raw,
			wantOK:     true,
			wantFields: 14,
		},
		{
			name:    "positional row with ten fields",
			line:    "a,b,c,d,e,f,g,h,i,j",
			dialect: raw,
			wantOK:  false,
		},
		{
			name:       "semicolon row",
			line:       semicolonRow("7", "5.6.7.8:80", "alice"),
			dialect:    semi,
			wantOK:     true,
			wantFields: 14,
		},
		{
			name:       "quoted delimiter kept in field",
			line:       `"1";"a;b";"c"`,
			dialect:    short,
			wantOK:     true,
			wantFields: 3,
		},
		{
			name:    "narrower than short header",
			line:    `"1";"x"`,
			dialect: short,
			wantOK:  false,
		},
		{
			name:       "wider rows are kept",
			line:       `"1";"x";"y";"extra"`,
			dialect:    short,
			wantOK:     true,
			wantFields: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fields, ok := ParseRow(tt.line, tt.dialect)
			if ok != tt.wantOK {
				t.Fatalf("ParseRow() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && len(fields) != tt.wantFields {
				t.Errorf("len(fields) = %d, want %d", len(fields), tt.wantFields)
			}
		})
	}
}

func TestParseRow_QuotedValues(t *testing.T) {
	t.Parallel()

	d := types.Dialect{
		Delimiter: ';',
		HasHeader: true,
		Schema:    types.SchemaNamedRaw,
		Header:    []string{"ioc_id", "ioc_value", "reporter"},
	}

	fields, ok := ParseRow(`"1";"a;b";"say ""hi"""`, d)
	if !ok {
		t.Fatal("ParseRow() ok = false, want true")
	}
	if fields[1] != "a;b" {
		t.Errorf("fields[1] = %q, want %q", fields[1], "a;b")
	}
	if fields[2] != `say "hi"` {
		t.Errorf("fields[2] = %q, want %q", fields[2], `say "hi"`)
	}
}

func TestCountOutsideQuotes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want int
	}{
		{line: "a;b;c", want: 2},
		{line: `"a;b";c`, want: 1},
		{line: `"a;b","c;d"`, want: 0},
		{line: "", want: 0},
	}

	for _, tt := range tests {
		if got := countOutsideQuotes(tt.line, ';'); got != tt.want {
			t.Errorf("countOutsideQuotes(%q) = %d, want %d", tt.line, got, tt.want)
		}
	}
}
