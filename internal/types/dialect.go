// ABOUTME: Feed dialect describing delimiter, header presence, and schema of a snapshot
// ABOUTME: Defines the known ThreatFox CSV layouts and their minimum row widths

package types

import (
	"fmt"
	"strings"
)

// Schema identifies the field layout of a feed snapshot.
type Schema int

const (
	// SchemaUnknown means no known layout matched.
	SchemaUnknown Schema = iota
	// SchemaNamedRaw is a header-named layout mirroring the provider's columns.
	SchemaNamedRaw
	// SchemaNamedIPPort is a header-named ip/port projection.
	SchemaNamedIPPort
	// SchemaPositionalRaw is a headerless layout in provider column order.
	SchemaPositionalRaw
)

// Minimum row widths per schema.
const (
	RawMinFields    = 14
	IPPortMinFields = 9
)

// String returns the string representation of the schema.
func (s Schema) String() string {
	switch s {
	case SchemaNamedRaw:
		return "named_raw"
	case SchemaNamedIPPort:
		return "named_ip_port"
	case SchemaPositionalRaw:
		return "positional_raw"
	default:
		return "unknown"
	}
}

// MinFields returns the number of fields a row needs to be accepted.
func (s Schema) MinFields() int {
	switch s {
	case SchemaNamedRaw, SchemaPositionalRaw:
		return RawMinFields
	case SchemaNamedIPPort:
		return IPPortMinFields
	default:
		return 0
	}
}

// Dialect is the result of schema detection for one feed fetch.
// It is built once by the detector and only read afterwards.
type Dialect struct {
	// Delimiter is ',' or ';'.
	Delimiter rune `json:"delimiter"`

	// HasHeader reports whether the first content line names the columns.
	HasHeader bool `json:"has_header"`

	// Schema is the detected layout.
	Schema Schema `json:"schema"`

	// Header holds the trimmed column names when HasHeader is set.
	Header []string `json:"header,omitempty"`
}

// MinFields returns the minimum row width for this dialect.
// Header-named layouts never demand more columns than the header declares,
// so a header that omits an optional column still yields rows.
func (d Dialect) MinFields() int {
	minFields := d.Schema.MinFields()
	if d.HasHeader && len(d.Header) > 0 && len(d.Header) < minFields {
		return len(d.Header)
	}
	return minFields
}

// String returns a compact description for logs and diagnostics.
func (d Dialect) String() string {
	return fmt.Sprintf("schema=%s delimiter=%q header=%t", d.Schema, d.Delimiter, d.HasHeader)
}

// Shape selects one of the two canonical output field lists.
type Shape int

const (
	// ShapeRaw is the 14-field provider-mirrored layout.
	ShapeRaw Shape = iota
	// ShapeIPPort is the 12-field ip/port projection.
	ShapeIPPort
)

// String returns the string representation of the shape.
func (s Shape) String() string {
	switch s {
	case ShapeIPPort:
		return "ip-port"
	default:
		return "raw"
	}
}

// Fields returns a copy of the canonical column names for the shape.
func (s Shape) Fields() []string {
	var src []string
	switch s {
	case ShapeIPPort:
		src = IPPortFields
	default:
		src = RawFields
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// ParseShape parses a shape name as used in configuration and flags.
func ParseShape(name string) (Shape, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "raw", "provider":
		return ShapeRaw, nil
	case "ip-port", "ip_port", "ipport":
		return ShapeIPPort, nil
	default:
		return ShapeRaw, fmt.Errorf("unknown output shape %q (available: raw, ip-port)", name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Shape) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Shape) UnmarshalText(text []byte) error {
	shape, err := ParseShape(string(text))
	if err != nil {
		return err
	}
	*s = shape
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Schema) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Schema) UnmarshalText(text []byte) error {
	switch string(text) {
	case "named_raw":
		*s = SchemaNamedRaw
	case "named_ip_port":
		*s = SchemaNamedIPPort
	case "positional_raw":
		*s = SchemaPositionalRaw
	default:
		*s = SchemaUnknown
	}
	return nil
}
