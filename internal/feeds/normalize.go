// ABOUTME: Record normalizer mapping parsed rows into canonical indicator records
// ABOUTME: Handles header-named, positional, and ip/port layouts with trimming and defaults

package feeds

import (
	"strings"
	"time"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/types"
)

// DefaultSource is the literal source tag applied to ip/port records.
const DefaultSource = "ThreatFox"

// CollectionTimeLayout formats the per-run collection timestamp.
const CollectionTimeLayout = time.RFC3339

// NormalizerOptions configures a Normalizer.
type NormalizerOptions struct {
	// Source is the literal source tag. Empty uses DefaultSource.
	Source string

	// CollectedAt is the run's collection time, shared by every record.
	// Zero uses the time the normalizer is created.
	CollectedAt time.Time
}

// Normalizer converts parsed rows of one feed snapshot into records.
// It is created once per run so all records carry the same collection time.
type Normalizer struct {
	dialect     types.Dialect
	index       headerIndex
	source      string
	collectedAt string
}

// NewNormalizer creates a normalizer for the detected dialect.
func NewNormalizer(d types.Dialect, opts NormalizerOptions) *Normalizer {
	source := opts.Source
	if source == "" {
		source = DefaultSource
	}

	collectedAt := opts.CollectedAt
	if collectedAt.IsZero() {
		collectedAt = time.Now()
	}

	n := &Normalizer{
		dialect:     d,
		source:      source,
		collectedAt: collectedAt.UTC().Format(CollectionTimeLayout),
	}
	if d.HasHeader {
		n.index = newHeaderIndex(d.Header)
	}

	return n
}

// CollectedAt returns the formatted collection timestamp of the run.
func (n *Normalizer) CollectedAt() string {
	return n.collectedAt
}

// Source returns the source tag applied to ip/port records.
func (n *Normalizer) Source() string {
	return n.source
}

// Normalize maps one parsed row into a record. It returns false when the
// row cannot form a record (an ip/port row missing either part).
func (n *Normalizer) Normalize(row []string) (types.Record, bool) {
	switch n.dialect.Schema {
	case types.SchemaNamedRaw:
		return n.namedIndicator(row), true
	case types.SchemaPositionalRaw:
		return positionalIndicator(row), true
	case types.SchemaNamedIPPort:
		return n.endpoint(row)
	default:
		return nil, false
	}
}

// namedIndicator projects a header-named row. The identifier falls back to
// the id/iocid aliases used by older exports.
func (n *Normalizer) namedIndicator(row []string) *types.Indicator {
	values := make([]string, len(types.RawFields))
	for i, field := range types.RawFields {
		if field == types.FieldIOCID {
			values[i] = n.lookup(row, identifierAliases...)
			continue
		}
		values[i] = n.lookup(row, field)
	}
	return types.NewIndicator(values)
}

// positionalIndicator assigns fields by column index; the provider's
// column order is RawFields order, so column i holds RawFields[i].
func positionalIndicator(row []string) *types.Indicator {
	values := make([]string, len(types.RawFields))
	for i := range values {
		if i < len(row) {
			values[i] = strings.TrimSpace(row[i])
		}
	}
	return types.NewIndicator(values)
}

func (n *Normalizer) endpoint(row []string) (types.Record, bool) {
	ip := n.lookup(row, addressAliases...)
	port := n.lookup(row, portAliases...)
	if ip == "" || port == "" {
		return nil, false
	}

	return &types.Endpoint{
		IP:              ip,
		Port:            port,
		IOC:             ip + ":" + port,
		IOCType:         n.lookup(row, types.FieldIOCType),
		ThreatType:      n.lookup(row, types.FieldThreatType),
		Malware:         n.lookup(row, malwareAliases...),
		ConfidenceLevel: n.lookup(row, types.FieldConfidenceLevel),
		Reference:       n.lookup(row, types.FieldReference),
		FirstSeen:       n.lookup(row, firstSeenAliases...),
		LastSeen:        n.lookup(row, lastSeenAliases...),
		Source:          n.source,
		CollectionDate:  n.collectedAt,
	}, true
}

// lookup returns the first non-empty trimmed value among the named columns,
// or "" when none of them is present in the header or row.
func (n *Normalizer) lookup(row []string, names ...string) string {
	for _, name := range names {
		pos, ok := n.index[name]
		if !ok || pos >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[pos]); v != "" {
			return v
		}
	}
	return ""
}
