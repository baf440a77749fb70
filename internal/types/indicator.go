// ABOUTME: Canonical ThreatFox records in the provider-mirrored and ip/port shapes
// ABOUTME: Provides identity keys, ordered CSV values, and projection between shapes

package types

import (
	"net"
	"strconv"
	"strings"
)

// Provider-mirrored column names.
const (
	FieldFirstSeenUTC     = "first_seen_utc"
	FieldIOCID            = "ioc_id"
	FieldIOCValue         = "ioc_value"
	FieldIOCType          = "ioc_type"
	FieldThreatType       = "threat_type"
	FieldFKMalware        = "fk_malware"
	FieldMalwareAlias     = "malware_alias"
	FieldMalwarePrintable = "malware_printable"
	FieldLastSeenUTC      = "last_seen_utc"
	FieldConfidenceLevel  = "confidence_level"
	FieldReference        = "reference"
	FieldTags             = "tags"
	FieldAnonymous        = "anonymous"
	FieldReporter         = "reporter"
)

// ip/port projection column names not shared with the raw layout.
const (
	FieldIP             = "ip"
	FieldPort           = "port"
	FieldIOC            = "ioc"
	FieldMalware        = "malware"
	FieldFirstSeen      = "first_seen"
	FieldLastSeen       = "last_seen"
	FieldSource         = "source"
	FieldCollectionDate = "collection_date"
)

// RawFields is the provider-mirrored column order. Positional feeds use the
// same order, so the index of a name here is its column index.
var RawFields = []string{
	FieldFirstSeenUTC,
	FieldIOCID,
	FieldIOCValue,
	FieldIOCType,
	FieldThreatType,
	FieldFKMalware,
	FieldMalwareAlias,
	FieldMalwarePrintable,
	FieldLastSeenUTC,
	FieldConfidenceLevel,
	FieldReference,
	FieldTags,
	FieldAnonymous,
	FieldReporter,
}

// IPPortFields is the ip/port projection column order.
var IPPortFields = []string{
	FieldIP,
	FieldPort,
	FieldIOC,
	FieldIOCType,
	FieldThreatType,
	FieldMalware,
	FieldConfidenceLevel,
	FieldReference,
	FieldFirstSeen,
	FieldLastSeen,
	FieldSource,
	FieldCollectionDate,
}

// Record is a normalized feed row ready to be deduplicated and written.
type Record interface {
	// IdentityKey returns the value used for deduplication ("" if unusable).
	IdentityKey() string

	// Shape returns the output layout the record belongs to.
	Shape() Shape

	// Values returns the field values in Shape().Fields() order.
	Values() []string
}

// Indicator is a ThreatFox IOC in the provider-mirrored layout.
type Indicator struct {
	FirstSeenUTC     string `json:"first_seen_utc"`
	IOCID            string `json:"ioc_id"`
	IOCValue         string `json:"ioc_value"`
	IOCType          string `json:"ioc_type"`
	ThreatType       string `json:"threat_type"`
	FKMalware        string `json:"fk_malware"`
	MalwareAlias     string `json:"malware_alias"`
	MalwarePrintable string `json:"malware_printable"`
	LastSeenUTC      string `json:"last_seen_utc"`
	ConfidenceLevel  string `json:"confidence_level"`
	Reference        string `json:"reference"`
	Tags             string `json:"tags"`
	Anonymous        string `json:"anonymous"`
	Reporter         string `json:"reporter"`
}

// NewIndicator builds an Indicator from values in RawFields order.
// Missing trailing values are left empty.
func NewIndicator(values []string) *Indicator {
	v := make([]string, len(RawFields))
	copy(v, values)

	return &Indicator{
		FirstSeenUTC:     v[0],
		IOCID:            v[1],
		IOCValue:         v[2],
		IOCType:          v[3],
		ThreatType:       v[4],
		FKMalware:        v[5],
		MalwareAlias:     v[6],
		MalwarePrintable: v[7],
		LastSeenUTC:      v[8],
		ConfidenceLevel:  v[9],
		Reference:        v[10],
		Tags:             v[11],
		Anonymous:        v[12],
		Reporter:         v[13],
	}
}

// IdentityKey returns the provider-assigned IOC identifier.
func (i *Indicator) IdentityKey() string {
	return strings.TrimSpace(i.IOCID)
}

// Shape returns ShapeRaw.
func (i *Indicator) Shape() Shape {
	return ShapeRaw
}

// Values returns the fields in RawFields order.
func (i *Indicator) Values() []string {
	return []string{
		i.FirstSeenUTC,
		i.IOCID,
		i.IOCValue,
		i.IOCType,
		i.ThreatType,
		i.FKMalware,
		i.MalwareAlias,
		i.MalwarePrintable,
		i.LastSeenUTC,
		i.ConfidenceLevel,
		i.Reference,
		i.Tags,
		i.Anonymous,
		i.Reporter,
	}
}

// SplitEndpoint splits an ip:port IOC value. It reports false unless the
// host is an IP address and the port a decimal number in range.
func SplitEndpoint(value string) (ip, port string, ok bool) {
	host, p, err := net.SplitHostPort(strings.TrimSpace(value))
	if err != nil || net.ParseIP(host) == nil {
		return "", "", false
	}
	if _, err := strconv.ParseUint(p, 10, 16); err != nil {
		return "", "", false
	}
	return host, p, true
}

// Endpoint projects the indicator into the ip/port layout. The ip and port
// columns are filled only when ioc_value is an ip:port pair; domains, URLs,
// and hashes leave them empty (see HasAddress).
func (i *Indicator) Endpoint(source, collectedAt string) *Endpoint {
	ip, port, _ := SplitEndpoint(i.IOCValue)

	return &Endpoint{
		IP:              ip,
		Port:            port,
		IOC:             i.IOCValue,
		IOCType:         i.IOCType,
		ThreatType:      i.ThreatType,
		Malware:         i.MalwarePrintable,
		ConfidenceLevel: i.ConfidenceLevel,
		Reference:       i.Reference,
		FirstSeen:       i.FirstSeenUTC,
		LastSeen:        i.LastSeenUTC,
		Source:          source,
		CollectionDate:  collectedAt,
	}
}

// Endpoint is a ThreatFox IOC in the ip/port layout.
type Endpoint struct {
	IP              string `json:"ip"`
	Port            string `json:"port"`
	IOC             string `json:"ioc"`
	IOCType         string `json:"ioc_type"`
	ThreatType      string `json:"threat_type"`
	Malware         string `json:"malware"`
	ConfidenceLevel string `json:"confidence_level"`
	Reference       string `json:"reference"`
	FirstSeen       string `json:"first_seen"`
	LastSeen        string `json:"last_seen"`
	Source          string `json:"source"`
	CollectionDate  string `json:"collection_date"`
}

// IdentityKey returns the composite address:port identifier.
func (e *Endpoint) IdentityKey() string {
	return strings.TrimSpace(e.IOC)
}

// HasAddress reports whether both the ip and port columns are set.
func (e *Endpoint) HasAddress() bool {
	return e.IP != "" && e.Port != ""
}

// Shape returns ShapeIPPort.
func (e *Endpoint) Shape() Shape {
	return ShapeIPPort
}

// Values returns the fields in IPPortFields order.
func (e *Endpoint) Values() []string {
	return []string{
		e.IP,
		e.Port,
		e.IOC,
		e.IOCType,
		e.ThreatType,
		e.Malware,
		e.ConfidenceLevel,
		e.Reference,
		e.FirstSeen,
		e.LastSeen,
		e.Source,
		e.CollectionDate,
	}
}

// Indicator projects the endpoint into the provider-mirrored layout.
// The projection carries no provider identifier.
func (e *Endpoint) Indicator() *Indicator {
	return &Indicator{
		FirstSeenUTC:     e.FirstSeen,
		IOCValue:         e.IOC,
		IOCType:          e.IOCType,
		ThreatType:       e.ThreatType,
		MalwarePrintable: e.Malware,
		LastSeenUTC:      e.LastSeen,
		ConfidenceLevel:  e.ConfidenceLevel,
		Reference:        e.Reference,
	}
}

// Project converts a record into the requested shape.
// Records already in that shape are returned unchanged.
func Project(r Record, shape Shape, source, collectedAt string) Record {
	if r.Shape() == shape {
		return r
	}

	switch rec := r.(type) {
	case *Indicator:
		return rec.Endpoint(source, collectedAt)
	case *Endpoint:
		return rec.Indicator()
	default:
		return r
	}
}
