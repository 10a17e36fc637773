package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// FieldType is the declared type of a schema field.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldFloat  FieldType = "float"
	FieldTime   FieldType = "time"
)

// Field is one named, typed column in an observation schema.
// Identity marks fields that identify the observation source (station ID,
// coordinates); a row must carry at least one non-empty identity value.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Identity bool      `json:"identity,omitempty"`
}

// Schema is the ordered set of declared fields for an ingestion request.
// Input fields not present in the schema are preserved on the row but never
// trusted for partitioning or validation.
type Schema struct {
	Fields []Field `json:"fields"`
}

// Validate checks the structural requirements: exactly one time-typed field
// (the partitioning timestamp) and at least one identity field.
func (s Schema) Validate() error {
	timeFields := 0
	identityFields := 0
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return errors.New("schema: field with empty name")
		}
		if seen[f.Name] {
			return fmt.Errorf("schema: duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case FieldString, FieldFloat, FieldTime:
		default:
			return fmt.Errorf("schema: field %q has unknown type %q", f.Name, f.Type)
		}
		if f.Type == FieldTime {
			timeFields++
		}
		if f.Identity {
			identityFields++
		}
	}
	if timeFields != 1 {
		return fmt.Errorf("schema: expected exactly one time field, got %d", timeFields)
	}
	if identityFields == 0 {
		return errors.New("schema: at least one identity field is required")
	}
	return nil
}

// TimestampIndex returns the index of the time-typed field, or -1 if absent.
func (s Schema) TimestampIndex() int {
	for i, f := range s.Fields {
		if f.Type == FieldTime {
			return i
		}
	}
	return -1
}

// Equal reports whether two schemas declare the same fields in the same order.
func (s Schema) Equal(other Schema) bool {
	if len(s.Fields) != len(other.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}

// DefaultObservationSchema is the rainfall observation layout produced by the
// upstream collectors: a UTC timestamp, a reporting station, coordinates, and
// the measured precipitation in millimetres.
func DefaultObservationSchema() Schema {
	return Schema{Fields: []Field{
		{Name: "timestamp", Type: FieldTime},
		{Name: "station_id", Type: FieldString, Identity: true},
		{Name: "lat", Type: FieldFloat},
		{Name: "lon", Type: FieldFloat},
		{Name: "rainfall_mm", Type: FieldFloat},
	}}
}

// Value holds one typed cell. Exactly one member is meaningful, selected by
// the corresponding schema field's type.
type Value struct {
	Str  string
	Num  float64
	Time time.Time
}

// Row is a normalized observation. Values aligns 1:1 with the schema's
// fields; Extra carries input fields outside the schema, preserved verbatim.
type Row struct {
	Values []Value
	Extra  map[string]string
}

// Timestamp returns the row's partitioning timestamp per the schema.
func (r Row) Timestamp(s Schema) time.Time {
	i := s.TimestampIndex()
	if i < 0 || i >= len(r.Values) {
		return time.Time{}
	}
	return r.Values[i].Time
}

// EncodedSize estimates the serialized footprint of the row in bytes, used
// for accumulator byte ceilings. Fixed-width types count 8 bytes; strings
// count length plus a small length prefix.
func (r Row) EncodedSize(s Schema) int {
	size := 0
	for i, f := range s.Fields {
		if i >= len(r.Values) {
			break
		}
		switch f.Type {
		case FieldString:
			size += len(r.Values[i].Str) + 4
		default:
			size += 8
		}
	}
	for k, v := range r.Extra {
		size += len(k) + len(v) + 8
	}
	return size
}

// ContentKind declares how a raw input stream is framed.
type ContentKind string

const (
	// KindDelimited is header-first comma-delimited text.
	KindDelimited ContentKind = "csv"
	// KindLineJSON is one JSON object per line.
	KindLineJSON ContentKind = "ndjson"
)

// ParseContentKind maps a MIME type or kind name to a ContentKind.
func ParseContentKind(s string) (ContentKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv", "text/csv":
		return KindDelimited, nil
	case "ndjson", "application/x-ndjson", "application/jsonl":
		return KindLineJSON, nil
	default:
		return "", fmt.Errorf("unsupported content kind %q", s)
	}
}

// Ext returns the file extension used for raw retention objects.
func (k ContentKind) Ext() string {
	return string(k)
}

// RawChunk is one bounded span of the raw input stream, always ending on a
// record boundary. It is owned by the normalizer for the duration of one
// parse call.
type RawChunk struct {
	Data []byte
	Kind ContentKind
}
