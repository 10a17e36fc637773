// Package normalize parses bounded chunks of raw observation data into typed
// rows against a declared schema.
//
// Parsing is record oriented: a malformed record is counted and skipped so
// the chunk keeps making progress. A chunk whose rejection rate exceeds the
// drift threshold is rejected wholesale with a [domain.SchemaDriftError],
// protecting the pipeline from processing a structurally incompatible file
// as if only a few rows were bad.
//
// Records are isolated per line, so one bad record cannot poison its
// neighbors. A consequence for delimited text is that quoted values must not
// contain embedded newlines; such records are counted as malformed.
package normalize

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/rainfall-ingest-service/internal/domain"
)

// timeLayouts are attempted in order when parsing timestamp fields. Layouts
// without a zone are interpreted as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer converts the chunks of one ingestion request into rows. It is
// stateful across chunks (the delimited-text header arrives once, in the
// first chunk) and must not be shared between requests.
type Normalizer struct {
	schema         domain.Schema
	kind           domain.ContentKind
	driftThreshold float64
	logger         *slog.Logger

	headerSeen bool
	colIdx     []int    // header column index per schema field, -1 if absent
	extraCols  []int    // header columns outside the schema
	extraNames []string // names for extraCols, same order
}

// New builds a Normalizer for one request. The schema must be valid.
func New(schema domain.Schema, kind domain.ContentKind, driftThreshold float64, logger *slog.Logger) (*Normalizer, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &Normalizer{
		schema:         schema,
		kind:           kind,
		driftThreshold: driftThreshold,
		logger:         logger,
	}, nil
}

// ChunkResult is the outcome of normalizing one chunk.
type ChunkResult struct {
	Rows       []domain.Row
	Rejections domain.RejectionSummary
	// Coerced counts numeric values that failed to parse and were
	// zero-filled under the documented missing-equals-zero policy.
	Coerced int
}

// NormalizeChunk parses one chunk. Row-level failures are counted in the
// result, never returned as errors; the only error cases are schema drift
// and unusable framing.
func (n *Normalizer) NormalizeChunk(chunk domain.RawChunk) (ChunkResult, error) {
	var res ChunkResult
	total := 0

	for line := range bytes.Lines(chunk.Data) {
		line = bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		if chunk.Kind == domain.KindDelimited && !n.headerSeen {
			if err := n.parseHeader(line); err != nil {
				return ChunkResult{}, err
			}
			continue
		}

		total++
		row, reason, coerced := n.normalizeRecord(chunk.Kind, line)
		res.Coerced += coerced
		if reason != "" {
			res.Rejections.Add(reason)
			continue
		}
		res.Rows = append(res.Rows, row)
	}

	if total > 0 && float64(res.Rejections.Rows)/float64(total) > n.driftThreshold {
		n.logger.Warn("chunk rejected for schema drift",
			"total", total,
			"rejected", res.Rejections.Rows,
			"threshold", n.driftThreshold,
		)
		return ChunkResult{Rejections: res.Rejections}, &domain.SchemaDriftError{
			Total:     total,
			Rejected:  res.Rejections.Rows,
			Threshold: n.driftThreshold,
		}
	}

	return res, nil
}

// parseHeader maps delimited-text columns onto schema fields by name.
// Columns the schema does not declare are carried through as extra fields.
func (n *Normalizer) parseHeader(line []byte) error {
	cols, err := splitDelimited(line)
	if err != nil {
		return fmt.Errorf("parse header: %w", err)
	}

	byName := make(map[string]int, len(cols))
	for i, c := range cols {
		byName[strings.TrimSpace(c)] = i
	}

	n.colIdx = make([]int, len(n.schema.Fields))
	claimed := make(map[int]bool, len(n.schema.Fields))
	for i, f := range n.schema.Fields {
		if j, ok := byName[f.Name]; ok {
			n.colIdx[i] = j
			claimed[j] = true
		} else {
			n.colIdx[i] = -1
		}
	}
	for i, c := range cols {
		if !claimed[i] {
			n.extraCols = append(n.extraCols, i)
			n.extraNames = append(n.extraNames, strings.TrimSpace(c))
		}
	}

	n.headerSeen = true
	return nil
}

func (n *Normalizer) normalizeRecord(kind domain.ContentKind, line []byte) (domain.Row, string, int) {
	switch kind {
	case domain.KindLineJSON:
		return n.normalizeJSON(line)
	default:
		return n.normalizeDelimited(line)
	}
}

func (n *Normalizer) normalizeDelimited(line []byte) (domain.Row, string, int) {
	cols, err := splitDelimited(line)
	if err != nil {
		return domain.Row{}, domain.ReasonBadRecord, 0
	}

	get := func(fieldIdx int) string {
		j := n.colIdx[fieldIdx]
		if j < 0 || j >= len(cols) {
			return ""
		}
		return strings.TrimSpace(cols[j])
	}

	row, reason, coerced := n.buildRow(get)
	if reason != "" {
		return domain.Row{}, reason, coerced
	}

	for k, j := range n.extraCols {
		if j >= len(cols) {
			continue
		}
		if v := strings.TrimSpace(cols[j]); v != "" {
			if row.Extra == nil {
				row.Extra = make(map[string]string)
			}
			row.Extra[n.extraNames[k]] = v
		}
	}
	return row, "", coerced
}

func (n *Normalizer) normalizeJSON(line []byte) (domain.Row, string, int) {
	var obj map[string]any
	if err := json.Unmarshal(line, &obj); err != nil {
		return domain.Row{}, domain.ReasonBadRecord, 0
	}

	get := func(fieldIdx int) string {
		v, ok := obj[n.schema.Fields[fieldIdx].Name]
		if !ok || v == nil {
			return ""
		}
		return stringifyJSON(v)
	}

	row, reason, coerced := n.buildRow(get)
	if reason != "" {
		return domain.Row{}, reason, coerced
	}

	declared := make(map[string]bool, len(n.schema.Fields))
	for _, f := range n.schema.Fields {
		declared[f.Name] = true
	}
	for k, v := range obj {
		if declared[k] || v == nil {
			continue
		}
		if row.Extra == nil {
			row.Extra = make(map[string]string)
		}
		row.Extra[k] = stringifyJSON(v)
	}
	return row, "", coerced
}

// buildRow coerces raw field values into the schema's types. get returns the
// raw string for a schema field index, empty when absent.
func (n *Normalizer) buildRow(get func(int) string) (domain.Row, string, int) {
	values := make([]domain.Value, len(n.schema.Fields))
	coerced := 0

	for i, f := range n.schema.Fields {
		raw := get(i)
		switch f.Type {
		case domain.FieldTime:
			if raw == "" {
				return domain.Row{}, domain.ReasonMissingTime, coerced
			}
			ts, ok := parseTime(raw)
			if !ok {
				return domain.Row{}, domain.ReasonBadTime, coerced
			}
			values[i].Time = ts
		case domain.FieldFloat:
			// Missing-equals-zero policy: unparseable magnitudes become 0,
			// since an absent reading means no observation recorded.
			if raw == "" {
				values[i].Num = 0
				break
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				values[i].Num = 0
				coerced++
				break
			}
			values[i].Num = v
		case domain.FieldString:
			values[i].Str = raw
		}
	}

	identityPresent := false
	for i, f := range n.schema.Fields {
		if f.Identity && fieldPresent(f.Type, values[i]) {
			identityPresent = true
			break
		}
	}
	if !identityPresent {
		return domain.Row{}, domain.ReasonMissingIdentity, coerced
	}

	return domain.Row{Values: values}, "", coerced
}

func fieldPresent(t domain.FieldType, v domain.Value) bool {
	switch t {
	case domain.FieldString:
		return v.Str != ""
	case domain.FieldFloat:
		return v.Num != 0
	case domain.FieldTime:
		return !v.Time.IsZero()
	}
	return false
}

func parseTime(raw string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	// Epoch seconds, as emitted by some gauge firmware.
	if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
		return time.Unix(int64(secs), 0).UTC(), true
	}
	return time.Time{}, false
}

// splitDelimited parses one CSV record. Each record is parsed in isolation
// so a malformed record cannot consume its neighbors.
func splitDelimited(line []byte) ([]string, error) {
	r := csv.NewReader(bytes.NewReader(line))
	r.FieldsPerRecord = -1
	return r.Read()
}

func stringifyJSON(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
