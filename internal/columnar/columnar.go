// Package columnar implements the self-describing columnar artifact format.
//
// Layout:
//
//	magic "RCOL1"
//	header length (uint32 BE)
//	header JSON: format version, row count, ordered field schema, extra flag
//	one LZ4 frame compressing the column body
//
// The body holds one block per schema field, in schema order, each prefixed
// with its raw length and an xxhash64 checksum. Fixed-width types (time,
// float) encode 8 bytes per row; strings are length-prefixed. When any row
// carries fields outside the schema, a trailing block stores them as
// canonical JSON so artifacts stay lossless through compaction.
//
// The schema travels inside the artifact, so consumers never need an
// external registry to decode one.
package columnar

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/couchcryptid/rainfall-ingest-service/internal/domain"
	"github.com/pierrec/lz4/v4"
)

var magic = []byte("RCOL1")

const formatVersion = 1

// header is the self-describing artifact preamble. It deliberately carries
// no wall-clock data: identical rows must produce identical bytes.
type header struct {
	Version int            `json:"version"`
	Rows    int            `json:"rows"`
	Fields  []domain.Field `json:"fields"`
	Extra   bool           `json:"extra"`
}

// Encoded is one serialized artifact plus its identity.
type Encoded struct {
	Data        []byte
	Fingerprint string
	Rows        int
}

// Encode serializes rows into one compressed artifact. The fingerprint is a
// SHA-256 over the canonical pre-compression encoding (header plus raw
// column blocks), so it is deterministic for identical input regardless of
// compression internals or wall clock.
func Encode(schema domain.Schema, rows []domain.Row) (*Encoded, error) {
	if len(rows) == 0 {
		return nil, errors.New("columnar: refusing to encode zero rows")
	}

	hasExtra := false
	for _, r := range rows {
		if len(r.Extra) > 0 {
			hasExtra = true
			break
		}
	}

	hdr, err := json.Marshal(header{
		Version: formatVersion,
		Rows:    len(rows),
		Fields:  schema.Fields,
		Extra:   hasExtra,
	})
	if err != nil {
		return nil, fmt.Errorf("columnar: marshal header: %w", err)
	}

	body, err := encodeBody(schema, rows, hasExtra)
	if err != nil {
		return nil, err
	}

	sum := sha256.New()
	sum.Write(hdr)
	sum.Write(body)
	fingerprint := hex.EncodeToString(sum.Sum(nil)[:8])

	var out bytes.Buffer
	out.Write(magic)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(hdr)))
	out.Write(lenBuf[:])
	out.Write(hdr)

	zw := lz4.NewWriter(&out)
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("columnar: compress body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("columnar: close compressor: %w", err)
	}

	return &Encoded{Data: out.Bytes(), Fingerprint: fingerprint, Rows: len(rows)}, nil
}

// Decode parses an artifact back into its schema and rows, verifying every
// column checksum.
func Decode(data []byte) (domain.Schema, []domain.Row, error) {
	if len(data) < len(magic)+4 || !bytes.Equal(data[:len(magic)], magic) {
		return domain.Schema{}, nil, errors.New("columnar: bad magic")
	}
	rest := data[len(magic):]
	hdrLen := int(binary.BigEndian.Uint32(rest[:4]))
	rest = rest[4:]
	if hdrLen > len(rest) {
		return domain.Schema{}, nil, errors.New("columnar: truncated header")
	}

	var hdr header
	if err := json.Unmarshal(rest[:hdrLen], &hdr); err != nil {
		return domain.Schema{}, nil, fmt.Errorf("columnar: parse header: %w", err)
	}
	if hdr.Version != formatVersion {
		return domain.Schema{}, nil, fmt.Errorf("columnar: unsupported format version %d", hdr.Version)
	}

	body, err := io.ReadAll(lz4.NewReader(bytes.NewReader(rest[hdrLen:])))
	if err != nil {
		return domain.Schema{}, nil, fmt.Errorf("columnar: decompress body: %w", err)
	}

	schema := domain.Schema{Fields: hdr.Fields}
	rows, err := decodeBody(schema, hdr, body)
	if err != nil {
		return domain.Schema{}, nil, err
	}
	return schema, rows, nil
}

func encodeBody(schema domain.Schema, rows []domain.Row, hasExtra bool) ([]byte, error) {
	var body bytes.Buffer

	for i, f := range schema.Fields {
		col, err := encodeColumn(f.Type, rows, i)
		if err != nil {
			return nil, err
		}
		writeBlock(&body, col)
	}

	if hasExtra {
		col, err := encodeExtraColumn(rows)
		if err != nil {
			return nil, err
		}
		writeBlock(&body, col)
	}

	return body.Bytes(), nil
}

func writeBlock(body *bytes.Buffer, raw []byte) {
	var u64 [8]byte
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(raw)))
	body.Write(u32[:])
	binary.BigEndian.PutUint64(u64[:], xxhash.Sum64(raw))
	body.Write(u64[:])
	body.Write(raw)
}

func encodeColumn(t domain.FieldType, rows []domain.Row, idx int) ([]byte, error) {
	var buf bytes.Buffer
	var u64 [8]byte
	for _, r := range rows {
		if idx >= len(r.Values) {
			return nil, fmt.Errorf("columnar: row has %d values, want index %d", len(r.Values), idx)
		}
		v := r.Values[idx]
		switch t {
		case domain.FieldTime:
			binary.BigEndian.PutUint64(u64[:], uint64(v.Time.UTC().UnixMicro()))
			buf.Write(u64[:])
		case domain.FieldFloat:
			binary.BigEndian.PutUint64(u64[:], math.Float64bits(v.Num))
			buf.Write(u64[:])
		case domain.FieldString:
			writeUvarintBytes(&buf, []byte(v.Str))
		default:
			return nil, fmt.Errorf("columnar: unknown field type %q", t)
		}
	}
	return buf.Bytes(), nil
}

// encodeExtraColumn stores out-of-schema fields as one JSON document per
// row. encoding/json sorts map keys, keeping the encoding canonical.
func encodeExtraColumn(rows []domain.Row) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range rows {
		if len(r.Extra) == 0 {
			writeUvarintBytes(&buf, nil)
			continue
		}
		doc, err := json.Marshal(r.Extra)
		if err != nil {
			return nil, fmt.Errorf("columnar: marshal extra fields: %w", err)
		}
		writeUvarintBytes(&buf, doc)
	}
	return buf.Bytes(), nil
}

func decodeBody(schema domain.Schema, hdr header, body []byte) ([]domain.Row, error) {
	rows := make([]domain.Row, hdr.Rows)
	for i := range rows {
		rows[i].Values = make([]domain.Value, len(schema.Fields))
	}

	for i, f := range schema.Fields {
		raw, rest, err := readBlock(body)
		if err != nil {
			return nil, fmt.Errorf("columnar: column %q: %w", f.Name, err)
		}
		body = rest
		if err := decodeColumn(f.Type, raw, rows, i); err != nil {
			return nil, fmt.Errorf("columnar: column %q: %w", f.Name, err)
		}
	}

	if hdr.Extra {
		raw, _, err := readBlock(body)
		if err != nil {
			return nil, fmt.Errorf("columnar: extra column: %w", err)
		}
		if err := decodeExtraColumn(raw, rows); err != nil {
			return nil, err
		}
	}

	return rows, nil
}

func readBlock(body []byte) (raw, rest []byte, err error) {
	if len(body) < 12 {
		return nil, nil, errors.New("truncated block")
	}
	size := int(binary.BigEndian.Uint32(body[:4]))
	want := binary.BigEndian.Uint64(body[4:12])
	body = body[12:]
	if size > len(body) {
		return nil, nil, errors.New("truncated block")
	}
	raw = body[:size]
	if got := xxhash.Sum64(raw); got != want {
		return nil, nil, fmt.Errorf("checksum mismatch: got %x want %x", got, want)
	}
	return raw, body[size:], nil
}

func decodeColumn(t domain.FieldType, raw []byte, rows []domain.Row, idx int) error {
	switch t {
	case domain.FieldTime, domain.FieldFloat:
		if len(raw) != 8*len(rows) {
			return fmt.Errorf("fixed column has %d bytes, want %d", len(raw), 8*len(rows))
		}
		for i := range rows {
			bits := binary.BigEndian.Uint64(raw[i*8:])
			if t == domain.FieldTime {
				rows[i].Values[idx].Time = time.UnixMicro(int64(bits)).UTC()
			} else {
				rows[i].Values[idx].Num = math.Float64frombits(bits)
			}
		}
	case domain.FieldString:
		for i := range rows {
			s, rest, err := readUvarintBytes(raw)
			if err != nil {
				return err
			}
			rows[i].Values[idx].Str = string(s)
			raw = rest
		}
	default:
		return fmt.Errorf("unknown field type %q", t)
	}
	return nil
}

func decodeExtraColumn(raw []byte, rows []domain.Row) error {
	for i := range rows {
		doc, rest, err := readUvarintBytes(raw)
		if err != nil {
			return fmt.Errorf("columnar: extra column: %w", err)
		}
		raw = rest
		if len(doc) == 0 {
			continue
		}
		if err := json.Unmarshal(doc, &rows[i].Extra); err != nil {
			return fmt.Errorf("columnar: extra column row %d: %w", i, err)
		}
	}
	return nil
}

func writeUvarintBytes(buf *bytes.Buffer, b []byte) {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
	buf.Write(lenBuf[:n])
	buf.Write(b)
}

func readUvarintBytes(raw []byte) (val, rest []byte, err error) {
	size, n := binary.Uvarint(raw)
	if n <= 0 || uint64(len(raw)-n) < size {
		return nil, nil, errors.New("truncated varint block")
	}
	return raw[n : n+int(size)], raw[n+int(size):], nil
}
