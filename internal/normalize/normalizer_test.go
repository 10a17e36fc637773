package normalize_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/rainfall-ingest-service/internal/domain"
	"github.com/couchcryptid/rainfall-ingest-service/internal/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNormalizer(t *testing.T, kind domain.ContentKind) *normalize.Normalizer {
	t.Helper()
	n, err := normalize.New(domain.DefaultObservationSchema(), kind, 0.5, slog.Default())
	require.NoError(t, err)
	return n
}

func csvChunk(data string) domain.RawChunk {
	return domain.RawChunk{Data: []byte(data), Kind: domain.KindDelimited}
}

func TestNormalizeChunk_CSV(t *testing.T) {
	n := newNormalizer(t, domain.KindDelimited)

	res, err := n.NormalizeChunk(csvChunk(
		"timestamp,station_id,lat,lon,rainfall_mm\n" +
			"2025-01-15T09:30:00Z,ST-001,51.5,-0.12,10\n" +
			"2025-02-01T00:00:00Z,ST-002,48.8,2.35,3.5\n",
	))
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Zero(t, res.Rejections.Rows)

	schema := domain.DefaultObservationSchema()
	assert.Equal(t, time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC), res.Rows[0].Timestamp(schema))
	assert.Equal(t, "ST-001", res.Rows[0].Values[1].Str)
	assert.Equal(t, 10.0, res.Rows[0].Values[4].Num)
	assert.Equal(t, 3.5, res.Rows[1].Values[4].Num)
}

// Malformed and empty magnitudes zero-fill instead of dropping the row.
func TestNormalizeChunk_CoercesBadNumerics(t *testing.T) {
	n := newNormalizer(t, domain.KindDelimited)

	res, err := n.NormalizeChunk(csvChunk(
		"timestamp,station_id,lat,lon,rainfall_mm\n" +
			"2025-01-15T09:30:00Z,ST-001,51.5,-0.12,10\n" +
			"2025-02-01T00:00:00Z,ST-002,48.8,2.35,bad\n" +
			"2025-02-02T00:00:00Z,ST-003,40.4,-3.7,\n",
	))
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)
	assert.Zero(t, res.Rejections.Rows)

	assert.Equal(t, 10.0, res.Rows[0].Values[4].Num)
	assert.Equal(t, 0.0, res.Rows[1].Values[4].Num)
	assert.Equal(t, 0.0, res.Rows[2].Values[4].Num)
	// Only the unparseable "bad" counts as a coercion; empty is plain absence.
	assert.Equal(t, 1, res.Coerced)
}

func TestNormalizeChunk_RejectionAccounting(t *testing.T) {
	n := newNormalizer(t, domain.KindDelimited)

	res, err := n.NormalizeChunk(csvChunk(
		"timestamp,station_id,lat,lon,rainfall_mm\n" +
			"2025-01-15T09:30:00Z,ST-001,51.5,-0.12,10\n" +
			",ST-002,48.8,2.35,1\n" + // missing timestamp
			"not-a-time,ST-003,40.4,-3.7,1\n" + // bad timestamp
			"2025-01-16T00:00:00Z,,0,0,1\n" + // no identity
			"2025-01-17T00:00:00Z,ST-004,51.1,0.1,2\n",
	))
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, 3, res.Rejections.Rows)
	assert.Equal(t, 1, res.Rejections.Reasons[domain.ReasonMissingTime])
	assert.Equal(t, 1, res.Rejections.Reasons[domain.ReasonBadTime])
	assert.Equal(t, 1, res.Rejections.Reasons[domain.ReasonMissingIdentity])
}

// 6 of 10 rows malformed with a 0.5 threshold trips wholesale rejection.
func TestNormalizeChunk_SchemaDrift(t *testing.T) {
	n := newNormalizer(t, domain.KindDelimited)

	data := "timestamp,station_id,lat,lon,rainfall_mm\n"
	for range 6 {
		data += "garbage,ST-001,51.5,-0.12,1\n"
	}
	for i := range 4 {
		data += time.Date(2025, 1, 1+i, 0, 0, 0, 0, time.UTC).Format(time.RFC3339) + ",ST-001,51.5,-0.12,1\n"
	}

	res, err := n.NormalizeChunk(csvChunk(data))
	require.Error(t, err)

	var drift *domain.SchemaDriftError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, 10, drift.Total)
	assert.Equal(t, 6, drift.Rejected)
	assert.Empty(t, res.Rows)
	assert.Equal(t, 6, res.Rejections.Rows)
}

// Exactly at the threshold is tolerated; rejection must strictly exceed it.
func TestNormalizeChunk_DriftThresholdBoundary(t *testing.T) {
	n := newNormalizer(t, domain.KindDelimited)

	data := "timestamp,station_id,lat,lon,rainfall_mm\n"
	for range 5 {
		data += "garbage,ST-001,51.5,-0.12,1\n"
	}
	for range 5 {
		data += "2025-01-01T00:00:00Z,ST-001,51.5,-0.12,1\n"
	}

	res, err := n.NormalizeChunk(csvChunk(data))
	require.NoError(t, err)
	assert.Len(t, res.Rows, 5)
	assert.Equal(t, 5, res.Rejections.Rows)
}

func TestNormalizeChunk_HeaderSpansChunks(t *testing.T) {
	n := newNormalizer(t, domain.KindDelimited)

	// Header arrives in the first chunk; later chunks are data only.
	_, err := n.NormalizeChunk(csvChunk("timestamp,station_id,lat,lon,rainfall_mm\n"))
	require.NoError(t, err)

	res, err := n.NormalizeChunk(csvChunk("2025-01-15T09:30:00Z,ST-001,51.5,-0.12,10\n"))
	require.NoError(t, err)
	assert.Len(t, res.Rows, 1)
}

func TestNormalizeChunk_ExtraColumnsPreserved(t *testing.T) {
	n := newNormalizer(t, domain.KindDelimited)

	res, err := n.NormalizeChunk(csvChunk(
		"timestamp,station_id,lat,lon,rainfall_mm,quality_flag\n" +
			"2025-01-15T09:30:00Z,ST-001,51.5,-0.12,10,ok\n",
	))
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "ok", res.Rows[0].Extra["quality_flag"])
}

func TestNormalizeChunk_NDJSON(t *testing.T) {
	n := newNormalizer(t, domain.KindLineJSON)

	res, err := n.NormalizeChunk(domain.RawChunk{
		Kind: domain.KindLineJSON,
		Data: []byte(
			`{"timestamp":"2025-01-15T09:30:00Z","station_id":"ST-001","lat":51.5,"lon":-0.12,"rainfall_mm":10,"sensor_fw":"2.1"}` + "\n" +
				`{"timestamp":"2025-02-01 06:00:00","station_id":"ST-002","rainfall_mm":"4.2"}` + "\n" +
				`not json at all` + "\n",
		),
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, 1, res.Rejections.Rows)
	assert.Equal(t, 1, res.Rejections.Reasons[domain.ReasonBadRecord])

	assert.Equal(t, 10.0, res.Rows[0].Values[4].Num)
	assert.Equal(t, "2.1", res.Rows[0].Extra["sensor_fw"])
	assert.Equal(t, 4.2, res.Rows[1].Values[4].Num)
	assert.Equal(t, time.Date(2025, 2, 1, 6, 0, 0, 0, time.UTC), res.Rows[1].Timestamp(domain.DefaultObservationSchema()))
}

func TestNormalizeChunk_CoordinatesCountAsIdentity(t *testing.T) {
	n := newNormalizer(t, domain.KindDelimited)

	schema := domain.Schema{Fields: []domain.Field{
		{Name: "timestamp", Type: domain.FieldTime},
		{Name: "lat", Type: domain.FieldFloat, Identity: true},
		{Name: "lon", Type: domain.FieldFloat, Identity: true},
		{Name: "rainfall_mm", Type: domain.FieldFloat},
	}}
	var err error
	n, err = normalize.New(schema, domain.KindDelimited, 0.5, slog.Default())
	require.NoError(t, err)

	res, err := n.NormalizeChunk(csvChunk(
		"timestamp,lat,lon,rainfall_mm\n" +
			"2025-01-15T09:30:00Z,51.5,-0.12,10\n" +
			"2025-01-15T10:30:00Z,0,0,10\n", // no identifying coordinates
	))
	require.NoError(t, err)
	assert.Len(t, res.Rows, 1)
	assert.Equal(t, 1, res.Rejections.Reasons[domain.ReasonMissingIdentity])
}
