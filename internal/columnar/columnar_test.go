package columnar_test

import (
	"testing"
	"time"

	"github.com/couchcryptid/rainfall-ingest-service/internal/columnar"
	"github.com/couchcryptid/rainfall-ingest-service/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRows() []domain.Row {
	return []domain.Row{
		{Values: []domain.Value{
			{Time: time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)},
			{Str: "ST-001"},
			{Num: 51.5},
			{Num: -0.12},
			{Num: 10},
		}},
		{Values: []domain.Value{
			{Time: time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)},
			{Str: "ST-002"},
			{Num: 48.85},
			{Num: 2.35},
			{Num: 0},
		}, Extra: map[string]string{"quality_flag": "ok"}},
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	schema := domain.DefaultObservationSchema()
	rows := sampleRows()

	enc, err := columnar.Encode(schema, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, enc.Rows)
	assert.Len(t, enc.Fingerprint, 16)

	gotSchema, gotRows, err := columnar.Decode(enc.Data)
	require.NoError(t, err)
	assert.True(t, schema.Equal(gotSchema), "schema must travel with the artifact")

	if diff := cmp.Diff(rows, gotRows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode_FingerprintDeterministic(t *testing.T) {
	schema := domain.DefaultObservationSchema()

	a, err := columnar.Encode(schema, sampleRows())
	require.NoError(t, err)
	b, err := columnar.Encode(schema, sampleRows())
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.Equal(t, a.Data, b.Data)
}

func TestEncode_FingerprintSensitiveToContent(t *testing.T) {
	schema := domain.DefaultObservationSchema()

	a, err := columnar.Encode(schema, sampleRows())
	require.NoError(t, err)

	changed := sampleRows()
	changed[0].Values[4].Num = 11
	b, err := columnar.Encode(schema, changed)
	require.NoError(t, err)

	assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
}

func TestEncode_RejectsEmpty(t *testing.T) {
	_, err := columnar.Encode(domain.DefaultObservationSchema(), nil)
	require.Error(t, err)
}

func TestDecode_BadMagic(t *testing.T) {
	_, _, err := columnar.Decode([]byte("not an artifact"))
	require.Error(t, err)
}

func TestDecode_DetectsCorruption(t *testing.T) {
	enc, err := columnar.Encode(domain.DefaultObservationSchema(), sampleRows())
	require.NoError(t, err)

	// Flip a byte in the compressed body. Either the LZ4 frame or a column
	// checksum must catch it.
	corrupted := append([]byte(nil), enc.Data...)
	corrupted[len(corrupted)-10] ^= 0xff

	_, _, err = columnar.Decode(corrupted)
	require.Error(t, err)
}

func TestEncodeDecode_ExtrasOmittedWhenAbsent(t *testing.T) {
	schema := domain.DefaultObservationSchema()
	rows := sampleRows()
	rows[1].Extra = nil

	enc, err := columnar.Encode(schema, rows)
	require.NoError(t, err)

	_, gotRows, err := columnar.Decode(enc.Data)
	require.NoError(t, err)
	assert.Nil(t, gotRows[0].Extra)
	assert.Nil(t, gotRows[1].Extra)
}
