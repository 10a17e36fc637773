// Package partition routes normalized rows into bounded per-key accumulators.
//
// Total memory is bounded by (open partitions x per-partition ceiling), not
// by input size: an accumulator hands its rows off the moment it reaches its
// row or byte ceiling, and the remainder drains on the final flush. Row order
// within a partition is arrival order; nothing reorders across chunks.
package partition

import (
	"context"
	"fmt"
	"sort"

	"github.com/couchcryptid/rainfall-ingest-service/internal/domain"
	"github.com/couchcryptid/rainfall-ingest-service/internal/observability"
)

// FlushFunc receives a completed accumulator's rows. Rows are handed over in
// arrival order and the slice is owned by the callee afterwards.
type FlushFunc func(ctx context.Context, key domain.PartitionKey, rows []domain.Row) error

// Partitioner accumulates rows per partition key for one ingestion request.
// It is owned by a single request and is not safe for concurrent use.
type Partitioner struct {
	schema      domain.Schema
	granularity domain.Granularity
	maxRows     int
	maxBytes    int
	flush       FlushFunc
	metrics     *observability.Metrics

	open map[domain.PartitionKey]*accumulator
}

type accumulator struct {
	rows  []domain.Row
	bytes int
}

// New creates a Partitioner that hands completed accumulators to flush.
func New(schema domain.Schema, granularity domain.Granularity, maxRows, maxBytes int, flush FlushFunc, metrics *observability.Metrics) *Partitioner {
	return &Partitioner{
		schema:      schema,
		granularity: granularity,
		maxRows:     maxRows,
		maxBytes:    maxBytes,
		flush:       flush,
		metrics:     metrics,
		open:        make(map[domain.PartitionKey]*accumulator),
	}
}

// Add derives the row's partition key and appends it to that key's
// accumulator, flushing if a ceiling is reached.
func (p *Partitioner) Add(ctx context.Context, row domain.Row) error {
	ts := row.Timestamp(p.schema)
	if ts.IsZero() {
		// The normalizer guarantees a valid timestamp; reaching this is a bug.
		return fmt.Errorf("partition: row without timestamp")
	}
	key := domain.KeyFor(ts, p.granularity)

	acc, ok := p.open[key]
	if !ok {
		acc = &accumulator{}
		p.open[key] = acc
		p.metrics.OpenAccumulators.Inc()
	}

	acc.rows = append(acc.rows, row)
	acc.bytes += row.EncodedSize(p.schema)

	switch {
	case len(acc.rows) >= p.maxRows:
		return p.flushKey(ctx, key, "rows")
	case acc.bytes >= p.maxBytes:
		return p.flushKey(ctx, key, "bytes")
	}
	return nil
}

// FlushAll drains every open accumulator at end of stream. Keys flush in
// deterministic path order.
func (p *Partitioner) FlushAll(ctx context.Context) error {
	keys := make([]domain.PartitionKey, 0, len(p.open))
	for key := range p.open {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Path() < keys[j].Path() })

	for _, key := range keys {
		if err := p.flushKey(ctx, key, "final"); err != nil {
			return err
		}
	}
	return nil
}

// Discard drops every open accumulator without flushing. Called when a
// request aborts; a no-op after a completed FlushAll.
func (p *Partitioner) Discard() {
	for key := range p.open {
		delete(p.open, key)
		p.metrics.OpenAccumulators.Dec()
	}
}

// OpenPartitions reports how many accumulators currently hold rows.
func (p *Partitioner) OpenPartitions() int {
	return len(p.open)
}

func (p *Partitioner) flushKey(ctx context.Context, key domain.PartitionKey, trigger string) error {
	acc := p.open[key]
	if acc == nil || len(acc.rows) == 0 {
		return nil
	}
	delete(p.open, key)
	p.metrics.OpenAccumulators.Dec()
	p.metrics.AccumulatorFlushes.WithLabelValues(trigger).Inc()

	return p.flush(ctx, key, acc.rows)
}
