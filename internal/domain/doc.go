// Package domain models rainfall observation data on its way into
// partitioned columnar storage.
//
// # Data Source
//
// Observations arrive as raw tabular files collected from rain gauge and
// sensor networks: either comma-delimited text with a header row, or
// line-delimited JSON. Every record carries a UTC timestamp, a reporting
// station identifier, optional WGS-84 coordinates, and the measured
// precipitation in millimetres.
//
// # Normalization Policy
//
// A record that cannot produce a valid UTC timestamp, or that identifies no
// station, is dropped and counted before it reaches the partitioner.
// Magnitude fields (precipitation, coordinates) that fail numeric parsing
// are coerced to zero rather than dropped: upstream gauges report "no
// observation" as an absent value, so absence is data-equivalent to zero.
// This is a deliberate lossy policy, counted separately so downstream
// consumers can audit it. Callers relying on trigger thresholds should
// confirm zero-fill matches their semantics.
//
// # Partitioning
//
// Rows are grouped by a [PartitionKey] derived purely from the timestamp at
// the configured granularity (year, year-month, or year-month-day). The
// derivation is deterministic: the same instant always lands in the same
// partition regardless of ingest order or wall clock.
//
// # Fingerprints and Idempotency
//
// An [Artifact] is named by a content fingerprint: a SHA-256 hash over the
// canonical pre-compression column encoding. Re-submitting byte-identical
// input reproduces the same fingerprints, which makes uploads idempotent at
// the storage layer and replay safe without distributed coordination.
package domain
