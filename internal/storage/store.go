// Package storage defines the object store boundary for raw retention,
// columnar artifacts, and manifest documents, plus the shared retry policy
// for transient storage failures.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/couchcryptid/rainfall-ingest-service/internal/domain"
)

// ErrNotFound is returned by Get when no object exists at the key.
var ErrNotFound = errors.New("storage: object not found")

// Object describes one stored object.
type Object struct {
	Key  string
	Size int64
}

// Store is the durable object store. Implementations must make Put atomic at
// the object level: a reader never observes a partially written object.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Object, error)
}

// Path layout under the destination bucket. The fingerprint in the artifact
// name, not a timestamp, is what makes re-ingestion idempotent.
const (
	rawPrefix       = "raw/"
	processedPrefix = "processed/"
	manifestPrefix  = "manifest/"
)

// RawPath is where one request's verbatim input is retained.
func RawPath(ingestID string, kind domain.ContentKind) string {
	return fmt.Sprintf("%s%s.%s", rawPrefix, ingestID, kind.Ext())
}

// ArtifactPath is the deterministic location of a columnar artifact.
func ArtifactPath(key domain.PartitionKey, fingerprint string) string {
	return fmt.Sprintf("%s%s/part-%s.rcol", processedPrefix, key.Path(), fingerprint)
}

// ManifestPath is the location of one partition's manifest document.
func ManifestPath(key domain.PartitionKey) string {
	return fmt.Sprintf("%s%s.json", manifestPrefix, key.Path())
}

// ManifestPrefix is the listing prefix covering all manifest documents.
func ManifestPrefix() string {
	return manifestPrefix
}
