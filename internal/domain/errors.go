package domain

import "fmt"

// SchemaDriftError marks a chunk whose per-row rejection rate exceeded the
// configured threshold. It is a structural failure of the whole chunk,
// distinct from individual row rejections, and fails the request.
type SchemaDriftError struct {
	Total     int
	Rejected  int
	Threshold float64
}

func (e *SchemaDriftError) Error() string {
	return fmt.Sprintf("schema drift: %d of %d rows rejected (threshold %.2f)",
		e.Rejected, e.Total, e.Threshold)
}

// TransientStorageError wraps a storage failure that persisted through every
// bounded retry. The request may be resubmitted; the manifest was not
// partially mutated.
type TransientStorageError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("storage %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientStorageError) Unwrap() error {
	return e.Err
}

// CompactionConflictError reports that the manifest changed under a running
// compaction (an uploader appended mid-merge). The cycle is abandoned and
// retried on the next schedule.
type CompactionConflictError struct {
	Key PartitionKey
}

func (e *CompactionConflictError) Error() string {
	return fmt.Sprintf("compaction conflict on partition %s: manifest changed mid-merge", e.Key)
}
