package domain

import "time"

// Artifact describes one immutable columnar object in the store. The
// fingerprint is a content hash over the canonical row encoding, so
// re-ingesting identical data reproduces the same artifact identity.
type Artifact struct {
	Key         PartitionKey `json:"key"`
	Fingerprint string       `json:"fingerprint"`
	Rows        int          `json:"rows"`
	Bytes       int64        `json:"bytes"`
	Path        string       `json:"path"`
	CreatedAt   time.Time    `json:"created_at"`
}

// ManifestEntry is the durable record of everything persisted for one
// partition key. Artifacts appear in append order. Generation increments on
// every mutation; the compactor uses it to detect concurrent appends.
type ManifestEntry struct {
	Key        PartitionKey `json:"key"`
	Generation int64        `json:"generation"`
	Artifacts  []Artifact   `json:"artifacts"`
}

// HasFingerprint reports whether the entry already records an artifact with
// the given fingerprint.
func (e ManifestEntry) HasFingerprint(fp string) bool {
	for _, a := range e.Artifacts {
		if a.Fingerprint == fp {
			return true
		}
	}
	return false
}

// RejectionSummary aggregates per-row validation failures for one request.
// Individual row errors are never surfaced; only these counts are.
type RejectionSummary struct {
	Rows    int            `json:"rows"`
	Reasons map[string]int `json:"reasons,omitempty"`
}

// Add records one rejected row under the given reason.
func (s *RejectionSummary) Add(reason string) {
	if s.Reasons == nil {
		s.Reasons = make(map[string]int)
	}
	s.Rows++
	s.Reasons[reason]++
}

// Merge folds another summary into this one.
func (s *RejectionSummary) Merge(other RejectionSummary) {
	for reason, n := range other.Reasons {
		if s.Reasons == nil {
			s.Reasons = make(map[string]int)
		}
		s.Reasons[reason] += n
	}
	s.Rows += other.Rows
}

// Rejection reasons used by the normalizer.
const (
	ReasonBadRecord       = "bad_record"
	ReasonMissingTime     = "missing_timestamp"
	ReasonBadTime         = "bad_timestamp"
	ReasonMissingIdentity = "missing_identity"
)

// Status is the logical outcome code of one ingestion request.
type Status string

const (
	// StatusCreated: at least one new artifact was written.
	StatusCreated Status = "created"
	// StatusDeduplicated: all produced artifacts already existed.
	StatusDeduplicated Status = "deduplicated"
	// StatusRejectedSchema: a chunk exceeded the drift threshold and the
	// request aborted. Raw retention is still complete.
	StatusRejectedSchema Status = "rejected_schema"
	// StatusFailedTransient: storage retries exhausted; safe to resubmit.
	StatusFailedTransient Status = "failed_transient"
	// StatusFailedFatal: non-retryable failure.
	StatusFailedFatal Status = "failed_fatal"
)

// Result is what one ingestion request returns to its caller.
type Result struct {
	IngestID     string           `json:"ingest_id"`
	Status       Status           `json:"status"`
	RawPath      string           `json:"raw_path,omitempty"`
	Created      []Artifact       `json:"created,omitempty"`
	Deduplicated []Artifact       `json:"deduplicated,omitempty"`
	Rejections   RejectionSummary `json:"rejections"`
}

// RequestState tracks one ingestion request through its lifecycle. States are
// observability signals; transitions are linear with two terminal failures.
type RequestState string

const (
	StateReceived     RequestState = "received"
	StateValidating   RequestState = "validating"
	StatePartitioning RequestState = "partitioning"
	StateWriting      RequestState = "writing"
	StateUploaded     RequestState = "uploaded"
	StateRejected     RequestState = "rejected"
	StateFailed       RequestState = "failed"
)
