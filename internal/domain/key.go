package domain

import (
	"fmt"
	"strings"
	"time"
)

// Granularity selects how much of the timestamp contributes to a
// partition key.
type Granularity string

const (
	GranularityYear  Granularity = "year"
	GranularityMonth Granularity = "month"
	GranularityDay   Granularity = "day"
)

// ParseGranularity validates a configured granularity name.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(strings.ToLower(strings.TrimSpace(s))) {
	case GranularityYear:
		return GranularityYear, nil
	case GranularityMonth:
		return GranularityMonth, nil
	case GranularityDay:
		return GranularityDay, nil
	default:
		return "", fmt.Errorf("unknown partition granularity %q", s)
	}
}

// PartitionKey is the derived grouping key for a row. It is a pure function
// of the row's UTC timestamp and the configured granularity; fields beyond
// the granularity are zero.
type PartitionKey struct {
	Year        int         `json:"year"`
	Month       int         `json:"month,omitempty"`
	Day         int         `json:"day,omitempty"`
	Granularity Granularity `json:"granularity"`
}

// KeyFor derives the partition key for a timestamp. The timestamp is
// normalized to UTC first so the same instant always maps to the same key.
func KeyFor(ts time.Time, g Granularity) PartitionKey {
	ts = ts.UTC()
	key := PartitionKey{Year: ts.Year(), Granularity: g}
	switch g {
	case GranularityMonth:
		key.Month = int(ts.Month())
	case GranularityDay:
		key.Month = int(ts.Month())
		key.Day = ts.Day()
	}
	return key
}

// Path renders the key as a storage path segment: "2025", "2025-01", or
// "2025-01-15" depending on granularity.
func (k PartitionKey) Path() string {
	switch k.Granularity {
	case GranularityMonth:
		return fmt.Sprintf("%04d-%02d", k.Year, k.Month)
	case GranularityDay:
		return fmt.Sprintf("%04d-%02d-%02d", k.Year, k.Month, k.Day)
	default:
		return fmt.Sprintf("%04d", k.Year)
	}
}

func (k PartitionKey) String() string {
	return k.Path()
}
