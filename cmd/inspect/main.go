// Command inspect decodes a columnar artifact file, verifies its checksums
// and fingerprint, and prints a summary of its contents.
//
// Usage:
//
//	go run ./cmd/inspect part-a1b2c3d4e5f60708.rcol
//	go run ./cmd/inspect -rows 5 part-a1b2c3d4e5f60708.rcol
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/couchcryptid/rainfall-ingest-service/internal/columnar"
	"github.com/couchcryptid/rainfall-ingest-service/internal/domain"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	showRows := flag.Int("rows", 0, "print the first N decoded rows")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("expected exactly one artifact file")
	}
	path := flag.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	schema, rows, err := columnar.Decode(data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	// Re-encoding reproduces the canonical fingerprint, which must match the
	// one embedded in the file name.
	enc, err := columnar.Encode(schema, rows)
	if err != nil {
		return fmt.Errorf("re-encode: %w", err)
	}
	fmt.Printf("file:        %s (%d bytes)\n", path, len(data))
	fmt.Printf("fingerprint: %s", enc.Fingerprint)
	if want := fingerprintFromName(path); want != "" && want != enc.Fingerprint {
		fmt.Printf("  MISMATCH (file name says %s)", want)
	}
	fmt.Println()

	fmt.Printf("rows:        %d\n", len(rows))
	fmt.Println("schema:")
	for _, f := range schema.Fields {
		marker := ""
		if f.Identity {
			marker = "  (identity)"
		}
		fmt.Printf("  %-16s %s%s\n", f.Name, f.Type, marker)
	}

	printStats(schema, rows)

	for i, row := range rows {
		if i >= *showRows {
			break
		}
		printRow(schema, row)
	}
	return nil
}

func fingerprintFromName(path string) string {
	base := path
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(base, ".rcol")
	if rest, ok := strings.CutPrefix(base, "part-"); ok {
		return rest
	}
	return ""
}

func printStats(schema domain.Schema, rows []domain.Row) {
	tsIdx := schema.TimestampIndex()
	if tsIdx < 0 || len(rows) == 0 {
		return
	}

	minTime, maxTime := rows[0].Values[tsIdx].Time, rows[0].Values[tsIdx].Time
	for _, row := range rows[1:] {
		ts := row.Values[tsIdx].Time
		if ts.Before(minTime) {
			minTime = ts
		}
		if ts.After(maxTime) {
			maxTime = ts
		}
	}
	fmt.Printf("time range:  %s .. %s\n",
		minTime.Format(time.RFC3339), maxTime.Format(time.RFC3339))

	for i, f := range schema.Fields {
		if f.Type != domain.FieldFloat {
			continue
		}
		var sum, maxVal float64
		for _, row := range rows {
			v := row.Values[i].Num
			sum += v
			if v > maxVal {
				maxVal = v
			}
		}
		fmt.Printf("%-12s mean=%.3f max=%.3f\n", f.Name+":", sum/float64(len(rows)), maxVal)
	}

	extras := 0
	for _, row := range rows {
		if len(row.Extra) > 0 {
			extras++
		}
	}
	if extras > 0 {
		fmt.Printf("extra:       %d rows carry out-of-schema fields\n", extras)
	}
}

func printRow(schema domain.Schema, row domain.Row) {
	parts := make([]string, 0, len(schema.Fields))
	for i, f := range schema.Fields {
		switch f.Type {
		case domain.FieldTime:
			parts = append(parts, row.Values[i].Time.Format(time.RFC3339))
		case domain.FieldFloat:
			parts = append(parts, fmt.Sprintf("%g", row.Values[i].Num))
		default:
			parts = append(parts, row.Values[i].Str)
		}
	}
	fmt.Println("  " + strings.Join(parts, " | "))
}
