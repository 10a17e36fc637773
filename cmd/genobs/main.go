// Command genobs generates synthetic rainfall observation files for load and
// pipeline testing. Output is deterministic for a given seed.
//
// Usage:
//
//	go run ./cmd/genobs -out observations.csv -rows 10000 -stations 50
//	go run ./cmd/genobs -format ndjson -start 2025-01-01 -days 60 -rows 5000
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path (default stdout)")
	format := flag.String("format", "csv", "output format: csv or ndjson")
	rows := flag.Int("rows", 1000, "number of observation rows")
	stations := flag.Int("stations", 25, "number of distinct stations")
	start := flag.String("start", "2025-01-01", "first observation date (YYYY-MM-DD)")
	days := flag.Int("days", 31, "observation window in days")
	seed := flag.Int64("seed", 1, "random seed")
	badRate := flag.Float64("bad-rate", 0, "fraction of deliberately malformed rows, for drift testing")
	flag.Parse()

	if *format != "csv" && *format != "ndjson" {
		return fmt.Errorf("unknown format %q", *format)
	}
	startTime, err := time.Parse("2006-01-02", *start)
	if err != nil {
		return fmt.Errorf("parse -start: %w", err)
	}

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	bw := bufio.NewWriter(w)
	defer bw.Flush()

	rng := rand.New(rand.NewSource(*seed))
	if *format == "csv" {
		fmt.Fprintln(bw, "timestamp,station_id,lat,lon,rainfall_mm")
	}

	for i := 0; i < *rows; i++ {
		station := rng.Intn(*stations)
		ts := startTime.Add(time.Duration(rng.Int63n(int64(*days) * 24 * int64(time.Hour))))
		lat := 35.0 + rng.Float64()*20
		lon := -10.0 + rng.Float64()*25
		rain := rng.ExpFloat64() * 2.5

		if *badRate > 0 && rng.Float64() < *badRate {
			if *format == "csv" {
				fmt.Fprintf(bw, "not-a-timestamp,STN-%03d,%.4f,%.4f,%.2f\n", station, lat, lon, rain)
			} else {
				fmt.Fprintf(bw, `{"timestamp":"not-a-timestamp","station_id":"STN-%03d"}`+"\n", station)
			}
			continue
		}

		if *format == "csv" {
			fmt.Fprintf(bw, "%s,STN-%03d,%.4f,%.4f,%.2f\n",
				ts.UTC().Format(time.RFC3339), station, lat, lon, rain)
			continue
		}
		rec := map[string]any{
			"timestamp":   ts.UTC().Format(time.RFC3339),
			"station_id":  fmt.Sprintf("STN-%03d", station),
			"lat":         lat,
			"lon":         lon,
			"rainfall_mm": rain,
		}
		doc, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		bw.Write(doc)
		bw.WriteByte('\n')
	}

	log.Printf("wrote %d rows (%s, %d stations, seed %d)", *rows, *format, *stations, *seed)
	return nil
}
