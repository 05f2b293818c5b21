package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.sazak.io/monotick"
	"go.sazak.io/monotick/cmd/monotick/storage"
)

// takeSample reads the clock once and packages the reading together with its
// distance from the previous reading on the same worker and the wall time the
// call itself took.
func takeSample(worker uint32, seq uint64, prev uint64) *storage.Sample {
	start := time.Now()
	ts := monotick.Now()
	latency := time.Since(start).Nanoseconds()

	sample := &storage.Sample{
		Timestamp: ts,
		LatencyNs: uint64(latency),
		Seq:       seq,
		Worker:    worker,
	}

	if ts == 0 {
		// Zero means the platform primitive failed, not "zero elapsed"
		sample.Flags |= storage.FlagUnavailable
		return sample
	}

	if prev != 0 {
		if ts >= prev {
			sample.DeltaUs = ts - prev
		} else {
			sample.Flags |= storage.FlagBackward
		}
	}

	return sample
}

// parseQuantiles parses the latency summary quantiles from the command line flag
func parseQuantiles(quantilesStr string) ([]float64, error) {
	if quantilesStr == "" {
		return nil, nil
	}

	parts := strings.Split(quantilesStr, ",")
	quantiles := make([]float64, 0, len(parts))
	for _, part := range parts {
		q, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid quantile: %s", part)
		}

		if q <= 0 || q > 1 {
			return nil, fmt.Errorf("quantile must be in (0, 1], got %f", q)
		}

		quantiles = append(quantiles, q)
	}

	return quantiles, nil
}
