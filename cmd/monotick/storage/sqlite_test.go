package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreRoundtrip(t *testing.T) {
	baseDir := t.TempDir()
	session := testSession("sqlite-roundtrip")

	store, err := NewSQLiteStore(baseDir, session)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	if err := store.WriteBatch(testSamples()); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := store.WriteSample(&Sample{Timestamp: 2_000, DeltaUs: 700, Seq: 3, Worker: 0}); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	store.Close()

	if err := saveSessionMetadata(filepath.Join(baseDir, session.ID), session); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenSQLiteStore(baseDir, session.ID)
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	defer reopened.Close()

	ctx := context.Background()

	samples, err := reopened.ReadSamples(ctx, nil)
	if err != nil {
		t.Fatalf("ReadSamples: %v", err)
	}
	if len(samples) != 7 {
		t.Fatalf("expected 7 samples, got %d", len(samples))
	}
	// Rows come back ordered by timestamp; the failed read sorts first
	if samples[0].Flags&FlagUnavailable == 0 {
		t.Error("expected the zero-timestamp sample first")
	}
	if samples[6].Timestamp != 2_000 {
		t.Errorf("last sample ts=%d, want 2000", samples[6].Timestamp)
	}

	worker := uint32(0)
	minDelta := uint64(100)
	samples, err = reopened.ReadSamples(ctx, &SampleFilter{Worker: &worker, MinDelta: &minDelta, Limit: 2})
	if err != nil {
		t.Fatalf("ReadSamples(filtered): %v", err)
	}
	if len(samples) != 2 {
		t.Errorf("filtered read: expected 2 samples, got %d", len(samples))
	}

	workers, err := reopened.GetWorkers(ctx)
	if err != nil {
		t.Fatalf("GetWorkers: %v", err)
	}
	if len(workers) != 2 {
		t.Errorf("expected 2 workers, got %d", len(workers))
	}
}
