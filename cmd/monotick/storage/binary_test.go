package storage

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestBinaryStoreRoundtrip(t *testing.T) {
	baseDir := t.TempDir()
	session := testSession("binary-roundtrip")

	store, err := NewBinaryStore(baseDir, session)
	if err != nil {
		t.Fatalf("NewBinaryStore: %v", err)
	}

	if err := store.WriteBatch(testSamples()); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := saveSessionMetadata(filepath.Join(baseDir, session.ID), session); err != nil {
		t.Fatalf("saveSessionMetadata: %v", err)
	}

	reopened, err := OpenBinaryStore(baseDir, session.ID)
	if err != nil {
		t.Fatalf("OpenBinaryStore: %v", err)
	}
	defer reopened.Close()

	samples, err := reopened.ReadSamples(context.Background(), nil)
	if err != nil {
		t.Fatalf("ReadSamples: %v", err)
	}
	if len(samples) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(samples))
	}
	for i, want := range testSamples() {
		got := samples[i]
		if *got != *want {
			t.Errorf("sample %d: got %+v, want %+v", i, got, want)
		}
	}

	workers, err := reopened.GetWorkers(context.Background())
	if err != nil {
		t.Fatalf("GetWorkers: %v", err)
	}
	if len(workers) != 2 {
		t.Errorf("expected 2 workers, got %d", len(workers))
	}
}

func TestBinaryStoreRejectsBadHeader(t *testing.T) {
	baseDir := t.TempDir()
	sessionDir := filepath.Join(baseDir, "bad-header")
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := saveSessionMetadata(sessionDir, testSession("bad-header")); err != nil {
		t.Fatal(err)
	}

	file, err := os.Create(filepath.Join(sessionDir, "samples.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if err := binary.Write(file, binary.LittleEndian, uint32(0xDEADBEEF)); err != nil {
		t.Fatal(err)
	}
	if err := binary.Write(file, binary.LittleEndian, binaryVersion); err != nil {
		t.Fatal(err)
	}
	file.Close()

	if _, err := OpenBinaryStore(baseDir, "bad-header"); err == nil {
		t.Error("OpenBinaryStore accepted a file with a bad magic number")
	}
}

func TestBinaryStoreFilters(t *testing.T) {
	baseDir := t.TempDir()
	session := testSession("binary-filters")

	store, err := NewBinaryStore(baseDir, session)
	if err != nil {
		t.Fatalf("NewBinaryStore: %v", err)
	}
	if err := store.WriteBatch(testSamples()); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	store.Close()

	if err := saveSessionMetadata(filepath.Join(baseDir, session.ID), session); err != nil {
		t.Fatal(err)
	}
	read, err := OpenBinaryStore(baseDir, session.ID)
	if err != nil {
		t.Fatalf("OpenBinaryStore: %v", err)
	}
	defer read.Close()

	worker := uint32(1)
	samples, err := read.ReadSamples(context.Background(), &SampleFilter{Worker: &worker})
	if err != nil {
		t.Fatalf("ReadSamples(worker=1): %v", err)
	}
	if len(samples) != 3 {
		t.Errorf("worker filter: expected 3 samples, got %d", len(samples))
	}

	samples, err = read.ReadSamples(context.Background(), &SampleFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ReadSamples(limit): %v", err)
	}
	if len(samples) != 1 {
		t.Errorf("limit filter: expected 1 sample, got %d", len(samples))
	}
}
