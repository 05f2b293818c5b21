package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Sample flag bits.
const (
	FlagBackward    uint32 = 1 << 0 // reading was lower than the previous one on the same worker
	FlagUnavailable uint32 = 1 << 1 // clock query failed, timestamp is zero
)

// Sample is one reading of the monotonic clock taken by a sampling worker.
// All fields are fixed-size so the binary store can write the struct as-is.
type Sample struct {
	Timestamp uint64 `json:"timestamp"`  // clock reading in microseconds
	DeltaUs   uint64 `json:"delta_us"`   // distance from the previous reading on this worker
	LatencyNs uint64 `json:"latency_ns"` // wall time spent inside the clock call
	Seq       uint64 `json:"seq"`        // per-worker sequence number
	Worker    uint32 `json:"worker"`
	Flags     uint32 `json:"flags"`
}

type Session struct {
	ID          string     `json:"id"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Strategy    string     `json:"strategy"`
	Interval    string     `json:"interval"`
	SampleCount int64      `json:"sample_count"`
}

type SampleFilter struct {
	Worker    *uint32
	StartTime *uint64
	EndTime   *uint64
	MinDelta  *uint64
	Limit     int
	Offset    int
}

type SampleStore interface {
	WriteSample(sample *Sample) error
	WriteBatch(samples []*Sample) error
	ReadSamples(ctx context.Context, filter *SampleFilter) ([]*Sample, error)
	GetWorkers(ctx context.Context) ([]uint32, error)
	Close() error
	GetSession() *Session
	UpdateSession(session *Session) error
}

type SessionStore interface {
	ListSessions(ctx context.Context) ([]*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	OpenSession(ctx context.Context, id string) (SampleStore, error)
	CreateSession(ctx context.Context, session *Session, format string) (SampleStore, error)
	DeleteSession(ctx context.Context, id string) error
	io.Closer
}

// matches reports whether the sample passes the value filters. Offset and
// Limit are applied by the stores themselves.
func (f *SampleFilter) matches(sample *Sample) bool {
	if f == nil {
		return true
	}
	if f.Worker != nil && sample.Worker != *f.Worker {
		return false
	}
	if f.StartTime != nil && sample.Timestamp < *f.StartTime {
		return false
	}
	if f.EndTime != nil && sample.Timestamp > *f.EndTime {
		return false
	}
	if f.MinDelta != nil && sample.DeltaUs < *f.MinDelta {
		return false
	}
	return true
}

func saveSessionMetadata(sessionDir string, session *Session) error {
	metadataPath := filepath.Join(sessionDir, "metadata.json")
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}

	if err := os.WriteFile(metadataPath, data, 0644); err != nil {
		return fmt.Errorf("write session metadata: %w", err)
	}

	return nil
}

func loadSessionMetadata(sessionDir string) (*Session, error) {
	metadataPath := filepath.Join(sessionDir, "metadata.json")
	data, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("read session metadata: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session metadata: %w", err)
	}

	return &session, nil
}
