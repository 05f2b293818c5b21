package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements SampleStore using SQLite
type SQLiteStore struct {
	db          *sql.DB
	session     *Session
	mu          sync.RWMutex
	sampleCount int64
	baseDir     string
}

const schema = `
CREATE TABLE IF NOT EXISTS samples (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	delta_us INTEGER NOT NULL,
	latency_ns INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	worker INTEGER NOT NULL,
	flags INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_worker ON samples(worker);
CREATE INDEX IF NOT EXISTS idx_timestamp ON samples(timestamp);
`

// NewSQLiteStore creates a new SQLite sample store
func NewSQLiteStore(baseDir string, session *Session) (*SQLiteStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	sessionDir := filepath.Join(baseDir, session.ID)
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	dbPath := filepath.Join(sessionDir, "samples.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// Create tables
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	store := &SQLiteStore{
		db:      db,
		session: session,
		baseDir: baseDir,
	}

	return store, nil
}

// OpenSQLiteStore opens an existing SQLite store for reading
func OpenSQLiteStore(baseDir string, sessionID string) (*SQLiteStore, error) {
	sessionDir := filepath.Join(baseDir, sessionID)
	dbPath := filepath.Join(sessionDir, "samples.db")

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &SQLiteStore{
		db:      db,
		baseDir: baseDir,
	}

	// Load session metadata
	session, err := loadSessionMetadata(sessionDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load session metadata: %w", err)
	}
	store.session = session

	return store, nil
}

func (s *SQLiteStore) WriteSample(sample *Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO samples (timestamp, delta_us, latency_ns, seq, worker, flags)
			  VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		sample.Timestamp,
		sample.DeltaUs,
		sample.LatencyNs,
		sample.Seq,
		sample.Worker,
		sample.Flags,
	)

	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}

	s.sampleCount++
	return nil
}

func (s *SQLiteStore) WriteBatch(samples []*Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO samples (timestamp, delta_us, latency_ns, seq, worker, flags)
							 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		_, err := stmt.Exec(
			sample.Timestamp,
			sample.DeltaUs,
			sample.LatencyNs,
			sample.Seq,
			sample.Worker,
			sample.Flags,
		)
		if err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}
		s.sampleCount++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

func (s *SQLiteStore) ReadSamples(ctx context.Context, filter *SampleFilter) ([]*Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT timestamp, delta_us, latency_ns, seq, worker, flags FROM samples WHERE 1=1"
	args := []interface{}{}

	if filter != nil {
		if filter.Worker != nil {
			query += " AND worker = ?"
			args = append(args, *filter.Worker)
		}
		if filter.StartTime != nil {
			query += " AND timestamp >= ?"
			args = append(args, *filter.StartTime)
		}
		if filter.EndTime != nil {
			query += " AND timestamp <= ?"
			args = append(args, *filter.EndTime)
		}
		if filter.MinDelta != nil {
			query += " AND delta_us >= ?"
			args = append(args, *filter.MinDelta)
		}
	}

	query += " ORDER BY timestamp ASC"

	if filter != nil {
		if filter.Limit > 0 {
			query += " LIMIT ?"
			args = append(args, filter.Limit)
		}
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []*Sample
	for rows.Next() {
		var sample Sample
		err := rows.Scan(
			&sample.Timestamp,
			&sample.DeltaUs,
			&sample.LatencyNs,
			&sample.Seq,
			&sample.Worker,
			&sample.Flags,
		)
		if err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		samples = append(samples, &sample)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return samples, nil
}

func (s *SQLiteStore) GetWorkers(ctx context.Context) ([]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT worker FROM samples ORDER BY worker")
	if err != nil {
		return nil, fmt.Errorf("query workers: %w", err)
	}
	defer rows.Close()

	var workers []uint32
	for rows.Next() {
		var w uint32
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		workers = append(workers, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return workers, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) GetSession() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *SQLiteStore) UpdateSession(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = session
	sessionDir := filepath.Join(s.baseDir, session.ID)
	return saveSessionMetadata(sessionDir, session)
}
