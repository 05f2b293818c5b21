package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const (
	binaryMagicNumber = uint32(0x4D54434B) // "MTCK"
	binaryVersion     = uint32(1)
	binaryHeaderSize  = 8
)

// BinaryStore implements SampleStore using a fixed-record binary format
type BinaryStore struct {
	file        *os.File
	session     *Session
	mu          sync.RWMutex
	sampleCount int64
	baseDir     string
}

// NewBinaryStore creates a new binary sample store
func NewBinaryStore(baseDir string, session *Session) (*BinaryStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	sessionDir := filepath.Join(baseDir, session.ID)
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	filePath := filepath.Join(sessionDir, "samples.bin")
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open binary file: %w", err)
	}

	store := &BinaryStore{
		file:    file,
		session: session,
		baseDir: baseDir,
	}

	// Write header if file is empty
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	if stat.Size() == 0 {
		if err := store.writeHeader(); err != nil {
			file.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	return store, nil
}

// OpenBinaryStore opens an existing binary store for reading
func OpenBinaryStore(baseDir string, sessionID string) (*BinaryStore, error) {
	sessionDir := filepath.Join(baseDir, sessionID)
	filePath := filepath.Join(sessionDir, "samples.bin")

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open binary file: %w", err)
	}

	store := &BinaryStore{
		file:    file,
		baseDir: baseDir,
	}

	// Read and validate header
	if err := store.readHeader(); err != nil {
		file.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	// Load session metadata
	session, err := loadSessionMetadata(sessionDir)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("load session metadata: %w", err)
	}
	store.session = session

	return store, nil
}

func (s *BinaryStore) writeHeader() error {
	if err := binary.Write(s.file, binary.LittleEndian, binaryMagicNumber); err != nil {
		return err
	}
	if err := binary.Write(s.file, binary.LittleEndian, binaryVersion); err != nil {
		return err
	}
	return nil
}

func (s *BinaryStore) readHeader() error {
	var magic, version uint32
	if err := binary.Read(s.file, binary.LittleEndian, &magic); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if magic != binaryMagicNumber {
		return fmt.Errorf("invalid magic number: %x", magic)
	}
	if err := binary.Read(s.file, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if version != binaryVersion {
		return fmt.Errorf("unsupported version: %d", version)
	}
	return nil
}

func (s *BinaryStore) WriteSample(sample *Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := binary.Write(s.file, binary.LittleEndian, sample); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}

	s.sampleCount++
	return nil
}

func (s *BinaryStore) WriteBatch(samples []*Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sample := range samples {
		if err := binary.Write(s.file, binary.LittleEndian, sample); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
		s.sampleCount++
	}

	return nil
}

func (s *BinaryStore) ReadSamples(ctx context.Context, filter *SampleFilter) ([]*Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Seek to beginning after header
	if _, err := s.file.Seek(binaryHeaderSize, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to start: %w", err)
	}

	var samples []*Sample
	count := 0
	skipped := 0

	for {
		select {
		case <-ctx.Done():
			return samples, ctx.Err()
		default:
		}

		var sample Sample
		if err := binary.Read(s.file, binary.LittleEndian, &sample); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("read sample: %w", err)
		}

		if !filter.matches(&sample) {
			continue
		}
		if filter != nil && filter.Offset > 0 && skipped < filter.Offset {
			skipped++
			continue
		}

		samples = append(samples, &sample)
		count++

		if filter != nil && filter.Limit > 0 && count >= filter.Limit {
			break
		}
	}

	return samples, nil
}

func (s *BinaryStore) GetWorkers(ctx context.Context) ([]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.file.Seek(binaryHeaderSize, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to start: %w", err)
	}

	workerMap := make(map[uint32]bool)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var sample Sample
		if err := binary.Read(s.file, binary.LittleEndian, &sample); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("read sample: %w", err)
		}

		workerMap[sample.Worker] = true
	}

	workers := make([]uint32, 0, len(workerMap))
	for w := range workerMap {
		workers = append(workers, w)
	}

	return workers, nil
}

func (s *BinaryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

func (s *BinaryStore) GetSession() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *BinaryStore) UpdateSession(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = session
	sessionDir := filepath.Join(s.baseDir, session.ID)
	return saveSessionMetadata(sessionDir, session)
}
