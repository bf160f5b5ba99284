// Package journal keeps an append-only log of dispatch cycles for the
// read-only history stream.
package journal

import (
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/copier/internal/domain"
)

const (
	DefaultDir = "./wal/journal"

	cycleSegmentLimit = 1000
	cycleMaxSegments  = 100
	cycleKeyPrefix    = "cycle_"
)

// WALStore persists dispatch cycles in a WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed journal under the provided directory.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create journal dir")
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "journal_",
		SegmentThreshold: cycleSegmentLimit,
		MaxSegments:      cycleMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init journal WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends the cycle. Cycles without an event id are rejected.
func (s *WALStore) Save(cycle domain.DispatchCycle) error {
	if s == nil || s.wal == nil {
		return errors.New("journal is not initialized")
	}
	if cycle.Event.EventID == "" {
		return errors.New("journal cycle event id is required")
	}

	payload, err := json.Marshal(cycle)
	if err != nil {
		return errors.Wrap(err, "marshal dispatch cycle")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, cycleKeyPrefix+cycle.Event.EventID, payload)
}

// CyclesAfter returns all cycles written after the provided WAL index.
func (s *WALStore) CyclesAfter(index uint64) ([]domain.CycleRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]domain.CycleRecord, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, cycleKeyPrefix) {
			continue
		}
		var cycle domain.DispatchCycle
		if err := json.Unmarshal(payload, &cycle); err != nil {
			return nil, errors.Wrap(err, "decode dispatch cycle")
		}
		records = append(records, domain.CycleRecord{Index: idx, Cycle: cycle})
	}

	return records, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("journal is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
