package idempotency

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/copier/internal/domain"
)

const (
	defaultWALDir       = "./wal/idempotency"
	walDirPermissions   = 0o755
	walSegmentThreshold = 1000
	walMaxSegments      = 100
	processedKeyPrefix  = "processed_"
)

type processedRecord struct {
	EventID   string    `json:"event_id"`
	AccountID string    `json:"account_id"`
	Timestamp time.Time `json:"ts"`
}

// WALStore appends each processed key to a write-ahead log and reloads the
// log on start, so a restart does not replay fills already copied.
type WALStore struct {
	mu     sync.RWMutex
	wal    *gowal.Wal
	set    *keySet
	logger *zap.Logger
	now    func() time.Time
}

// NewWALStore opens or creates the log under dir. Records that fail to
// decode are skipped.
func NewWALStore(dir string, retention int, logger *zap.Logger) (*WALStore, error) {
	if dir == "" {
		dir = defaultWALDir
	}
	if err := os.MkdirAll(dir, walDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure WAL directory %s", dir)
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "processed_",
		SegmentThreshold: walSegmentThreshold,
		MaxSegments:      walMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init idempotency WAL")
	}

	s := &WALStore{
		wal:    wal,
		set:    newKeySet(retention),
		logger: logger,
		now:    time.Now,
	}

	skipped := 0
	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, processedKeyPrefix) {
			continue
		}
		var rec processedRecord
		if err := json.Unmarshal(msg.Value, &rec); err != nil || rec.EventID == "" {
			skipped++
			continue
		}
		s.set.add(domain.IdempotencyKey{EventID: rec.EventID, AccountID: rec.AccountID})
	}
	if skipped > 0 {
		logger.Warn("skipped undecodable idempotency records", zap.Int("count", skipped))
	}
	logger.Info("idempotency store loaded", zap.Int("keys", s.set.len()), zap.String("dir", dir))

	return s, nil
}

func (s *WALStore) IsProcessed(key domain.IdempotencyKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.has(key)
}

// MarkProcessed remembers key and appends it to the log. A failed append
// keeps the key in memory and returns a *PersistenceError.
func (s *WALStore) MarkProcessed(key domain.IdempotencyKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if added, _ := s.set.add(key); !added {
		return nil
	}
	return s.append(key)
}

func (s *WALStore) append(key domain.IdempotencyKey) error {
	payload, err := json.Marshal(processedRecord{EventID: key.EventID, AccountID: key.AccountID, Timestamp: s.now().UTC()})
	if err != nil {
		return &PersistenceError{Backend: BackendWAL, Op: "encode", Err: err}
	}
	if err := s.wal.Write(s.wal.CurrentIndex()+1, processedKeyPrefix+key.String(), payload); err != nil {
		return &PersistenceError{Backend: BackendWAL, Op: "append", Err: err}
	}
	return nil
}

// Import merges keys and persists the ones not seen before.
func (s *WALStore) Import(keys []domain.IdempotencyKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, k := range keys {
		if added, _ := s.set.add(k); !added {
			continue
		}
		if err := s.append(k); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *WALStore) Export() []domain.IdempotencyKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.list()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.Close()
}
