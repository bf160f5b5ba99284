// Package idempotency records which (fill, follower) pairs already received
// an order, so each pair is acted on at most once.
package idempotency

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/copier/internal/domain"
)

const (
	BackendMemory = "memory"
	BackendWAL    = "wal"
	BackendRedis  = "redis"

	// DefaultRetention is the number of distinct fill events remembered.
	DefaultRetention = 10000
	DefaultRedisTTL  = 7 * 24 * time.Hour
)

// Store tracks processed idempotency keys.
type Store interface {
	IsProcessed(key domain.IdempotencyKey) bool
	// MarkProcessed records key. The key is always remembered in memory; a
	// returned *PersistenceError means it may not survive a restart.
	MarkProcessed(key domain.IdempotencyKey) error
	// Import merges previously exported keys.
	Import(keys []domain.IdempotencyKey) error
	// Export lists remembered keys, oldest event first.
	Export() []domain.IdempotencyKey
	Close() error
}

// PersistenceError reports that stable storage could not be read or written.
// The store keeps operating in memory.
type PersistenceError struct {
	Backend string
	Op      string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("idempotency %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Config selects and tunes a backend.
type Config struct {
	Backend   string        `yaml:"backend"`
	Dir       string        `yaml:"dir,omitempty"`
	RedisURL  string        `yaml:"redis_url,omitempty"`
	Retention int           `yaml:"retention,omitempty"`
	TTL       time.Duration `yaml:"ttl,omitempty"`
}

// Open builds the configured store. A backend that cannot be opened degrades
// to an in-memory store; the failure is logged, never returned.
func Open(cfg Config, logger *zap.Logger) Store {
	logger = logger.With(zap.String("component", "idempotency"), zap.String("backend", cfg.Backend))

	switch cfg.Backend {
	case BackendWAL:
		s, err := NewWALStore(cfg.Dir, cfg.Retention, logger)
		if err == nil {
			return s
		}
		logger.Error("durable idempotency store unavailable, using memory",
			zap.Error(&PersistenceError{Backend: BackendWAL, Op: "open", Err: err}))
	case BackendRedis:
		s, err := NewRedisStore(cfg.RedisURL, cfg.TTL, cfg.Retention, logger)
		if err == nil {
			return s
		}
		logger.Error("shared idempotency store unavailable, using memory",
			zap.Error(&PersistenceError{Backend: BackendRedis, Op: "open", Err: err}))
	case BackendMemory, "":
	default:
		logger.Warn("unknown idempotency backend, using memory")
	}

	return NewMemoryStore(cfg.Retention)
}

// EncodeKeys serialises keys as a JSON list of [event_id, account_id] pairs.
func EncodeKeys(keys []domain.IdempotencyKey) ([]byte, error) {
	pairs := make([][2]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, [2]string{k.EventID, k.AccountID})
	}
	return json.Marshal(pairs)
}

// DecodeKeys parses the format written by EncodeKeys.
func DecodeKeys(data []byte) ([]domain.IdempotencyKey, error) {
	var pairs [][2]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, errors.Wrap(err, "decode processed pairs")
	}
	keys := make([]domain.IdempotencyKey, 0, len(pairs))
	for _, p := range pairs {
		keys = append(keys, domain.IdempotencyKey{EventID: p[0], AccountID: p[1]})
	}
	return keys, nil
}
