// Package statsstore persists the last known group statistics of every
// worker so that a failed worker's groups can be rebuilt elsewhere.
package statsstore

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiregroup/internal/utils"
)

var (
	ErrNotOpen       = errors.New("stats store is not open")
	ErrWorkerUnknown = errors.New("no stats stored for worker")
)

const keyPrefix = "stats/"

// GroupStats is the persisted description of one group.
type GroupStats struct {
	GroupID  string   `codec:"group_id" json:"group_id"`
	AppID    string   `codec:"app_id" json:"app_id"`
	Load     float64  `codec:"load" json:"load"`
	Weight   float64  `codec:"weight" json:"weight"`
	QueryIDs []string `codec:"query_ids" json:"query_ids"`
}

type Config struct {
	// Dir is the badger directory. Empty opens an in-memory store.
	Dir string
}

// Store keeps one record per worker, keyed by worker id.
type Store struct {
	open atomic.Bool
	mu   sync.RWMutex

	dir    string
	db     *badger.DB
	logger zerolog.Logger
}

func New(c Config) *Store {
	return &Store{
		dir:    c.Dir,
		logger: log.With().Str("component", "stats_store").Logger(),
	}
}

// Open opens the underlying database.
func (s *Store) Open() error {
	opts := badger.DefaultOptions(s.dir)
	if s.dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening stats store: %w", err)
	}
	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
	s.open.Store(true)
	if s.dir == "" {
		s.logger.Debug().Msg("opened an in-memory stats store")
	} else {
		s.logger.Debug().Msgf("opened a file-based stats store at %s", s.dir)
	}
	return nil
}

func (s *Store) Close() error {
	if !s.open.CompareAndSwap(true, false) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func workerKey(workerID string) []byte {
	return []byte(keyPrefix + workerID)
}

// Save replaces the stats recorded for workerID.
func (s *Store) Save(workerID string, stats map[string]GroupStats) error {
	if !s.open.Load() {
		return ErrNotOpen
	}
	buf, err := utils.EncodeMsgPack(stats)
	if err != nil {
		return fmt.Errorf("encoding stats of worker %s: %w", workerID, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(workerKey(workerID), buf.Bytes())
	})
	if err != nil {
		s.logger.Err(err).Str("worker_id", workerID).Msg("err saving stats")
		return err
	}
	s.logger.Trace().Str("worker_id", workerID).Int("groups", len(stats)).Msg("saved stats")
	return nil
}

// Load returns the stats recorded for workerID.
func (s *Store) Load(workerID string) (map[string]GroupStats, error) {
	if !s.open.Load() {
		return nil, ErrNotOpen
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(workerKey(workerID))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrWorkerUnknown
	}
	if err != nil {
		return nil, err
	}

	stats := make(map[string]GroupStats)
	if err := utils.DecodeMsgPack(val, &stats); err != nil {
		return nil, fmt.Errorf("decoding stats of worker %s: %w", workerID, err)
	}
	return stats, nil
}

// Delete forgets workerID. Deleting an unknown worker is not an error.
func (s *Store) Delete(workerID string) error {
	if !s.open.Load() {
		return ErrNotOpen
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(workerKey(workerID))
	})
}

// Workers lists every worker with recorded stats.
func (s *Store) Workers() ([]string, error) {
	if !s.open.Load() {
		return nil, ErrNotOpen
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var workers []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			workers = append(workers, strings.TrimPrefix(string(it.Item().Key()), keyPrefix))
		}
		return nil
	})
	return workers, err
}
