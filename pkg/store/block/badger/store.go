// Package badger provides a block store persisted in a local BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/filecache/internal/logger"
	"github.com/marmos91/filecache/pkg/store/block"
)

// keyPrefix namespaces block keys inside the database.
const keyPrefix = "blk:"

// Config holds configuration for the Badger block store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the database in RAM only.
	InMemory bool

	// SyncWrites makes every write durable before returning.
	SyncWrites bool
}

// Store is a BadgerDB-backed implementation of block.Store.
type Store struct {
	db     *badgerdb.DB
	owned  bool
	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the database described by cfg. The store owns the
// database and closes it on Close.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger block store: path is required")
	}

	opts := badgerdb.DefaultOptions(cfg.Path).
		WithLogger(nil).
		WithSyncWrites(cfg.SyncWrites)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", cfg.Path, err)
	}

	logger.Debug("badger block store opened", logger.Path(cfg.Path), "in_memory", cfg.InMemory)
	return &Store{db: db, owned: true}, nil
}

// New wraps an already open database. Close does not close db.
func New(db *badgerdb.DB) *Store {
	return &Store{db: db}
}

func dbKey(key string) []byte {
	return []byte(keyPrefix + key)
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return block.ErrStoreClosed
	}
	return nil
}

// WriteBlock stores data under key.
func (s *Store) WriteBlock(_ context.Context, key string, data []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(dbKey(key), data)
	})
	if err != nil {
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	return nil
}

// ReadBlock returns the block under key.
func (s *Store) ReadBlock(_ context.Context, key string) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(dbKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, block.ErrBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", key, err)
	}
	return data, nil
}

// DeleteByPrefix removes every block whose key starts with prefix.
func (s *Store) DeleteByPrefix(_ context.Context, prefix string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := s.db.DropPrefix(dbKey(prefix)); err != nil {
		return fmt.Errorf("badger drop prefix %q: %w", prefix, err)
	}
	return nil
}

// ListByPrefix lists matching keys in ascending order.
func (s *Store) ListByPrefix(_ context.Context, prefix string) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	keys := []string{}
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = dbKey(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), keyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger list %q: %w", prefix, err)
	}
	return keys, nil
}

// Close marks the store closed and closes the database if Open created it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.owned {
		return s.db.Close()
	}
	return nil
}

// HealthCheck fails once the store or its database is closed.
func (s *Store) HealthCheck(context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return block.ErrStoreClosed
	}
	return nil
}

var _ block.Store = (*Store)(nil)
