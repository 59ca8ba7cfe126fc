// Package memory provides an in-memory block store for tests and ephemeral
// scenarios.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/filecache/pkg/store/block"
)

// Store is an in-memory implementation of block.Store.
//
// Besides storage it counts operations and can inject latency and write
// failures, which the object cache tests use to exercise suspension and
// flush retry.
type Store struct {
	mu       sync.RWMutex
	blocks   map[string][]byte
	closed   bool
	writeErr error
	latency  time.Duration

	reads  atomic.Int64
	writes atomic.Int64
}

// New creates an empty store.
func New() *Store {
	return &Store{blocks: make(map[string][]byte)}
}

// WriteBlock stores a copy of data under key.
func (s *Store) WriteBlock(ctx context.Context, key string, data []byte) error {
	s.delay(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return block.ErrStoreClosed
	}
	if s.writeErr != nil {
		return s.writeErr
	}

	s.blocks[key] = slices.Clone(data)
	s.writes.Add(1)
	return nil
}

// ReadBlock returns a copy of the block under key.
func (s *Store) ReadBlock(ctx context.Context, key string) ([]byte, error) {
	s.delay(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, block.ErrStoreClosed
	}

	s.reads.Add(1)
	data, ok := s.blocks[key]
	if !ok {
		return nil, block.ErrBlockNotFound
	}
	return slices.Clone(data), nil
}

// DeleteByPrefix removes all blocks whose key starts with prefix.
func (s *Store) DeleteByPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return block.ErrStoreClosed
	}

	for key := range s.blocks {
		if strings.HasPrefix(key, prefix) {
			delete(s.blocks, key)
		}
	}
	return nil
}

// ListByPrefix lists matching keys in ascending order.
func (s *Store) ListByPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, block.ErrStoreClosed
	}

	keys := []string{}
	for key := range s.blocks {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Close drops all blocks. Further calls fail with block.ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.blocks = nil
	return nil
}

// HealthCheck fails only after Close.
func (s *Store) HealthCheck(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return block.ErrStoreClosed
	}
	return nil
}

// FailWrites makes every subsequent WriteBlock return err. nil heals the
// store.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// SetLatency delays every read and write by d.
func (s *Store) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// Reads returns the number of ReadBlock calls served.
func (s *Store) Reads() int64 { return s.reads.Load() }

// Writes returns the number of blocks successfully written.
func (s *Store) Writes() int64 { return s.writes.Load() }

// Len returns the number of blocks stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}

func (s *Store) delay(ctx context.Context) {
	s.mu.RLock()
	d := s.latency
	s.mu.RUnlock()
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

var _ block.Store = (*Store)(nil)
