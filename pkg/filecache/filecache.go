// Package filecache is the per-file coherence and caching control layer of
// the client.
//
// A FileCache sits between application reads and writes and the shared
// object cache. It holds the capabilities currently granted for the file,
// counts in-flight readers and writers, and keeps a table of callbacks that
// the coherence driver registers when it revokes capabilities. Every read and
// write picks the cached path or the synchronous bypass path from the granted
// capabilities, and every drop of a counter to zero re-evaluates which
// capabilities the file still relies on.
//
// Locking: a FileCache has no lock of its own. All methods must be called
// with the client's shared lock held, the same sync.Locker passed to New.
// Methods that wait release that lock for the duration of the wait only.
package filecache

import (
	"fmt"
	"sync"

	"github.com/marmos91/filecache/internal/logger"
	"github.com/marmos91/filecache/pkg/caps"
	"github.com/marmos91/filecache/pkg/completion"
)

// FileCache is the cache control state of one open file.
type FileCache struct {
	ino     uint64
	oc      ObjectCache
	lock    sync.Locker
	metrics Metrics

	latestCaps caps.Cap
	numReading int
	numWriting int

	// callbacks holds downgrade completions keyed by the mask they were
	// registered with. Owned exclusively by the FileCache until fired.
	callbacks map[caps.Cap][]*completion.Completion

	closed bool
}

// Option configures a FileCache.
type Option func(*FileCache)

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(fc *FileCache) { fc.metrics = m }
}

// WithCaps sets the initial capability mask without running re-evaluation.
func WithCaps(c caps.Cap) Option {
	return func(fc *FileCache) { fc.latestCaps = c }
}

// New creates the cache state for ino. lock is the client's shared lock; it
// must be the same lock oc is driven under.
func New(ino uint64, oc ObjectCache, lock sync.Locker, opts ...Option) *FileCache {
	if oc == nil {
		panic("filecache: object cache is required")
	}
	if lock == nil {
		panic("filecache: shared lock is required")
	}

	fc := &FileCache{
		ino:       ino,
		oc:        oc,
		lock:      lock,
		callbacks: make(map[caps.Cap][]*completion.Completion),
	}
	for _, opt := range opts {
		opt(fc)
	}
	return fc
}

// Ino returns the file identity.
func (fc *FileCache) Ino() uint64 { return fc.ino }

// Caps returns the currently granted capabilities.
func (fc *FileCache) Caps() caps.Cap { return fc.latestCaps }

// NumReading returns the number of reads in flight.
func (fc *FileCache) NumReading() int { return fc.numReading }

// NumWriting returns the number of writes in flight.
func (fc *FileCache) NumWriting() int { return fc.numWriting }

// PendingCallbacks returns the number of downgrade callbacks not yet fired.
func (fc *FileCache) PendingCallbacks() int {
	n := 0
	for _, list := range fc.callbacks {
		n += len(list)
	}
	return n
}

// Close tears down the state. The file must be idle: no reads or writes in
// flight and no downgrade callbacks pending, since those would otherwise be
// dropped without ever firing.
func (fc *FileCache) Close() {
	if fc.closed {
		return
	}
	if fc.numReading != 0 || fc.numWriting != 0 || len(fc.callbacks) != 0 {
		msg := fmt.Sprintf("filecache: close ino %d with readers=%d writers=%d pending_callbacks=%d",
			fc.ino, fc.numReading, fc.numWriting, fc.PendingCallbacks())
		logger.Error(msg, logger.KeyIno, fc.ino)
		panic(msg)
	}
	fc.closed = true
}

func (fc *FileCache) assertOpen() {
	if fc.closed {
		panic(fmt.Sprintf("filecache: use of closed ino %d", fc.ino))
	}
}
