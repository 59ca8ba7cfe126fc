// Package objectcache implements the shared write-back cache that every
// FileCache of a client delegates storage to.
//
// Data is kept per inode in fixed-size blocks. A block is Clean (matches the
// store), Dirty (has writes not yet written back) or Tx (a snapshot of it is
// being written back). Misses are served asynchronously by fetch workers and
// dirty blocks are written back by a background flusher.
//
// Locking: the cache is driven under the client's shared lock, the same
// sync.Locker every FileCache uses. All exported methods except Start, Close
// and Stats expect it held. Store I/O always happens with it released;
// completions are always fired with it held.
package objectcache

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/filecache/internal/logger"
	"github.com/marmos91/filecache/pkg/bufpool"
	"github.com/marmos91/filecache/pkg/completion"
	"github.com/marmos91/filecache/pkg/store/block"
)

// BlockState is the write-back state of a cached block.
type BlockState int

const (
	// BlockClean matches the store.
	BlockClean BlockState = iota
	// BlockDirty holds writes not yet written back.
	BlockDirty
	// BlockTx is being written back.
	BlockTx
)

func (s BlockState) String() string {
	switch s {
	case BlockClean:
		return "clean"
	case BlockDirty:
		return "dirty"
	case BlockTx:
		return "tx"
	default:
		return "unknown"
	}
}

type cachedBlock struct {
	idx   uint64
	data  []byte
	cov   []uint64
	state BlockState

	// loaded means the store copy has been merged in, so every byte of
	// data is valid.
	loaded bool

	// size is the valid extent: one past the highest byte that is covered
	// or came from the store. It is the byte count charged to accounting
	// and written back.
	size int

	dirtiedAt time.Time
}

func (b *cachedBlock) covered(off, n int) bool {
	return b.loaded || isRangeCovered(b.cov, off, n)
}

type object struct {
	ino    uint64
	blocks map[uint64]*cachedBlock

	// size is one past the last byte of the object. Local writes grow it;
	// until sizeKnown is set it may lag what the store holds.
	size      int64
	sizeKnown bool

	clean, dirty, tx int64

	flushWaiters  []*completion.Completion
	commitWaiters []*completion.Completion

	// fetching counts misses in flight; the object is kept while > 0.
	fetching int
}

func (o *object) dirtyOrCommitting() bool {
	return o.dirty+o.tx > 0
}

// extent returns how many bytes of [off, off+n) lie below the object size.
// ok is false when the range reaches past every byte written locally and
// the store size has not been learned yet.
func (o *object) extent(off int64, n int) (int, bool) {
	end := off + int64(n)
	switch {
	case end <= o.size:
		return n, true
	case !o.sizeKnown:
		return n, false
	case off >= o.size:
		return 0, true
	default:
		return int(o.size - off), true
	}
}

// Metrics receives observations from the cache. A nil Metrics disables
// collection.
type Metrics interface {
	ObserveFetch(blocks int, duration time.Duration, err error)
	ObserveFlush(blocks int, bytes int64, duration time.Duration, err error)
	ObserveAdmissionWait(duration time.Duration)
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Cache is the shared object cache.
type Cache struct {
	lock    sync.Locker
	store   block.Store
	cfg     Config
	metrics Metrics

	objects          map[uint64]*object
	clean, dirty, tx int64

	// writeCond wakes writers blocked in WaitForWrite.
	writeCond *sync.Cond

	// ioMu serializes read-modify-write cycles against the store, so a
	// bypass write and a flush of the same block cannot interleave.
	ioMu sync.Mutex

	// flushMu serializes flush rounds.
	flushMu sync.Mutex

	// snapshots backs the block copies a flush round writes back.
	snapshots *bufpool.Pool

	fetcher *fetcher
	kickCh  chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup

	stateMu sync.Mutex
	started bool
	closed  bool

	stats statsCounters
}

// New creates a cache over store. lock is the client's shared lock.
// Start must be called to run the flusher and fetch workers.
func New(lock sync.Locker, store block.Store, cfg Config, opts ...Option) *Cache {
	if lock == nil {
		panic("objectcache: shared lock is required")
	}
	if store == nil {
		panic("objectcache: block store is required")
	}
	cfg.applyDefaults()

	c := &Cache{
		lock:      lock,
		store:     store,
		cfg:       cfg,
		objects:   make(map[uint64]*object),
		writeCond: sync.NewCond(lock),
		snapshots: bufpool.New(cfg.BlockSize),
		kickCh:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.fetcher = newFetcher(c, cfg.FetchWorkers, cfg.FetchQueue)
	return c
}

// Config returns the effective configuration.
func (c *Cache) Config() Config { return c.cfg }

// Start launches the flusher and fetch workers. Calling it twice is a no-op.
func (c *Cache) Start(ctx context.Context) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true

	logger.Info("Starting object cache",
		"block_size", c.cfg.BlockSize,
		"max_dirty", c.cfg.MaxDirty,
		"flush_interval", c.cfg.FlushInterval,
		"fetch_workers", c.cfg.FetchWorkers)

	c.fetcher.start(ctx)
	c.wg.Add(1)
	go c.flushLoop(ctx)
}

// Close stops the background goroutines, writes back every dirty block and
// fails any completion still waiting with ErrCacheClosed. It must be called
// without the shared lock held. The returned error is the last write-back
// failure, if any.
func (c *Cache) Close(ctx context.Context) error {
	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return nil
	}
	c.closed = true
	wasStarted := c.started
	c.stateMu.Unlock()

	if wasStarted {
		close(c.stopCh)
		c.wg.Wait()
	}
	c.fetcher.stop()

	err := c.flushOnce(ctx, true)

	c.lock.Lock()
	var orphans []*completion.Completion
	for ino, o := range c.objects {
		orphans = append(orphans, o.flushWaiters...)
		orphans = append(orphans, o.commitWaiters...)
		o.flushWaiters, o.commitWaiters = nil, nil
		if !o.dirtyOrCommitting() {
			delete(c.objects, ino)
		}
	}
	completion.FinishAll(orphans, 0, ErrCacheClosed)
	c.writeCond.Broadcast()
	c.lock.Unlock()

	if err != nil {
		logger.Error("Object cache closed with dirty data", logger.Err(err))
	} else {
		logger.Info("Object cache closed")
	}
	return err
}

func (c *Cache) isClosed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.closed
}

// IsCached reports whether any block of ino is cached.
func (c *Cache) IsCached(ino uint64) bool {
	o, ok := c.objects[ino]
	return ok && len(o.blocks) > 0
}

// IsDirtyOrCommitting reports whether ino has blocks not yet durable.
func (c *Cache) IsDirtyOrCommitting(ino uint64) bool {
	o, ok := c.objects[ino]
	return ok && o.dirtyOrCommitting()
}

func (c *Cache) getObject(ino uint64) *object {
	o, ok := c.objects[ino]
	if !ok {
		o = &object{ino: ino, blocks: make(map[uint64]*cachedBlock)}
		c.objects[ino] = o
	}
	return o
}

// maybeDropObject forgets an object that holds nothing and waits on nothing.
func (c *Cache) maybeDropObject(o *object) {
	if len(o.blocks) == 0 && o.fetching == 0 && len(o.flushWaiters) == 0 && len(o.commitWaiters) == 0 {
		delete(c.objects, o.ino)
	}
}

func (c *Cache) getBlock(o *object, idx uint64) *cachedBlock {
	b, ok := o.blocks[idx]
	if !ok {
		b = &cachedBlock{
			idx:  idx,
			data: make([]byte, c.cfg.BlockSize),
			cov:  newCoverage(c.cfg.BlockSize),
		}
		o.blocks[idx] = b
	}
	return b
}

// uncharge and charge bracket every change to a block's state or size.
func (c *Cache) uncharge(o *object, b *cachedBlock) { c.account(o, b, -int64(b.size)) }
func (c *Cache) charge(o *object, b *cachedBlock)   { c.account(o, b, int64(b.size)) }

func (c *Cache) account(o *object, b *cachedBlock, n int64) {
	switch b.state {
	case BlockClean:
		o.clean += n
		c.clean += n
	case BlockDirty:
		o.dirty += n
		c.dirty += n
	case BlockTx:
		o.tx += n
		c.tx += n
	}
}

// setState moves b to state, keeping the byte accounting straight.
func (c *Cache) setState(o *object, b *cachedBlock, state BlockState) {
	c.uncharge(o, b)
	b.state = state
	switch state {
	case BlockClean:
		b.dirtiedAt = time.Time{}
	case BlockDirty:
		if b.dirtiedAt.IsZero() {
			b.dirtiedAt = time.Now()
		}
	}
	c.charge(o, b)
}

// span describes the part of a byte range that falls in one block.
type span struct {
	idx    uint64
	inner  int // offset inside the block
	n      int // bytes in this block
	bufOff int // offset inside the caller's buffer
}

// spans splits [off, off+n) into per-block pieces.
func (c *Cache) spans(off int64, n int) []span {
	bs := int64(c.cfg.BlockSize)
	var out []span
	for done := 0; done < n; {
		pos := off + int64(done)
		inner := int(pos % bs)
		chunk := min(c.cfg.BlockSize-inner, n-done)
		out = append(out, span{idx: uint64(pos / bs), inner: inner, n: chunk, bufOff: done})
		done += chunk
	}
	return out
}

// storeCtx bounds one store call.
func (c *Cache) storeCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.StoreTimeout)
}
