package objectcache

import (
	"context"
	"sync"

	"github.com/marmos91/filecache/internal/logger"
	"github.com/marmos91/filecache/pkg/completion"
)

// fetchRequest is a cache miss waiting to be served.
type fetchRequest struct {
	ino      uint64
	off      int64
	dest     []byte
	missing  []uint64
	onfinish *completion.Completion

	// learnSize asks the fetch to read the object size from the store.
	learnSize bool
}

// fetcher serves cache misses on a bounded pool of workers.
type fetcher struct {
	cache *Cache

	queue   chan *fetchRequest
	workers int
	wg      sync.WaitGroup // workers
	extra   sync.WaitGroup // overflow goroutines
	stopCh  chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

func newFetcher(c *Cache, workers, queueSize int) *fetcher {
	return &fetcher{
		cache:   c,
		queue:   make(chan *fetchRequest, queueSize),
		workers: workers,
		stopCh:  make(chan struct{}),
	}
}

func (f *fetcher) start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started || f.stopped {
		return
	}
	f.started = true

	for i := 0; i < f.workers; i++ {
		f.wg.Add(1)
		go f.worker(ctx)
	}
}

// stop waits for queued and in-flight misses to finish.
func (f *fetcher) stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	started := f.started
	f.mu.Unlock()

	if started {
		close(f.stopCh)
		f.wg.Wait()
	}
	f.drain()
	f.extra.Wait()
}

// enqueue hands req to a worker and reports whether it was accepted. It
// never blocks: the caller holds the shared lock, which workers need to
// complete. When the queue is full or the pool is not running, req gets its
// own goroutine. After stop nothing is accepted.
func (f *fetcher) enqueue(req *fetchRequest) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return false
	}

	if f.started {
		select {
		case f.queue <- req:
			return true
		default:
			logger.Debug("Fetch queue full, serving miss on its own goroutine", logger.Ino(req.ino))
		}
	}

	f.extra.Add(1)
	go func() {
		defer f.extra.Done()
		f.cache.fetch(context.Background(), req)
	}()
	return true
}

func (f *fetcher) worker(ctx context.Context) {
	defer f.wg.Done()

	for {
		select {
		case <-f.stopCh:
			f.drain()
			return
		case <-ctx.Done():
			return
		case req := <-f.queue:
			f.cache.fetch(ctx, req)
		}
	}
}

func (f *fetcher) drain() {
	for {
		select {
		case req := <-f.queue:
			f.cache.fetch(context.Background(), req)
		default:
			return
		}
	}
}
