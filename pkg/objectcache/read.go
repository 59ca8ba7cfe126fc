package objectcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/filecache/internal/telemetry"
	"github.com/marmos91/filecache/pkg/completion"
	"github.com/marmos91/filecache/pkg/store/block"
)

// Read copies [off, off+len(dest)) of ino into dest and returns the number
// of bytes read, which stops at the end of the object. Holes read as zero.
//
// If the answer is cached it returns done=true and onfinish is not
// retained. Otherwise the missing blocks, and the object size if a read
// past the locally written bytes needs it, are fetched in the background
// and onfinish fires, under the shared lock, once dest is filled.
func (c *Cache) Read(ino uint64, off int64, dest []byte, onfinish *completion.Completion) (int, bool, error) {
	if off < 0 {
		return 0, false, ErrInvalidOffset
	}
	if c.isClosed() {
		return 0, false, ErrCacheClosed
	}
	if len(dest) == 0 {
		return 0, true, nil
	}

	o := c.getObject(ino)
	n, sized := o.extent(off, len(dest))
	missing := c.missing(o, off, n)
	if sized && len(missing) == 0 {
		c.copyOut(o, off, dest[:n])
		c.maybeDropObject(o)
		c.stats.hits.Add(1)
		return n, true, nil
	}

	c.stats.misses.Add(1)
	o.fetching++
	req := &fetchRequest{ino: ino, off: off, dest: dest, missing: missing, learnSize: !sized, onfinish: onfinish}
	if !c.fetcher.enqueue(req) {
		o.fetching--
		c.maybeDropObject(o)
		return 0, false, ErrCacheClosed
	}
	return 0, false, nil
}

// missing lists the blocks of [off, off+n) that cannot be served from cache.
func (c *Cache) missing(o *object, off int64, n int) []uint64 {
	var out []uint64
	for _, sp := range c.spans(off, n) {
		b, ok := o.blocks[sp.idx]
		if !ok || !b.covered(sp.inner, sp.n) {
			out = append(out, sp.idx)
		}
	}
	return out
}

func (c *Cache) copyOut(o *object, off int64, dest []byte) {
	for _, sp := range c.spans(off, len(dest)) {
		b := o.blocks[sp.idx]
		copy(dest[sp.bufOff:sp.bufOff+sp.n], b.data[sp.inner:sp.inner+sp.n])
	}
}

// fetch serves one miss. It runs without the shared lock.
func (c *Cache) fetch(ctx context.Context, req *fetchRequest) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanCacheFetch,
		telemetry.Ino(req.ino), telemetry.Blocks(len(req.missing)))
	defer span.End()

	start := time.Now()
	fetched, size, err := c.load(ctx, req)
	c.stats.fetches.Add(1)
	if c.metrics != nil {
		c.metrics.ObserveFetch(len(req.missing), time.Since(start), err)
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	o := c.getObject(req.ino)
	if err != nil {
		telemetry.RecordError(ctx, err)
		c.finishFetch(o, req, 0, err)
		return
	}

	if size >= 0 {
		o.size = max(o.size, size)
		o.sizeKnown = true
	}
	bs := int64(c.cfg.BlockSize)
	for idx, data := range fetched {
		// Blocks past the end stay uncached.
		if int64(idx)*bs < o.size {
			c.mergeFromStore(o, idx, data)
		}
	}

	n, sized := o.extent(req.off, len(req.dest))
	missing := c.missing(o, req.off, n)
	if !sized || len(missing) > 0 {
		// Clean blocks were released while the fetch was in flight.
		req.missing = missing
		req.learnSize = !sized
		if !c.fetcher.enqueue(req) {
			c.finishFetch(o, req, 0, ErrCacheClosed)
		}
		return
	}

	c.copyOut(o, req.off, req.dest[:n])
	c.finishFetch(o, req, n, nil)
}

func (c *Cache) finishFetch(o *object, req *fetchRequest, n int, err error) {
	o.fetching--
	c.maybeDropObject(o)
	req.onfinish.Finish(n, err)
}

// load reads what a miss needs from the store: the object size when
// req.learnSize is set, and every missing block that can exist. Blocks past
// the last stored one map to nil without a store call. size is -1 when it
// was not learned.
func (c *Cache) load(ctx context.Context, req *fetchRequest) (map[uint64][]byte, int64, error) {
	size := int64(-1)
	var (
		tail     uint64
		tailData []byte
	)
	if req.learnSize {
		var err error
		size, tail, tailData, err = c.storeExtent(ctx, req.ino)
		if err != nil {
			return nil, -1, err
		}
	}

	fetched := make(map[uint64][]byte, len(req.missing))
	for _, idx := range req.missing {
		switch {
		case size < 0:
		case size == 0 || idx > tail:
			fetched[idx] = nil
			continue
		case idx == tail:
			fetched[idx] = tailData
			continue
		}
		data, err := c.readBlock(ctx, req.ino, idx)
		if err != nil {
			return nil, -1, err
		}
		fetched[idx] = data
	}
	return fetched, size, nil
}

// storeExtent learns the size of ino from the store: the offset of the
// highest stored block plus that block's length. tail is that block's index
// and data its contents. An ino with no blocks has size zero.
func (c *Cache) storeExtent(ctx context.Context, ino uint64) (size int64, tail uint64, data []byte, err error) {
	sctx, cancel := c.storeCtx(ctx)
	keys, err := c.store.ListByPrefix(sctx, block.InoPrefix(ino))
	cancel()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("list blocks of ino %d: %w", ino, err)
	}

	found := false
	for _, key := range keys {
		_, idx, perr := block.ParseKey(key)
		if perr != nil {
			continue
		}
		if !found || idx > tail {
			tail, found = idx, true
		}
	}
	if !found {
		return 0, 0, nil, nil
	}

	data, err = c.readBlock(ctx, ino, tail)
	if err != nil {
		return 0, 0, nil, err
	}
	return int64(tail)*int64(c.cfg.BlockSize) + int64(len(data)), tail, data, nil
}

func (c *Cache) readBlock(ctx context.Context, ino, idx uint64) ([]byte, error) {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()

	data, err := c.store.ReadBlock(sctx, block.Key(ino, idx))
	if errors.Is(err, block.ErrBlockNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read block %s: %w", block.Key(ino, idx), err)
	}
	if len(data) > c.cfg.BlockSize {
		data = data[:c.cfg.BlockSize]
	}
	return data, nil
}

// mergeFromStore fills the bytes of a block that no write has covered with
// the store copy. Cached writes always win.
func (c *Cache) mergeFromStore(o *object, idx uint64, data []byte) {
	b := c.getBlock(o, idx)
	if b.loaded {
		return
	}

	c.uncharge(o, b)
	for i := range data {
		if !isRangeCovered(b.cov, i, 1) {
			b.data[i] = data[i]
		}
	}
	b.loaded = true
	b.size = max(b.size, len(data))
	c.charge(o, b)
}

// AtomicSyncRead reads [off, off+len(dest)) of ino straight from the store
// and returns the number of bytes read, which stops at the end of what the
// store holds. Cached dirty data is not consulted. The shared lock is
// released for the duration of the I/O.
func (c *Cache) AtomicSyncRead(ino uint64, off int64, dest []byte) (int, error) {
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if c.isClosed() {
		return 0, ErrCacheClosed
	}

	c.lock.Unlock()
	defer c.lock.Lock()
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	ctx, span := telemetry.StartSpan(context.Background(), telemetry.SpanStoreRead,
		telemetry.Ino(ino), telemetry.Offset(off), telemetry.Count(len(dest)))
	defer span.End()

	size, tail, tailData, err := c.storeExtent(ctx, ino)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return 0, err
	}
	n := 0
	if off < size {
		n = int(min(int64(len(dest)), size-off))
	}

	for _, sp := range c.spans(off, n) {
		data := tailData
		if sp.idx != tail {
			data, err = c.readBlock(ctx, ino, sp.idx)
			if err != nil {
				telemetry.RecordError(ctx, err)
				return 0, err
			}
		}
		out := dest[sp.bufOff : sp.bufOff+sp.n]
		clear(out)
		if sp.inner < len(data) {
			copy(out, data[sp.inner:])
		}
	}
	c.stats.syncReads.Add(1)
	return n, nil
}
