package objectcache

import (
	"context"
	"time"

	"github.com/marmos91/filecache/internal/logger"
	"github.com/marmos91/filecache/internal/telemetry"
	"github.com/marmos91/filecache/pkg/store/block"
)

// WaitForWrite blocks until n more dirty bytes fit under MaxDirty, kicking
// the flusher while it waits. A write larger than MaxDirty is admitted once
// nothing else is dirty or committing, so it cannot wait forever.
func (c *Cache) WaitForWrite(n int) {
	if !c.overDirtyLimit(n) {
		return
	}

	start := time.Now()
	logger.Debug("Write admission waiting",
		logger.KeyDirty, c.dirty, logger.KeyTx, c.tx, logger.Length(n))

	for c.overDirtyLimit(n) && !c.isClosed() {
		c.kick()
		c.writeCond.Wait()
	}

	c.stats.admissionWaits.Add(1)
	if c.metrics != nil {
		c.metrics.ObserveAdmissionWait(time.Since(start))
	}
}

func (c *Cache) overDirtyLimit(n int) bool {
	pending := c.dirty + c.tx
	return pending > 0 && pending+int64(n) > c.cfg.MaxDirty
}

// Write buffers data at off into the blocks of ino and marks them dirty. It
// returns once buffered; the flusher makes it durable later.
func (c *Cache) Write(ino uint64, off int64, data []byte) error {
	if off < 0 {
		return ErrInvalidOffset
	}
	if c.isClosed() {
		return ErrCacheClosed
	}
	if len(data) == 0 {
		return nil
	}

	o := c.getObject(ino)
	for _, sp := range c.spans(off, len(data)) {
		b := c.getBlock(o, sp.idx)
		c.uncharge(o, b)
		copy(b.data[sp.inner:sp.inner+sp.n], data[sp.bufOff:sp.bufOff+sp.n])
		markCoverage(b.cov, sp.inner, sp.n)
		b.size = max(b.size, sp.inner+sp.n)
		c.charge(o, b)
		c.setState(o, b, BlockDirty)
	}
	o.size = max(o.size, off+int64(len(data)))
	if len(o.flushWaiters) > 0 {
		// Someone is waiting for this object to be clean.
		c.kick()
	}
	c.stats.bufferedWrites.Add(1)
	return nil
}

// AtomicSyncWrite writes data at off of ino straight to the store and
// returns once it is durable. Partial blocks are read, patched and written
// back whole. Cached copies of the touched blocks are patched too, so later
// cached reads see the write. The shared lock is released for the I/O.
func (c *Cache) AtomicSyncWrite(ino uint64, off int64, data []byte) error {
	if off < 0 {
		return ErrInvalidOffset
	}
	if c.isClosed() {
		return ErrCacheClosed
	}
	if len(data) == 0 {
		return nil
	}

	spans := c.spans(off, len(data))
	err := c.syncWriteSpans(ino, data, spans)
	if err != nil {
		return err
	}

	if o, ok := c.objects[ino]; ok {
		for _, sp := range spans {
			b, ok := o.blocks[sp.idx]
			if !ok {
				continue
			}
			c.uncharge(o, b)
			copy(b.data[sp.inner:sp.inner+sp.n], data[sp.bufOff:sp.bufOff+sp.n])
			markCoverage(b.cov, sp.inner, sp.n)
			b.size = max(b.size, sp.inner+sp.n)
			c.charge(o, b)
		}
		o.size = max(o.size, off+int64(len(data)))
	}
	c.stats.syncWrites.Add(1)
	return nil
}

// syncWriteSpans performs the store side of AtomicSyncWrite with the shared
// lock released.
func (c *Cache) syncWriteSpans(ino uint64, data []byte, spans []span) error {
	c.lock.Unlock()
	defer c.lock.Lock()
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	ctx, sp := telemetry.StartSpan(context.Background(), telemetry.SpanStoreWrite,
		telemetry.Ino(ino), telemetry.Count(len(data)))
	defer sp.End()

	for _, s := range spans {
		var buf []byte
		if s.inner == 0 && s.n == c.cfg.BlockSize {
			buf = data[s.bufOff : s.bufOff+s.n]
		} else {
			existing, err := c.readBlock(ctx, ino, s.idx)
			if err != nil {
				telemetry.RecordError(ctx, err)
				return err
			}
			buf = make([]byte, max(len(existing), s.inner+s.n))
			copy(buf, existing)
			copy(buf[s.inner:], data[s.bufOff:s.bufOff+s.n])
		}

		if err := c.writeBlock(ctx, ino, s.idx, buf); err != nil {
			telemetry.RecordError(ctx, err)
			return err
		}
	}
	return nil
}

func (c *Cache) writeBlock(ctx context.Context, ino, idx uint64, data []byte) error {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.store.WriteBlock(sctx, block.Key(ino, idx), data)
}
