package objectcache

import (
	"context"
	"slices"
	"time"

	"github.com/marmos91/filecache/internal/logger"
	"github.com/marmos91/filecache/internal/telemetry"
	"github.com/marmos91/filecache/pkg/completion"
	"github.com/marmos91/filecache/pkg/store/block"
)

// FlushSet asks for every dirty block of ino to be written back. It returns
// true when nothing is dirty or committing, in which case onflush is not
// retained. Otherwise onflush fires once the object is fully clean.
func (c *Cache) FlushSet(ino uint64, onflush *completion.Completion) bool {
	return c.addWaiter(ino, onflush, true)
}

// CommitSet registers oncommit to fire once every block of ino is durable.
// It does not hurry the flusher. Returns true, without retaining oncommit,
// when that is already the case.
func (c *Cache) CommitSet(ino uint64, oncommit *completion.Completion) bool {
	return c.addWaiter(ino, oncommit, false)
}

func (c *Cache) addWaiter(ino uint64, comp *completion.Completion, flush bool) bool {
	o, ok := c.objects[ino]
	if !ok || !o.dirtyOrCommitting() {
		return true
	}
	if c.isClosed() {
		// Nobody is left to write the data back.
		comp.Finish(0, ErrCacheClosed)
		return false
	}

	if flush {
		o.flushWaiters = append(o.flushWaiters, comp)
		c.kick()
	} else {
		o.commitWaiters = append(o.commitWaiters, comp)
	}
	return false
}

// ReleaseSet drops the clean blocks of ino. It returns the bytes freed and
// the bytes kept because they are dirty or committing.
func (c *Cache) ReleaseSet(ino uint64) (released, unclean int64) {
	o, ok := c.objects[ino]
	if !ok {
		return 0, 0
	}

	for idx, b := range o.blocks {
		if b.state != BlockClean {
			unclean += int64(b.size)
			continue
		}
		released += int64(b.size)
		c.uncharge(o, b)
		delete(o.blocks, idx)
	}
	c.maybeDropObject(o)
	return released, unclean
}

// kick wakes the flusher for a full round. It never blocks.
func (c *Cache) kick() {
	select {
	case c.kickCh <- struct{}{}:
	default:
	}
}

const (
	flushRetryInitialDelay  = 10 * time.Millisecond
	flushRetryBackoffFactor = 2
)

// flushLoop is the background flusher: aged blocks on every tick, all
// dirty blocks when kicked. After a failed round it pauses before the next
// one, doubling the pause up to FlushInterval while the store keeps failing.
// Kicks that arrive meanwhile coalesce into a single round.
func (c *Cache) flushLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	var delay time.Duration
	for {
		var err error
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err = c.flushOnce(ctx, false)
		case <-c.kickCh:
			err = c.flushOnce(ctx, true)
		}

		if err == nil {
			delay = 0
			continue
		}
		delay = c.nextRetryDelay(delay)
		logger.Debug("Flush round failed, backing off", "delay", delay, logger.Err(err))

		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// nextRetryDelay grows the pause after a failed round, capped at
// FlushInterval.
func (c *Cache) nextRetryDelay(prev time.Duration) time.Duration {
	next := prev * flushRetryBackoffFactor
	if prev == 0 {
		next = flushRetryInitialDelay
	}
	return min(next, c.cfg.FlushInterval)
}

type flushJob struct {
	ino, idx uint64
	data     []byte
	err      error
}

// flushOnce runs one write-back round and returns the last store error.
//
// Selected blocks move Dirty -> Tx under the shared lock, are written with
// it released, then move Tx -> Clean, or back to Dirty on failure. A block
// written to while in Tx is already Dirty again and stays so. Blocks that
// were never fetched are first completed from the store so that a partial
// write does not clobber the bytes around it.
func (c *Cache) flushOnce(ctx context.Context, all bool) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanCacheFlush)
	defer span.End()

	c.lock.Lock()
	candidates, needBase := c.selectDirty(all)
	c.lock.Unlock()
	if len(candidates) == 0 {
		c.lock.Lock()
		c.fireWaiters()
		c.lock.Unlock()
		return nil
	}

	var lastErr error
	bases := make(map[blockRef][]byte, len(needBase))
	for _, ref := range needBase {
		data, err := c.readBlock(ctx, ref.ino, ref.idx)
		if err != nil {
			lastErr = err
			logger.Warn("Flush could not read block base", logger.Key(block.Key(ref.ino, ref.idx)), logger.Err(err))
			continue
		}
		bases[ref] = data
	}

	c.lock.Lock()
	jobs := make([]*flushJob, 0, len(candidates))
	for _, ref := range candidates {
		o, ok := c.objects[ref.ino]
		if !ok {
			continue
		}
		b, ok := o.blocks[ref.idx]
		if !ok || b.state != BlockDirty {
			continue
		}
		if base, ok := bases[ref]; ok {
			c.mergeFromStore(o, ref.idx, base)
		}
		if !b.loaded && !isFullyCovered(b.cov, c.cfg.BlockSize) {
			continue
		}
		snap := c.snapshots.Get(b.size)
		copy(snap, b.data[:b.size])
		jobs = append(jobs, &flushJob{ino: ref.ino, idx: ref.idx, data: snap})
		c.setState(o, b, BlockTx)
	}
	c.lock.Unlock()

	start := time.Now()
	var bytes int64
	for _, job := range jobs {
		job.err = c.writeBlock(ctx, job.ino, job.idx, job.data)
		if job.err != nil {
			lastErr = job.err
			telemetry.RecordError(ctx, job.err)
			logger.Warn("Block write-back failed, will retry",
				logger.Key(block.Key(job.ino, job.idx)), logger.Err(job.err))
			continue
		}
		bytes += int64(len(job.data))
	}
	span.SetAttributes(telemetry.Blocks(len(jobs)), telemetry.Bytes(int(bytes)))

	c.lock.Lock()
	failed := 0
	for _, job := range jobs {
		o, ok := c.objects[job.ino]
		if !ok {
			continue
		}
		b, ok := o.blocks[job.idx]
		if !ok || b.state != BlockTx {
			continue
		}
		if job.err != nil {
			failed++
			c.setState(o, b, BlockDirty)
		} else {
			c.setState(o, b, BlockClean)
		}
	}
	for _, job := range jobs {
		c.snapshots.Put(job.data)
	}
	c.stats.flushes.Add(1)
	c.stats.blocksFlushed.Add(uint64(len(jobs) - failed))
	c.stats.bytesFlushed.Add(uint64(bytes))
	if failed > 0 {
		c.stats.flushErrors.Add(uint64(failed))
	}
	if c.metrics != nil {
		c.metrics.ObserveFlush(len(jobs)-failed, bytes, time.Since(start), lastErr)
	}
	logger.Debug("Flush round complete",
		logger.KeyBlocks, len(jobs), "failed", failed, logger.Bytes(bytes),
		logger.KeyDirty, c.dirty, logger.KeyTx, c.tx)

	c.fireWaiters()
	c.writeCond.Broadcast()
	c.lock.Unlock()

	return lastErr
}

type blockRef struct {
	ino, idx uint64
}

// selectDirty picks the blocks a round writes back, in key order, and the
// subset that must first be completed from the store. Must hold the lock.
func (c *Cache) selectDirty(all bool) (candidates, needBase []blockRef) {
	now := time.Now()
	for ino, o := range c.objects {
		if o.dirty == 0 {
			continue
		}
		urgent := all || len(o.flushWaiters) > 0
		for idx, b := range o.blocks {
			if b.state != BlockDirty {
				continue
			}
			if !urgent && now.Sub(b.dirtiedAt) < c.cfg.FlushAge {
				continue
			}
			ref := blockRef{ino: ino, idx: idx}
			candidates = append(candidates, ref)
			if !b.loaded && !isFullyCovered(b.cov, c.cfg.BlockSize) {
				needBase = append(needBase, ref)
			}
		}
	}

	slices.SortFunc(candidates, compareRefs)
	slices.SortFunc(needBase, compareRefs)
	return candidates, needBase
}

func compareRefs(a, b blockRef) int {
	switch {
	case a.ino != b.ino:
		if a.ino < b.ino {
			return -1
		}
		return 1
	case a.idx < b.idx:
		return -1
	case a.idx > b.idx:
		return 1
	}
	return 0
}

// fireWaiters fires the flush and commit waiters of every object that is no
// longer dirty or committing. Must hold the lock. Waiters are collected
// before any fires, since a waiter may call back into the cache.
func (c *Cache) fireWaiters() {
	var ready []*completion.Completion
	for _, o := range c.objects {
		if o.dirtyOrCommitting() {
			continue
		}
		if len(o.flushWaiters) == 0 && len(o.commitWaiters) == 0 {
			continue
		}
		ready = append(ready, o.flushWaiters...)
		ready = append(ready, o.commitWaiters...)
		o.flushWaiters, o.commitWaiters = nil, nil
		c.maybeDropObject(o)
	}
	completion.FinishAll(ready, 0, nil)
}
