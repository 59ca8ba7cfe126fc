package objectcache

import "sync/atomic"

type statsCounters struct {
	hits           atomic.Uint64
	misses         atomic.Uint64
	fetches        atomic.Uint64
	syncReads      atomic.Uint64
	syncWrites     atomic.Uint64
	bufferedWrites atomic.Uint64
	admissionWaits atomic.Uint64
	flushes        atomic.Uint64
	flushErrors    atomic.Uint64
	blocksFlushed  atomic.Uint64
	bytesFlushed   atomic.Uint64
}

// Stats is a point-in-time snapshot of the cache.
type Stats struct {
	Objects int
	Blocks  int

	CleanBytes int64
	DirtyBytes int64
	TxBytes    int64

	Hits           uint64
	Misses         uint64
	Fetches        uint64
	SyncReads      uint64
	SyncWrites     uint64
	BufferedWrites uint64
	AdmissionWaits uint64
	Flushes        uint64
	FlushErrors    uint64
	BlocksFlushed  uint64
	BytesFlushed   uint64
}

// Stats returns a snapshot. It takes the shared lock, so it must be called
// without it.
func (c *Cache) Stats() Stats {
	c.lock.Lock()
	s := Stats{
		Objects:    len(c.objects),
		CleanBytes: c.clean,
		DirtyBytes: c.dirty,
		TxBytes:    c.tx,
	}
	for _, o := range c.objects {
		s.Blocks += len(o.blocks)
	}
	c.lock.Unlock()

	s.Hits = c.stats.hits.Load()
	s.Misses = c.stats.misses.Load()
	s.Fetches = c.stats.fetches.Load()
	s.SyncReads = c.stats.syncReads.Load()
	s.SyncWrites = c.stats.syncWrites.Load()
	s.BufferedWrites = c.stats.bufferedWrites.Load()
	s.AdmissionWaits = c.stats.admissionWaits.Load()
	s.Flushes = c.stats.flushes.Load()
	s.FlushErrors = c.stats.flushErrors.Load()
	s.BlocksFlushed = c.stats.blocksFlushed.Load()
	s.BytesFlushed = c.stats.bytesFlushed.Load()
	return s
}
