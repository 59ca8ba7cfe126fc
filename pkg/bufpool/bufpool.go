// Package bufpool reuses block-sized byte slices.
//
// The object cache copies every block it writes back into a snapshot so the
// store call can run without the shared lock. Snapshots all have the cache's
// block size, so one size class serves them; shorter requests are carved
// from a full block and oversized ones are allocated directly.
//
// Usage:
//
//	p := bufpool.New(blockSize)
//	buf := p.Get(n)
//	defer p.Put(buf)
package bufpool

import (
	"sync"
	"sync/atomic"
)

// Pool hands out slices backed by buffers of exactly Size bytes.
type Pool struct {
	size int
	pool sync.Pool

	gets   atomic.Uint64
	misses atomic.Uint64
	puts   atomic.Uint64
}

// Stats counts pool traffic. Misses are Gets that allocated.
type Stats struct {
	Gets   uint64
	Misses uint64
	Puts   uint64
}

// New returns a pool of size-byte buffers. size must be positive.
func New(size int) *Pool {
	if size <= 0 {
		panic("bufpool: size must be positive")
	}
	p := &Pool{size: size}
	p.pool.New = func() any {
		p.misses.Add(1)
		buf := make([]byte, p.size)
		return &buf
	}
	return p
}

// Size returns the buffer size of the pool.
func (p *Pool) Size() int { return p.size }

// Get returns a slice of length n. The caller must Put it back when done
// and must not keep references to it afterwards. Requests above Size are
// allocated and never pooled.
func (p *Pool) Get(n int) []byte {
	if n > p.size {
		return make([]byte, n)
	}
	p.gets.Add(1)
	buf := *p.pool.Get().(*[]byte)
	return buf[:n]
}

// Put returns buf to the pool. Slices not obtained from this pool's Get,
// identified by their capacity, are dropped.
func (p *Pool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	p.puts.Add(1)
	full := buf[:p.size]
	p.pool.Put(&full)
}

// Stats returns the traffic counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Gets:   p.gets.Load(),
		Misses: p.misses.Load(),
		Puts:   p.puts.Load(),
	}
}
