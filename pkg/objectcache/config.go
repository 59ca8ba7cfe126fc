package objectcache

import "time"

// Config holds object cache tuning.
type Config struct {
	// BlockSize is the caching and storage granularity in bytes.
	BlockSize int

	// MaxDirty bounds dirty plus committing bytes. WaitForWrite blocks
	// writers that would push the cache past it.
	MaxDirty int64

	// FlushInterval is the period of the background sweep.
	FlushInterval time.Duration

	// FlushAge is how long a block may stay dirty before a periodic sweep
	// writes it back. Explicit flushes and write pressure ignore it.
	FlushAge time.Duration

	// FetchWorkers is the number of goroutines serving cache misses.
	FetchWorkers int

	// FetchQueue is the capacity of the miss queue. Misses that find it
	// full are served by a dedicated goroutine.
	FetchQueue int

	// StoreTimeout bounds every individual block store call.
	StoreTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BlockSize:     64 * 1024,
		MaxDirty:      16 * 1024 * 1024,
		FlushInterval: time.Second,
		FlushAge:      5 * time.Second,
		FetchWorkers:  4,
		FetchQueue:    256,
		StoreTimeout:  30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BlockSize <= 0 {
		c.BlockSize = d.BlockSize
	}
	if c.MaxDirty <= 0 {
		c.MaxDirty = d.MaxDirty
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.FlushAge < 0 {
		c.FlushAge = 0
	}
	if c.FetchWorkers < 0 {
		c.FetchWorkers = 0
	}
	if c.FetchQueue < 0 {
		c.FetchQueue = 0
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
}
