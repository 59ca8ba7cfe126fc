package filecache

import (
	"github.com/marmos91/filecache/pkg/completion"
)

// ObjectCache is the shared, object-granularity cache a FileCache delegates
// storage and durability mechanics to. It is shared by every file of a client
// and is only ever called with the client's shared lock held.
//
// Methods that may block (AtomicSyncRead, AtomicSyncWrite, WaitForWrite)
// release the shared lock while waiting and hold it again on return.
// Completions handed to the cache are fired by the cache with the shared lock
// held, possibly from a different goroutine than the one that registered them.
type ObjectCache interface {
	// Read copies [off, off+len(dest)) into dest, stopping at the end of
	// the object; n is the byte count copied. When the range is already
	// cached it returns done=true and does not retain onfinish. Otherwise it
	// returns done=false, takes ownership of onfinish and fires it with the
	// byte count once dest has been filled. A non-nil err implies the cache
	// did not retain onfinish.
	Read(ino uint64, off int64, dest []byte, onfinish *completion.Completion) (n int, done bool, err error)

	// AtomicSyncRead reads straight from the backing store, bypassing the
	// cache. The byte count stops at the end of the stored object.
	AtomicSyncRead(ino uint64, off int64, dest []byte) (int, error)

	// WaitForWrite blocks until the cache can accept n more buffered bytes.
	WaitForWrite(n int)

	// Write buffers data in the cache. It returns once buffered, not durable.
	Write(ino uint64, off int64, data []byte) error

	// AtomicSyncWrite writes straight to the backing store and returns once
	// the write is durable.
	AtomicSyncWrite(ino uint64, off int64, data []byte) error

	// FlushSet starts writing back every dirty byte of ino. It returns true
	// when there is nothing to flush, in which case onflush is not retained.
	FlushSet(ino uint64, onflush *completion.Completion) bool

	// ReleaseSet drops the clean cached data of ino. released is the number
	// of bytes freed, unclean the number that could not be freed because
	// they are dirty or being committed.
	ReleaseSet(ino uint64) (released, unclean int64)

	// IsCached reports whether any data of ino is cached.
	IsCached(ino uint64) bool

	// IsDirtyOrCommitting reports whether ino has data that is not yet
	// durable.
	IsDirtyOrCommitting(ino uint64) bool

	// CommitSet registers oncommit to fire once every write of ino is
	// durable. It returns true when that is already the case, in which case
	// oncommit is not retained.
	CommitSet(ino uint64, oncommit *completion.Completion) bool
}
