package filecache

import (
	"sync"
	"time"

	"github.com/marmos91/filecache/pkg/caps"
	"github.com/marmos91/filecache/pkg/completion"
)

// ocCall is one recorded call into fakeObjectCache.
type ocCall struct {
	op  string
	off int64
	n   int
}

// fakeObjectCache records every call and lets tests script the answers.
// Like the real cache it is only touched with the shared lock held.
type fakeObjectCache struct {
	calls []ocCall

	cached bool
	dirty  bool

	// readInline makes Read answer from "cache" without retaining the
	// completion. Otherwise the completion is parked in pendingRead and
	// readIssued is signalled.
	readInline  bool
	pendingRead *completion.Completion
	lastRead    *completion.Completion
	readIssued  chan struct{}

	readErr  error
	syncErr  error
	writeErr error

	flushClean    bool
	flushWaiters  []*completion.Completion
	commitWaiters []*completion.Completion

	released int64
	unclean  int64
}

func newFakeObjectCache() *fakeObjectCache {
	return &fakeObjectCache{
		readInline: true,
		flushClean: true,
		readIssued: make(chan struct{}, 1),
	}
}

func (f *fakeObjectCache) record(op string, off int64, n int) {
	f.calls = append(f.calls, ocCall{op: op, off: off, n: n})
}

func (f *fakeObjectCache) ops() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.op)
	}
	return out
}

func (f *fakeObjectCache) Read(_ uint64, off int64, dest []byte, onfinish *completion.Completion) (int, bool, error) {
	f.record("read", off, len(dest))
	f.lastRead = onfinish
	if f.readErr != nil {
		return 0, false, f.readErr
	}
	if f.readInline {
		fill(dest, 'c')
		return len(dest), true, nil
	}
	f.pendingRead = onfinish
	f.readIssued <- struct{}{}
	return 0, false, nil
}

func (f *fakeObjectCache) AtomicSyncRead(_ uint64, off int64, dest []byte) (int, error) {
	f.record("atomic_read", off, len(dest))
	if f.syncErr != nil {
		return 0, f.syncErr
	}
	fill(dest, 's')
	return len(dest), nil
}

func (f *fakeObjectCache) WaitForWrite(n int) {
	f.record("wait_for_write", 0, n)
}

func (f *fakeObjectCache) Write(_ uint64, off int64, data []byte) error {
	f.record("write", off, len(data))
	if f.writeErr != nil {
		return f.writeErr
	}
	f.dirty = true
	f.cached = true
	return nil
}

func (f *fakeObjectCache) AtomicSyncWrite(_ uint64, off int64, data []byte) error {
	f.record("atomic_write", off, len(data))
	return f.syncErr
}

func (f *fakeObjectCache) FlushSet(_ uint64, onflush *completion.Completion) bool {
	f.record("flush_set", 0, 0)
	if f.flushClean {
		return true
	}
	f.flushWaiters = append(f.flushWaiters, onflush)
	return false
}

func (f *fakeObjectCache) ReleaseSet(uint64) (int64, int64) {
	f.record("release_set", 0, 0)
	return f.released, f.unclean
}

func (f *fakeObjectCache) IsCached(uint64) bool { return f.cached }

func (f *fakeObjectCache) IsDirtyOrCommitting(uint64) bool { return f.dirty }

func (f *fakeObjectCache) CommitSet(_ uint64, oncommit *completion.Completion) bool {
	f.record("commit_set", 0, 0)
	if !f.dirty {
		return true
	}
	f.commitWaiters = append(f.commitWaiters, oncommit)
	return false
}

// land simulates the write-back finishing.
func (f *fakeObjectCache) land() {
	f.dirty = false
	f.flushClean = true
	waiters := append(f.flushWaiters, f.commitWaiters...)
	f.flushWaiters, f.commitWaiters = nil, nil
	completion.FinishAll(waiters, 0, nil)
}

func fill(b []byte, c byte) {
	for i := range b {
		b[i] = c
	}
}

// recordingMetrics captures Metrics observations.
type recordingMetrics struct {
	mu       sync.Mutex
	io       []string
	suspends []string
	lost     []caps.Cap
	fired    int
}

func (m *recordingMetrics) ObserveIO(op, path string, _ int, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	label := op + "/" + path
	if err != nil {
		label += "/error"
	}
	m.io = append(m.io, label)
}

func (m *recordingMetrics) ObserveSuspend(reason string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspends = append(m.suspends, reason)
}

func (m *recordingMetrics) RecordCapsChange(lost caps.Cap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lost = append(m.lost, lost)
}

func (m *recordingMetrics) RecordCallbacksFired(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fired += n
}
