package grant

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/filecache/pkg/caps"
	"github.com/marmos91/filecache/pkg/filecache"
	"github.com/marmos91/filecache/pkg/objectcache"
	"github.com/marmos91/filecache/pkg/store/block/memory"
)

type recordingMetrics struct {
	mu                      sync.Mutex
	started, acked, overdue int
	outstanding             int
	latencies               []time.Duration
}

func (r *recordingMetrics) BreakStarted() { r.mu.Lock(); r.started++; r.mu.Unlock() }
func (r *recordingMetrics) BreakOverdue() { r.mu.Lock(); r.overdue++; r.mu.Unlock() }
func (r *recordingMetrics) SetOutstanding(n int) {
	r.mu.Lock()
	r.outstanding = n
	r.mu.Unlock()
}
func (r *recordingMetrics) BreakAcked(d time.Duration) {
	r.mu.Lock()
	r.acked++
	r.latencies = append(r.latencies, d)
	r.mu.Unlock()
}

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	mu      *sync.Mutex
	oc      *objectcache.Cache
	clock   *fakeClock
	metrics *recordingMetrics
	m       *Manager
}

// newHarness returns a harness with the shared lock held. The lock is
// released before the object cache is closed.
func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		mu:      &sync.Mutex{},
		clock:   &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		metrics: &recordingMetrics{},
	}
	h.oc = objectcache.New(h.mu, memory.New(), objectcache.Config{
		BlockSize:     1024,
		FlushInterval: time.Hour,
		FlushAge:      time.Hour,
	})
	h.oc.Start(context.Background())
	t.Cleanup(func() { _ = h.oc.Close(context.Background()) })

	opts = append([]Option{WithClock(h.clock.Now), WithMetrics(h.metrics)}, opts...)
	h.m = NewManager(opts...)

	h.mu.Lock()
	t.Cleanup(h.mu.Unlock)
	return h
}

func (h *harness) file(ino uint64, c caps.Cap) *filecache.FileCache {
	return filecache.New(ino, h.oc, h.mu, filecache.WithCaps(c))
}

func TestIssueGrowsGrant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fc := h.file(1, caps.Read)

	h.m.Issue(ctx, fc, caps.ReadCache)
	assert.Equal(t, caps.Read|caps.ReadCache, fc.Caps())

	h.m.Issue(ctx, fc, caps.Read)
	assert.Equal(t, caps.Read|caps.ReadCache, fc.Caps())
	assert.Empty(t, h.m.Breaks())
}

func TestRevokeNothingHeld(t *testing.T) {
	h := newHarness(t)
	fc := h.file(1, caps.Read)

	_, ok := h.m.Revoke(context.Background(), fc, caps.WriteBuffer)
	assert.False(t, ok)
	assert.Equal(t, caps.Read, fc.Caps())
	assert.Empty(t, h.m.Breaks())
	assert.Equal(t, 0, h.metrics.started)
}

func TestRevokeAcknowledgedImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fc := h.file(1, caps.All)

	// Buffered write leaves the file cached and dirty.
	require.NoError(t, fc.Write(ctx, 0, []byte("dirty")))

	b, ok := h.m.Revoke(ctx, fc, caps.WriteBuffer)
	require.True(t, ok)
	assert.Equal(t, caps.Read|caps.ReadCache|caps.Write, b.To)
	assert.Equal(t, caps.WriteBuffer, b.Lost())
	assert.True(t, b.Acked)
	assert.Equal(t, 0, fc.PendingCallbacks())

	assert.Empty(t, h.m.Outstanding())
	assert.Equal(t, 1, h.metrics.started)
	assert.Equal(t, 1, h.metrics.acked)
	assert.Equal(t, 0, h.metrics.outstanding)
}

func TestRevokeStaysOutstandingUntilCheckCaps(t *testing.T) {
	var acked []Break
	h := newHarness(t, WithAckHook(func(b Break) { acked = append(acked, b) }))
	ctx := context.Background()
	fc := h.file(2, caps.Read|caps.ReadCache)

	b, ok := h.m.Revoke(ctx, fc, caps.ReadCache)
	require.True(t, ok)
	assert.False(t, b.Acked)
	assert.Equal(t, caps.Read, fc.Caps())
	assert.Equal(t, 1, fc.PendingCallbacks())

	out := h.m.Outstanding()
	require.Len(t, out, 1)
	assert.Equal(t, b.ID, out[0].ID)
	assert.Equal(t, 1, h.metrics.outstanding)

	h.clock.Advance(250 * time.Millisecond)

	// Data landing in the cache changes what the file relies on; the driver
	// re-evaluates.
	require.NoError(t, h.oc.Write(2, 0, []byte("x")))
	fc.CheckCaps()

	got, ok := h.m.Get(b.ID)
	require.True(t, ok)
	assert.True(t, got.Acked)
	assert.Equal(t, 250*time.Millisecond, got.AckedAt.Sub(got.Started))
	require.Len(t, acked, 1)
	assert.Equal(t, b.ID, acked[0].ID)
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, h.metrics.latencies)
	assert.Empty(t, h.m.Outstanding())
}

func TestBreaksKeepStartOrderAndPrune(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	idle := h.file(3, caps.All)
	busy := h.file(4, caps.All)
	require.NoError(t, busy.Write(ctx, 0, []byte("data")))

	first, ok := h.m.Revoke(ctx, idle, caps.WriteBuffer)
	require.True(t, ok)
	second, ok := h.m.Revoke(ctx, busy, caps.WriteBuffer)
	require.True(t, ok)

	all := h.m.Breaks()
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)

	assert.Equal(t, 1, h.m.Prune())
	all = h.m.Breaks()
	require.Len(t, all, 1)
	assert.Equal(t, first.ID, all[0].ID)

	_, ok = h.m.Get(second.ID)
	assert.False(t, ok)
}

func TestScannerReportsOverdueOnce(t *testing.T) {
	h := newHarness(t)
	fc := h.file(5, caps.Read|caps.ReadCache)

	var reported []Break
	s := NewScanner(h.m, time.Second, 0, func(b Break) { reported = append(reported, b) })
	assert.Equal(t, DefaultScanInterval, s.scanInterval)

	b, ok := h.m.Revoke(context.Background(), fc, caps.ReadCache)
	require.True(t, ok)

	assert.Empty(t, s.Scan(h.clock.Now().Add(500*time.Millisecond)))

	overdue := s.Scan(h.clock.Now().Add(2 * time.Second))
	require.Len(t, overdue, 1)
	assert.Equal(t, b.ID, overdue[0].ID)
	assert.True(t, overdue[0].Overdue)
	assert.Len(t, reported, 1)
	assert.Equal(t, 1, h.metrics.overdue)

	assert.Empty(t, s.Scan(h.clock.Now().Add(time.Hour)), "reported once")

	// Still outstanding until acknowledged.
	require.Len(t, h.m.Outstanding(), 1)
}

func TestScannerSkipsAcknowledged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fc := h.file(6, caps.All)
	require.NoError(t, fc.Write(ctx, 0, []byte("data")))

	_, ok := h.m.Revoke(ctx, fc, caps.WriteBuffer)
	require.True(t, ok)

	s := NewScanner(h.m, time.Millisecond, time.Millisecond, nil)
	assert.Empty(t, s.Scan(h.clock.Now().Add(time.Hour)))
}

func TestScannerStartStop(t *testing.T) {
	m := NewManager()
	s := NewScanner(m, 0, 5*time.Millisecond, nil)
	assert.Equal(t, DefaultBreakTimeout, s.Timeout())

	assert.False(t, s.IsRunning())
	s.Start()
	s.Start()
	assert.True(t, s.IsRunning())

	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())

	// Restartable after a stop.
	s.Start()
	assert.True(t, s.IsRunning())
	s.Stop()

	s.SetTimeout(time.Minute)
	assert.Equal(t, time.Minute, s.Timeout())
}
