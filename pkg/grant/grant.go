// Package grant drives capability changes on open files.
//
// A Manager stands in for the coherence authority: it grows a file's grant
// with Issue and shrinks it with Revoke. Every revoke that drops a capability
// becomes a Break that stays outstanding until the file cache reports the
// downgrade implemented. A Scanner watches for breaks that take too long.
package grant

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/filecache/internal/logger"
	"github.com/marmos91/filecache/internal/telemetry"
	"github.com/marmos91/filecache/pkg/caps"
	"github.com/marmos91/filecache/pkg/completion"
	"github.com/marmos91/filecache/pkg/filecache"
)

// Break is one revoke waiting for the client to stop relying on the
// capabilities it removed.
type Break struct {
	ID      uuid.UUID
	Ino     uint64
	From    caps.Cap
	To      caps.Cap
	Started time.Time

	Acked   bool
	AckedAt time.Time

	// Overdue is set by the Scanner the first time the break outlives the
	// timeout. It is reported once.
	Overdue bool
}

// Lost returns the capabilities the break removes.
func (b Break) Lost() caps.Cap {
	return b.From.Lost(b.To)
}

// Metrics receives grant events. A nil Metrics disables collection.
type Metrics interface {
	BreakStarted()
	BreakAcked(latency time.Duration)
	BreakOverdue()
	SetOutstanding(n int)
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(mg *Manager) { mg.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(mg *Manager) { mg.now = now }
}

// WithAckHook registers fn to run after a break is acknowledged. It runs
// with the shared lock held, from whichever goroutine fired the completion.
func WithAckHook(fn func(Break)) Option {
	return func(mg *Manager) { mg.onAck = fn }
}

// Manager issues and revokes grants.
//
// Issue and Revoke call into the file cache and must be called with the
// shared lock held. The break table has its own mutex, so Outstanding and
// the Scanner do not need the shared lock.
type Manager struct {
	metrics Metrics
	now     func() time.Time
	onAck   func(Break)

	mu     sync.Mutex
	breaks map[uuid.UUID]*Break
	// order keeps breaks in start order for Outstanding.
	order []uuid.UUID
}

// NewManager returns an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		now:    time.Now,
		breaks: make(map[uuid.UUID]*Break),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue adds mask to the file's grant. Growing a grant never waits.
func (m *Manager) Issue(ctx context.Context, fc *filecache.FileCache, mask caps.Cap) {
	next := fc.Caps() | mask
	logger.DebugCtx(ctx, "grant issue",
		logger.Ino(fc.Ino()), "from", fc.Caps().String(), logger.Caps(next))
	fc.SetCaps(ctx, next, nil)
}

// Revoke removes mask from the file's grant. When that drops a capability
// the file holds, a Break is recorded and returned with ok set; the break is
// acknowledged when the file cache fires the downgrade completion, which may
// happen before Revoke returns. Revoking capabilities the file does not hold
// changes nothing.
func (m *Manager) Revoke(ctx context.Context, fc *filecache.FileCache, mask caps.Cap) (Break, bool) {
	from := fc.Caps()
	to := from &^ mask
	if from.Lost(to) == caps.None {
		return Break{}, false
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanGrantRevoke,
		telemetry.Ino(fc.Ino()), telemetry.Caps(to.String()))
	defer span.End()

	b := &Break{
		ID:      uuid.New(),
		Ino:     fc.Ino(),
		From:    from,
		To:      to,
		Started: m.now(),
	}
	telemetry.AddEvent(ctx, "break.started", telemetry.BreakID(b.ID.String()))

	m.mu.Lock()
	m.breaks[b.ID] = b
	m.order = append(m.order, b.ID)
	outstanding := m.outstandingLocked()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.BreakStarted()
		m.metrics.SetOutstanding(outstanding)
	}
	logger.InfoCtx(ctx, "grant break started",
		logger.KeyBreakID, b.ID.String(), logger.Ino(b.Ino),
		"from", from.String(), "to", to.String())

	id := b.ID
	fc.SetCaps(ctx, to, completion.New("grant.revoke", func(int, error) {
		m.ack(id)
	}))

	return m.snapshot(id), true
}

func (m *Manager) ack(id uuid.UUID) {
	m.mu.Lock()
	b, ok := m.breaks[id]
	if !ok || b.Acked {
		m.mu.Unlock()
		return
	}
	b.Acked = true
	b.AckedAt = m.now()
	done := *b
	outstanding := m.outstandingLocked()
	m.mu.Unlock()

	latency := done.AckedAt.Sub(done.Started)
	if m.metrics != nil {
		m.metrics.BreakAcked(latency)
		m.metrics.SetOutstanding(outstanding)
	}
	logger.Info("grant break acknowledged",
		logger.KeyBreakID, done.ID.String(), logger.Ino(done.Ino),
		logger.DurationMs(float64(latency.Microseconds())/1000.0))

	if m.onAck != nil {
		m.onAck(done)
	}
}

func (m *Manager) snapshot(id uuid.UUID) Break {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.breaks[id]
}

func (m *Manager) outstandingLocked() int {
	n := 0
	for _, b := range m.breaks {
		if !b.Acked {
			n++
		}
	}
	return n
}

// Get returns the break with the given id.
func (m *Manager) Get(id uuid.UUID) (Break, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breaks[id]
	if !ok {
		return Break{}, false
	}
	return *b, true
}

// Outstanding lists unacknowledged breaks in the order they started.
func (m *Manager) Outstanding() []Break {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Break
	for _, id := range m.order {
		if b := m.breaks[id]; !b.Acked {
			out = append(out, *b)
		}
	}
	return out
}

// Breaks lists every recorded break in start order.
func (m *Manager) Breaks() []Break {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Break, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.breaks[id])
	}
	return out
}

// Prune forgets acknowledged breaks and returns how many were dropped.
func (m *Manager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	m.order = slices.DeleteFunc(m.order, func(id uuid.UUID) bool {
		if m.breaks[id].Acked {
			delete(m.breaks, id)
			dropped++
			return true
		}
		return false
	})
	return dropped
}

// markOverdue flags every unacknowledged break started before deadline that
// has not been reported yet, and returns them.
func (m *Manager) markOverdue(deadline time.Time) []Break {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Break
	for _, id := range m.order {
		b := m.breaks[id]
		if b.Acked || b.Overdue || !b.Started.Before(deadline) {
			continue
		}
		b.Overdue = true
		out = append(out, *b)
	}
	return out
}
