package scenario

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/filecache/internal/logger"
	"github.com/marmos91/filecache/internal/telemetry"
	"github.com/marmos91/filecache/pkg/caps"
	"github.com/marmos91/filecache/pkg/completion"
	"github.com/marmos91/filecache/pkg/filecache"
	"github.com/marmos91/filecache/pkg/grant"
	"github.com/marmos91/filecache/pkg/metrics"
	"github.com/marmos91/filecache/pkg/objectcache"
	"github.com/marmos91/filecache/pkg/store/block"
)

// DefaultStepTimeout bounds waits on flush, empty and wait_safe completions.
const DefaultStepTimeout = 10 * time.Second

// ErrStepTimeout is returned when a completion does not fire in time.
var ErrStepTimeout = errors.New("step timed out")

// Options configures a Runner.
type Options struct {
	// Store backs the object cache. Required; the caller owns it.
	Store block.Store

	// Cache tunes the object cache.
	Cache objectcache.Config

	// InitialCaps is granted to files that do not declare caps.
	// Default: caps.All
	InitialCaps caps.Cap

	// BreakTimeout and ScanInterval configure the overdue-break scanner.
	BreakTimeout time.Duration
	ScanInterval time.Duration

	// StepTimeout bounds completion waits. Default: DefaultStepTimeout.
	StepTimeout time.Duration

	// CloseTimeout bounds the final write-back when the run ends.
	// Zero waits for the store as long as it takes.
	CloseTimeout time.Duration

	// Registerer receives the file cache, object cache and grant metrics.
	// Nil disables metrics.
	Registerer prometheus.Registerer
}

// Runner executes scenarios.
type Runner struct {
	opts Options
}

// NewRunner validates opts and returns a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Store == nil {
		return nil, errors.New("scenario: a block store is required")
	}
	if opts.InitialCaps == caps.None {
		opts.InitialCaps = caps.All
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	return &Runner{opts: opts}, nil
}

// run is the state of one Run call.
type run struct {
	ctx         context.Context
	mu          *sync.Mutex
	oc          *objectcache.Cache
	grants      *grant.Manager
	files       map[string]*filecache.FileCache
	trace       Trace
	stepTimeout time.Duration

	bg     sync.WaitGroup
	bgMu   sync.Mutex
	bgErrs []error
}

// Run replays sc and returns its trace. The returned error is the first
// failing step, if any; the report is returned either way.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanScenarioRun, telemetry.Scenario(sc.Name))
	defer span.End()

	report := &Report{ID: uuid.New(), Name: sc.Name}
	lc := logger.NewLogContext("scenario:" + report.ID.String()[:8])
	ctx = logger.WithContext(ctx, lc)
	start := time.Now()

	ocOpts := []objectcache.Option{}
	fcOpts := []filecache.Option{}
	grantOpts := []grant.Option{}
	if reg := r.opts.Registerer; reg != nil {
		ocOpts = append(ocOpts, objectcache.WithMetrics(metrics.NewObjectCacheMetrics(reg)))
		fcOpts = append(fcOpts, filecache.WithMetrics(metrics.NewFileCacheMetrics(reg)))
		grantOpts = append(grantOpts, grant.WithMetrics(metrics.NewGrantMetrics(reg)))
	}

	st := &run{
		ctx:         ctx,
		mu:          &sync.Mutex{},
		grants:      grant.NewManager(grantOpts...),
		files:       make(map[string]*filecache.FileCache, len(sc.Files)),
		stepTimeout: r.opts.StepTimeout,
	}
	st.oc = objectcache.New(st.mu, r.opts.Store, r.opts.Cache, ocOpts...)
	if reg := r.opts.Registerer; reg != nil {
		metrics.RegisterCacheStats(reg, st.oc)
	}
	st.oc.Start(ctx)

	scanner := grant.NewScanner(st.grants, r.opts.BreakTimeout, r.opts.ScanInterval, nil)
	scanner.Start()

	for _, f := range sc.Files {
		initial := r.opts.InitialCaps
		if f.Caps != nil {
			initial = *f.Caps
		}
		opts := append([]filecache.Option{filecache.WithCaps(initial)}, fcOpts...)
		st.files[f.Name] = filecache.New(f.Ino, st.oc, st.mu, opts...)
	}

	logger.InfoCtx(ctx, "scenario started",
		"name", sc.Name, "files", len(sc.Files), "steps", len(sc.Steps))

	var runErr error
	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if step.Background {
			st.bg.Add(1)
			go func(i int, step Step) {
				defer st.bg.Done()
				if err := st.exec(i, step); err != nil {
					st.bgMu.Lock()
					st.bgErrs = append(st.bgErrs, err)
					st.bgMu.Unlock()
				}
			}(i, step)
			continue
		}
		if err := st.exec(i, step); err != nil {
			runErr = err
			break
		}
	}

	st.bg.Wait()
	if runErr == nil && len(st.bgErrs) > 0 {
		runErr = st.bgErrs[0]
	}

	scanner.Stop()
	report.Stats = st.oc.Stats()
	closeCtx := context.WithoutCancel(ctx)
	if r.opts.CloseTimeout > 0 {
		var cancel context.CancelFunc
		closeCtx, cancel = context.WithTimeout(closeCtx, r.opts.CloseTimeout)
		defer cancel()
	}
	if err := st.oc.Close(closeCtx); err != nil {
		logger.WarnCtx(ctx, "scenario cache closed with unflushed data", logger.Err(err))
	}
	st.closeFiles()

	report.Entries = st.trace.Entries()
	report.Breaks = st.grants.Breaks()
	report.Duration = time.Since(start)

	if runErr != nil {
		telemetry.RecordError(ctx, runErr)
		logger.WarnCtx(ctx, "scenario failed", "name", sc.Name, logger.Err(runErr))
	} else {
		logger.InfoCtx(ctx, "scenario finished", "name", sc.Name,
			logger.DurationMs(float64(report.Duration.Microseconds())/1000.0))
	}
	return report, runErr
}

// closeFiles releases every file that is idle. Files still waiting on a
// downgrade stay open; FileCache.Close would panic on them.
func (st *run) closeFiles() {
	st.mu.Lock()
	defer st.mu.Unlock()
	for name, fc := range st.files {
		if fc.PendingCallbacks() > 0 || fc.NumReading() > 0 || fc.NumWriting() > 0 {
			logger.WarnCtx(st.ctx, "scenario file left busy",
				"file", name, logger.Ino(fc.Ino()), "pending", fc.PendingCallbacks())
			continue
		}
		fc.Close()
	}
}

// exec runs one step and records its trace entry.
func (st *run) exec(i int, step Step) error {
	start := time.Now()
	result, err := st.do(step)

	e := Entry{
		Step:       i,
		Op:         step.Op,
		File:       step.File,
		Background: step.Background,
		Result:     result,
		Duration:   time.Since(start),
	}
	if fc := st.files[step.File]; fc != nil {
		st.mu.Lock()
		e.Caps = fc.Caps().String()
		e.Used = fc.Used().String()
		st.mu.Unlock()
	}
	if err != nil {
		e.Err = err.Error()
		err = fmt.Errorf("step %d (%s %s): %w", i, step.Op, step.File, err)
	}
	st.trace.add(e)

	logger.DebugCtx(st.ctx, "scenario step",
		"step", i, logger.KeyOp, string(step.Op), "file", step.File,
		"result", result, logger.KeyCaps, e.Caps, "error", e.Err)
	return err
}

func (st *run) do(step Step) (string, error) {
	fc := st.files[step.File]
	ctx := st.ctx

	switch step.Op {
	case OpIssue:
		st.mu.Lock()
		st.grants.Issue(ctx, fc, step.Caps)
		st.mu.Unlock()
		return "granted " + step.Caps.String(), nil

	case OpRevoke:
		st.mu.Lock()
		b, ok := st.grants.Revoke(ctx, fc, step.Caps)
		st.mu.Unlock()
		if !ok {
			return "nothing held", nil
		}
		state := "pending"
		if b.Acked {
			state = "acked"
		}
		return fmt.Sprintf("break %s lost=%s %s", b.ID.String()[:8], b.Lost(), state), nil

	case OpRead:
		buf := make([]byte, step.Length)
		st.mu.Lock()
		n, err := fc.Read(ctx, step.Offset, buf)
		st.mu.Unlock()
		if err != nil {
			return "", err
		}
		if step.Expect != nil && string(buf[:n]) != *step.Expect {
			return fmt.Sprintf("n=%d", n), fmt.Errorf("read %q, want %q", buf[:n], *step.Expect)
		}
		return fmt.Sprintf("n=%d", n), nil

	case OpWrite:
		data := step.payload()
		st.mu.Lock()
		err := fc.Write(ctx, step.Offset, data)
		st.mu.Unlock()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("n=%d", len(data)), nil

	case OpFlush:
		return st.await(step, fc, func(c *completionSignal) { fc.FlushDirty(ctx, c.comp) })

	case OpEmpty:
		return st.await(step, fc, func(c *completionSignal) { fc.Empty(ctx, c.comp) })

	case OpWaitSafe:
		return st.await(step, fc, func(c *completionSignal) { fc.AddSafeWaiter(c.comp) })

	case OpRelease:
		st.mu.Lock()
		released, unclean := fc.ReleaseClean()
		fc.CheckCaps()
		st.mu.Unlock()
		return fmt.Sprintf("released=%d unclean=%d", released, unclean), nil

	case OpCheck:
		st.mu.Lock()
		defer st.mu.Unlock()
		return "ok", st.check(fc, step.Check)

	case OpSleep:
		t := time.NewTimer(step.Duration)
		defer t.Stop()
		select {
		case <-t.C:
			return "slept " + step.Duration.String(), nil
		case <-ctx.Done():
			return "", ctx.Err()
		}

	case OpSync:
		st.bg.Wait()
		return "joined", nil
	}
	return "", fmt.Errorf("unknown op %q", step.Op)
}

func (st *run) check(fc *filecache.FileCache, c *Check) error {
	var errs []error
	if c.Caps != nil && fc.Caps() != *c.Caps {
		errs = append(errs, fmt.Errorf("caps %s, want %s", fc.Caps(), *c.Caps))
	}
	if c.Used != nil && fc.Used() != *c.Used {
		errs = append(errs, fmt.Errorf("used %s, want %s", fc.Used(), *c.Used))
	}
	if c.Pending != nil && fc.PendingCallbacks() != *c.Pending {
		errs = append(errs, fmt.Errorf("pending %d, want %d", fc.PendingCallbacks(), *c.Pending))
	}
	if c.Cached != nil && fc.IsCached() != *c.Cached {
		errs = append(errs, fmt.Errorf("cached %t, want %t", fc.IsCached(), *c.Cached))
	}
	if c.Dirty != nil && fc.IsDirty() != *c.Dirty {
		errs = append(errs, fmt.Errorf("dirty %t, want %t", fc.IsDirty(), *c.Dirty))
	}
	if c.Safe != nil && fc.AllSafe() != *c.Safe {
		errs = append(errs, fmt.Errorf("safe %t, want %t", fc.AllSafe(), *c.Safe))
	}
	if c.Outstanding != nil {
		n := 0
		for _, b := range st.grants.Outstanding() {
			if b.Ino == fc.Ino() {
				n++
			}
		}
		if n != *c.Outstanding {
			errs = append(errs, fmt.Errorf("outstanding breaks %d, want %d", n, *c.Outstanding))
		}
	}
	return errors.Join(errs...)
}

// completionSignal turns a completion into a channel. Firing re-evaluates
// the file's capabilities, since a drain is what downgrades waiting on
// WriteBuffer need to observe.
type completionSignal struct {
	comp *completion.Completion
	done chan error
}

func newCompletionSignal(name string, fc *filecache.FileCache) *completionSignal {
	s := &completionSignal{done: make(chan error, 1)}
	s.comp = completion.New(name, func(_ int, err error) {
		fc.CheckCaps()
		s.done <- err
	})
	return s
}

// await issues a drain request under the lock and, unless the step says
// otherwise, waits for its completion without the lock.
func (st *run) await(step Step, fc *filecache.FileCache, issue func(*completionSignal)) (string, error) {
	sig := newCompletionSignal("scenario."+string(step.Op), fc)
	start := time.Now()

	st.mu.Lock()
	issue(sig)
	// Fired before the lock was dropped means nothing had to drain.
	immediate := sig.comp.Consumed()
	st.mu.Unlock()

	if immediate {
		if err := <-sig.done; err != nil {
			return "", err
		}
		return "immediate", nil
	}

	if step.NoWait {
		return "queued", nil
	}

	t := time.NewTimer(st.stepTimeout)
	defer t.Stop()
	select {
	case err := <-sig.done:
		if err != nil {
			return "", err
		}
		return "done after " + time.Since(start).Round(time.Microsecond).String(), nil
	case <-t.C:
		return "", fmt.Errorf("%w after %s", ErrStepTimeout, st.stepTimeout)
	case <-st.ctx.Done():
		return "", st.ctx.Err()
	}
}
