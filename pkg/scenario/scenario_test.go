package scenario

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/filecache/pkg/caps"
	"github.com/marmos91/filecache/pkg/objectcache"
	"github.com/marmos91/filecache/pkg/store/block/memory"
)

func TestParse(t *testing.T) {
	sc, err := Parse([]byte(`
name: parse
files:
  - name: a
    ino: 1
    caps: rc
  - name: b
    ino: 2
steps:
  - op: write
    file: b
    length: 3
    fill: "z"
  - op: read
    file: a
    length: 4
    expect: ""
    background: true
  - op: sleep
    duration: 5ms
  - op: sync
  - op: revoke
    file: a
    caps: read_cache|read
  - op: check
    file: a
    check:
      caps: "-"
      pending: 0
      dirty: false
`))
	require.NoError(t, err)

	assert.Equal(t, "parse", sc.Name)
	require.Len(t, sc.Files, 2)
	require.NotNil(t, sc.Files[0].Caps)
	assert.Equal(t, caps.Read|caps.ReadCache, *sc.Files[0].Caps)
	assert.Nil(t, sc.Files[1].Caps)

	require.Len(t, sc.Steps, 6)
	assert.Equal(t, []byte("zzz"), sc.Steps[0].payload())
	assert.True(t, sc.Steps[1].Background)
	require.NotNil(t, sc.Steps[1].Expect)
	assert.Equal(t, 5*time.Millisecond, sc.Steps[2].Duration)
	assert.Equal(t, caps.Read|caps.ReadCache, sc.Steps[4].Caps)

	c := sc.Steps[5].Check
	require.NotNil(t, c)
	assert.Equal(t, caps.None, *c.Caps)
	assert.Equal(t, 0, *c.Pending)
	assert.False(t, *c.Dirty)
	assert.Nil(t, c.Used)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"yaml", "steps: [", ""},
		{"no steps", "files: [{name: a, ino: 1}]", "no steps"},
		{"unknown op", "files: [{name: a, ino: 1}]\nsteps: [{op: truncate, file: a}]", "unknown op"},
		{"unknown file", "steps: [{op: flush, file: nope}]", "unknown file"},
		{"duplicate file", "files: [{name: a, ino: 1}, {name: a, ino: 2}]\nsteps: [{op: sync}]", "duplicate file"},
		{"duplicate ino", "files: [{name: a, ino: 1}, {name: b, ino: 1}]\nsteps: [{op: sync}]", "duplicate ino"},
		{"revoke without caps", "files: [{name: a, ino: 1}]\nsteps: [{op: revoke, file: a}]", "caps required"},
		{"read without length", "files: [{name: a, ino: 1}]\nsteps: [{op: read, file: a}]", "length required"},
		{"write without data", "files: [{name: a, ino: 1}]\nsteps: [{op: write, file: a, length: 4}]", "fill"},
		{"negative offset", "files: [{name: a, ino: 1}]\nsteps: [{op: read, file: a, offset: -1, length: 1}]", "negative offset"},
		{"sleep without duration", "steps: [{op: sleep}]", "duration required"},
		{"empty check", "files: [{name: a, ino: 1}]\nsteps: [{op: check, file: a}]", "no assertions"},
		{"background sync", "steps: [{op: sync, background: true}]", "background"},
		{"bad caps", "files: [{name: a, ino: 1, caps: xyz}]\nsteps: [{op: sync}]", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidScenario), "got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\nsteps: [{op: sleep, duration: 1ms}]\n"), 0644))

	sc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "x", sc.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

type env struct {
	store  *memory.Store
	runner *Runner
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	e := &env{store: memory.New()}
	opts.Store = e.store
	if opts.Cache.BlockSize == 0 {
		opts.Cache = objectcache.Config{
			BlockSize:     1024,
			FlushInterval: 10 * time.Millisecond,
			FlushAge:      time.Hour,
		}
	}
	r, err := NewRunner(opts)
	require.NoError(t, err)
	e.runner = r
	return e
}

func (e *env) run(t *testing.T, doc string) (*Report, error) {
	t.Helper()
	sc, err := Parse([]byte(doc))
	require.NoError(t, err)
	return e.runner.Run(context.Background(), sc)
}

func TestNewRunnerRequiresStore(t *testing.T) {
	_, err := NewRunner(Options{})
	assert.Error(t, err)
}

func TestRun_WriteFlushRead(t *testing.T) {
	e := newEnv(t, Options{})

	report, err := e.run(t, `
name: write-flush-read
files:
  - name: a
    ino: 7
steps:
  - {op: write, file: a, data: "hello"}
  - op: check
    file: a
    check: {dirty: true, cached: true, safe: false}
  - {op: flush, file: a}
  - op: check
    file: a
    check: {dirty: false, safe: true}
  - {op: read, file: a, length: 5, expect: "hello"}
`)
	require.NoError(t, err)
	assert.False(t, report.Failed())
	require.Len(t, report.Entries, 5)

	assert.Equal(t, "n=5", report.Entries[0].Result)
	assert.Equal(t, "rcwb", report.Entries[0].Caps)
	assert.NotEqual(t, "immediate", report.Entries[2].Result, "flush had dirty data to wait for")
	assert.Equal(t, "n=5", report.Entries[4].Result)
	assert.NotEqual(t, uuid.Nil, report.ID)
	assert.Equal(t, "write-flush-read", report.Name)

	assert.Equal(t, int64(1), e.store.Writes())
	assert.Equal(t, uint64(1), report.Stats.BufferedWrites)
}

func TestRun_RevokeAcknowledgedByLaterWrite(t *testing.T) {
	e := newEnv(t, Options{})

	report, err := e.run(t, `
name: revoke
files:
  - name: a
    ino: 1
steps:
  - {op: revoke, file: a, caps: c}
  - op: check
    file: a
    check: {caps: rwb, pending: 1, outstanding: 1}
  - {op: write, file: a, data: "x"}
  - op: check
    file: a
    check: {pending: 0, outstanding: 0}
`)
	require.NoError(t, err)
	assert.Contains(t, report.Entries[0].Result, "pending")
	assert.Contains(t, report.Entries[0].Result, "lost=c")

	require.Len(t, report.Breaks, 1)
	assert.True(t, report.Breaks[0].Acked)
	assert.Equal(t, uint64(1), report.Breaks[0].Ino)
}

func TestRun_RevokeWhileDirtyAcksImmediately(t *testing.T) {
	e := newEnv(t, Options{})

	report, err := e.run(t, `
name: revoke-dirty
files:
  - {name: a, ino: 1}
steps:
  - {op: write, file: a, data: "dirty"}
  - {op: revoke, file: a, caps: b}
  - {op: revoke, file: a, caps: b}
  - op: check
    file: a
    check: {caps: rcw, outstanding: 0}
`)
	require.NoError(t, err)
	assert.Contains(t, report.Entries[1].Result, "acked")
	assert.Equal(t, "nothing held", report.Entries[2].Result)
}

func TestRun_BackgroundReadAfterRelease(t *testing.T) {
	e := newEnv(t, Options{})

	report, err := e.run(t, `
name: refetch
files:
  - {name: a, ino: 3}
steps:
  - {op: write, file: a, data: "hello"}
  - {op: flush, file: a}
  - {op: release, file: a}
  - op: check
    file: a
    check: {cached: false}
  - {op: read, file: a, length: 5, expect: "hello", background: true}
  - {op: sync}
  - op: check
    file: a
    check: {cached: true, dirty: false}
`)
	require.NoError(t, err)
	assert.Equal(t, "released=5 unclean=0", report.Entries[2].Result)

	var bg []Entry
	for _, en := range report.Entries {
		if en.Background {
			bg = append(bg, en)
		}
	}
	require.Len(t, bg, 1)
	assert.Equal(t, OpRead, bg[0].Op)
	assert.Empty(t, bg[0].Err)
	assert.GreaterOrEqual(t, e.store.Reads(), int64(1))
}

func TestRun_EmptyAndWaitSafe(t *testing.T) {
	e := newEnv(t, Options{})

	report, err := e.run(t, `
name: drain
files:
  - {name: a, ino: 4}
  - {name: idle, ino: 5}
steps:
  - {op: empty, file: idle}
  - {op: wait_safe, file: idle}
  - {op: write, file: a, data: "abc"}
  - {op: wait_safe, file: a, no_wait: true}
  - {op: empty, file: a}
  - op: check
    file: a
    check: {dirty: false, safe: true}
`)
	require.NoError(t, err)
	assert.Equal(t, "immediate", report.Entries[0].Result)
	assert.Equal(t, "immediate", report.Entries[1].Result)
	assert.Equal(t, "queued", report.Entries[3].Result)
	assert.True(t, strings.HasPrefix(report.Entries[4].Result, "done after"), report.Entries[4].Result)
}

func TestRun_FailedCheckStopsRun(t *testing.T) {
	e := newEnv(t, Options{})

	report, err := e.run(t, `
name: failing
files:
  - {name: a, ino: 1, caps: r}
steps:
  - op: check
    file: a
    check: {caps: rcwb, dirty: true}
  - {op: write, file: a, data: "never"}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 0 (check a)")
	assert.Contains(t, err.Error(), "caps r, want rcwb")
	assert.Contains(t, err.Error(), "dirty false, want true")

	assert.True(t, report.Failed())
	require.Len(t, report.Entries, 1, "later steps do not run")
}

func TestRun_ReadMismatch(t *testing.T) {
	e := newEnv(t, Options{})

	_, err := e.run(t, `
name: mismatch
files:
  - {name: a, ino: 1}
steps:
  - {op: write, file: a, data: "abc"}
  - {op: read, file: a, length: 3, expect: "abd"}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `want "abd"`)
}

func TestRun_FlushTimeout(t *testing.T) {
	e := newEnv(t, Options{StepTimeout: 50 * time.Millisecond})
	e.store.FailWrites(errors.New("disk on fire"))

	report, err := e.run(t, `
name: stuck
files:
  - {name: a, ino: 1}
steps:
  - {op: write, file: a, data: "abc"}
  - {op: flush, file: a}
`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepTimeout)
	require.Len(t, report.Entries, 2)
	assert.Contains(t, report.Entries[1].Err, "timed out")
}

func TestRun_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := newEnv(t, Options{Registerer: reg})

	_, err := e.run(t, `
name: metrics
files:
  - {name: a, ino: 1}
steps:
  - {op: write, file: a, data: "abc"}
  - {op: flush, file: a}
  - {op: revoke, file: a, caps: c}
`)
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "fcache_filecache_ops_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = testutil.GatherAndCount(reg, "fcache_grant_breaks_started_total", "fcache_objectcache_flush_blocks_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReportTable(t *testing.T) {
	r := &Report{Entries: []Entry{
		{Step: 0, Op: OpWrite, File: "a", Caps: "rcwb", Used: "cb", Result: "n=3", Duration: time.Millisecond},
		{Step: 1, Op: OpRead, File: "a", Background: true, Err: "boom"},
	}}

	assert.Equal(t, []string{"#", "Op", "File", "Caps", "Used", "Result", "Took"}, r.Headers())
	rows := r.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"0", "write", "a", "rcwb", "cb", "n=3", "1ms"}, rows[0])
	assert.Equal(t, "read &", rows[1][1])
	assert.Equal(t, "ERROR boom", rows[1][5])
	assert.True(t, r.Failed())
}
