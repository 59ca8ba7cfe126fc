package filecache

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/filecache/pkg/caps"
)

func TestReadWithoutReadCacheBypasses(t *testing.T) {
	t.Parallel()

	for _, granted := range []caps.Cap{caps.None, caps.Read, caps.Read | caps.Write | caps.WriteBuffer} {
		t.Run(granted.String(), func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, granted)
			h.oc.cached = true

			buf := make([]byte, 16)
			n, err := h.fc.Read(context.Background(), 32, buf)
			require.NoError(t, err)
			assert.Equal(t, 16, n)
			assert.Equal(t, byte('s'), buf[0])
			assert.Equal(t, []ocCall{{op: "atomic_read", off: 32, n: 16}}, h.oc.calls)
			assert.Zero(t, h.fc.NumReading())
			assert.Equal(t, []string{"read/bypass"}, h.metrics.io)
		})
	}
}

func TestReadCachedServedInline(t *testing.T) {
	t.Parallel()
	h := newHarness(t, caps.Read|caps.ReadCache)

	buf := make([]byte, 100)
	n, err := h.fc.Read(context.Background(), 0, buf)
	require.NoError(t, err)

	assert.Equal(t, 100, n)
	assert.Equal(t, byte('c'), buf[99])
	assert.Equal(t, []string{"read"}, h.oc.ops())
	assert.True(t, h.oc.lastRead.Consumed(), "private completion is discarded")
	assert.Empty(t, h.metrics.suspends)
	assert.Zero(t, h.fc.NumReading())
}

func TestReadCachedSuspendsUntilCompletion(t *testing.T) {
	t.Parallel()
	h := newHarness(t, caps.Read|caps.ReadCache)
	h.oc.readInline = false

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	buf := make([]byte, 100)

	// The harness holds the lock; hand it to the reader.
	h.mu.Unlock()
	go func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		n, err := h.fc.Read(context.Background(), 0, buf)
		done <- result{n, err}
	}()

	<-h.oc.readIssued

	// The reader must have dropped the lock to wait.
	h.mu.Lock()
	assert.Equal(t, 1, h.fc.NumReading())
	select {
	case <-done:
		t.Fatal("read returned before its completion fired")
	default:
	}
	fill(buf, 'a')
	h.oc.pendingRead.Finish(100, nil)
	h.mu.Unlock()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, 100, r.n)
	case <-time.After(5 * time.Second):
		t.Fatal("read did not resume")
	}

	h.mu.Lock()
	assert.Zero(t, h.fc.NumReading())
	assert.Equal(t, []string{"read"}, h.oc.ops())
	assert.Equal(t, []string{"read"}, h.metrics.suspends)
}

func TestReadCompletionErrorIsReturned(t *testing.T) {
	t.Parallel()
	h := newHarness(t, caps.Read|caps.ReadCache)
	h.oc.readInline = false
	errFetch := errors.New("fetch failed")

	done := make(chan error, 1)
	h.mu.Unlock()
	go func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		_, err := h.fc.Read(context.Background(), 0, make([]byte, 4))
		done <- err
	}()

	<-h.oc.readIssued
	h.mu.Lock()
	h.oc.pendingRead.Finish(0, errFetch)
	h.mu.Unlock()

	err := <-done
	assert.ErrorIs(t, err, errFetch)
	h.mu.Lock()
	assert.Zero(t, h.fc.NumReading())
}

func TestReadErrors(t *testing.T) {
	t.Parallel()
	errIO := errors.New("io")

	t.Run("cache refuses", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, caps.Read|caps.ReadCache)
		h.oc.readErr = errIO

		_, err := h.fc.Read(context.Background(), 0, make([]byte, 4))
		assert.ErrorIs(t, err, errIO)
		assert.True(t, h.oc.lastRead.Consumed())
		assert.Zero(t, h.fc.NumReading())
		assert.Equal(t, []string{"read/cache/error"}, h.metrics.io)
	})

	t.Run("bypass fails", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, caps.Read)
		h.oc.syncErr = errIO

		_, err := h.fc.Read(context.Background(), 0, make([]byte, 4))
		assert.ErrorIs(t, err, errIO)
		assert.Zero(t, h.fc.NumReading())
	})

	t.Run("negative offset", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, caps.Read)

		_, err := h.fc.Read(context.Background(), -1, make([]byte, 4))
		assert.ErrorIs(t, err, ErrInvalidOffset)
		assert.Empty(t, h.oc.calls)
	})
}

func TestWriteWithoutWriteBufferIsSynchronous(t *testing.T) {
	t.Parallel()
	h := newHarness(t, caps.Write)

	require.NoError(t, h.fc.Write(context.Background(), 0, make([]byte, 50)))

	assert.Equal(t, []ocCall{{op: "atomic_write", off: 0, n: 50}}, h.oc.calls)
	assert.Zero(t, h.fc.NumWriting())
	assert.Empty(t, h.metrics.suspends)
}

func TestWriteBufferedWaitsForAdmission(t *testing.T) {
	t.Parallel()
	h := newHarness(t, caps.Write|caps.WriteBuffer)

	require.NoError(t, h.fc.Write(context.Background(), 4096, make([]byte, 10)))

	assert.Equal(t, []ocCall{
		{op: "wait_for_write", n: 10},
		{op: "write", off: 4096, n: 10},
	}, h.oc.calls)
	assert.Zero(t, h.fc.NumWriting())
	assert.Equal(t, []string{"write_admission"}, h.metrics.suspends)
	assert.Equal(t, []string{"write/cache"}, h.metrics.io)
}

func TestWriteErrors(t *testing.T) {
	t.Parallel()
	errIO := errors.New("io")

	h := newHarness(t, caps.Write|caps.WriteBuffer)
	h.oc.writeErr = errIO
	assert.ErrorIs(t, h.fc.Write(context.Background(), 0, []byte("x")), errIO)
	assert.Zero(t, h.fc.NumWriting())

	h.fc.SetCaps(context.Background(), caps.Write, nil)
	h.oc.syncErr = errIO
	assert.ErrorIs(t, h.fc.Write(context.Background(), 0, []byte("x")), errIO)
	assert.Zero(t, h.fc.NumWriting())

	assert.ErrorIs(t, h.fc.Write(context.Background(), -5, []byte("x")), ErrInvalidOffset)
}

func TestCountersReturnToZero(t *testing.T) {
	t.Parallel()
	h := newHarness(t, caps.All)
	rng := rand.New(rand.NewSource(1))
	errIO := errors.New("io")
	masks := []caps.Cap{caps.None, caps.Read, caps.Read | caps.ReadCache, caps.Write, caps.Write | caps.WriteBuffer, caps.All}

	for i := 0; i < 500; i++ {
		h.oc.readErr, h.oc.syncErr, h.oc.writeErr = nil, nil, nil
		if rng.Intn(4) == 0 {
			h.oc.readErr, h.oc.syncErr, h.oc.writeErr = errIO, errIO, errIO
		}
		h.fc.SetCaps(context.Background(), masks[rng.Intn(len(masks))], nil)

		off := int64(rng.Intn(1 << 20))
		if rng.Intn(2) == 0 {
			_, _ = h.fc.Read(context.Background(), off, make([]byte, rng.Intn(64)))
		} else {
			_ = h.fc.Write(context.Background(), off, make([]byte, rng.Intn(64)))
		}

		require.GreaterOrEqual(t, h.fc.NumReading(), 0)
		require.GreaterOrEqual(t, h.fc.NumWriting(), 0)
	}

	assert.Zero(t, h.fc.NumReading())
	assert.Zero(t, h.fc.NumWriting())
}
