package filecache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/filecache/internal/logger"
	"github.com/marmos91/filecache/internal/telemetry"
	"github.com/marmos91/filecache/pkg/caps"
	"github.com/marmos91/filecache/pkg/completion"
)

// Read reads up to len(dest) bytes at off into dest and returns the number
// of bytes read, which is short at the end of the file.
//
// With ReadCache granted the read goes through the object cache; if the
// range is not resident the caller releases the shared lock and waits for
// the cache to fill dest. Without it the read bypasses the cache entirely.
// The shared lock is held on entry and on return.
func (fc *FileCache) Read(ctx context.Context, off int64, dest []byte) (int, error) {
	fc.assertOpen()
	if off < 0 {
		return 0, fmt.Errorf("read ino %d at %d: %w", fc.ino, off, ErrInvalidOffset)
	}

	path := PathBypass
	if fc.latestCaps.Has(caps.ReadCache) {
		path = PathCache
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanFileRead,
		telemetry.Ino(fc.ino), telemetry.Offset(off), telemetry.Count(len(dest)), telemetry.Path(path))
	defer span.End()

	start := time.Now()
	fc.numReading++
	defer fc.endRead(ctx)

	var (
		n   int
		err error
	)
	if path == PathCache {
		n, err = fc.readCached(ctx, off, dest)
	} else {
		n, err = fc.oc.AtomicSyncRead(fc.ino, off, dest)
	}

	fc.observe(ctx, "read", path, off, n, start, err)
	if err != nil {
		return n, fmt.Errorf("read ino %d at %d: %w", fc.ino, off, err)
	}
	return n, nil
}

// readCached issues the cache read and, if the cache cannot answer at once,
// sleeps on a private condition until its completion fires.
func (fc *FileCache) readCached(ctx context.Context, off int64, dest []byte) (int, error) {
	var (
		finished bool
		result   int
		rerr     error
	)
	cond := sync.NewCond(fc.lock)
	onfinish := completion.New("filecache.read", func(n int, err error) {
		result, rerr = n, err
		finished = true
		cond.Broadcast()
	})

	n, done, err := fc.oc.Read(fc.ino, off, dest, onfinish)
	if err != nil || done {
		onfinish.Discard()
		return n, err
	}

	waitStart := time.Now()
	for !finished {
		cond.Wait()
	}
	if fc.metrics != nil {
		fc.metrics.ObserveSuspend("read", time.Since(waitStart))
	}
	logger.DebugCtx(ctx, "read resumed",
		logger.Ino(fc.ino), logger.Offset(off), logger.DurationMs(logger.Duration(waitStart)))
	return result, rerr
}

func (fc *FileCache) endRead(ctx context.Context) {
	fc.numReading--
	if fc.numReading < 0 {
		panic(fmt.Sprintf("filecache: ino %d reader count went negative", fc.ino))
	}
	if fc.numReading == 0 && len(fc.callbacks) > 0 {
		fc.checkCaps(ctx)
	}
}

// Write writes data at off.
//
// With WriteBuffer granted the write first waits for the object cache to
// admit len(data) more dirty bytes, then buffers it and returns before it is
// durable. Without it the write goes synchronously to the backing store and
// is durable on return. The shared lock is held on entry and on return.
func (fc *FileCache) Write(ctx context.Context, off int64, data []byte) error {
	fc.assertOpen()
	if off < 0 {
		return fmt.Errorf("write ino %d at %d: %w", fc.ino, off, ErrInvalidOffset)
	}

	path := PathBypass
	if fc.latestCaps.Has(caps.WriteBuffer) {
		path = PathCache
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanFileWrite,
		telemetry.Ino(fc.ino), telemetry.Offset(off), telemetry.Count(len(data)), telemetry.Path(path))
	defer span.End()

	start := time.Now()
	fc.numWriting++
	defer fc.endWrite(ctx)

	var err error
	if path == PathCache {
		waitStart := time.Now()
		fc.oc.WaitForWrite(len(data))
		if fc.metrics != nil {
			fc.metrics.ObserveSuspend("write_admission", time.Since(waitStart))
		}
		err = fc.oc.Write(fc.ino, off, data)
	} else {
		err = fc.oc.AtomicSyncWrite(fc.ino, off, data)
	}

	fc.observe(ctx, "write", path, off, len(data), start, err)
	if err != nil {
		return fmt.Errorf("write ino %d at %d: %w", fc.ino, off, err)
	}
	return nil
}

func (fc *FileCache) endWrite(ctx context.Context) {
	fc.numWriting--
	if fc.numWriting < 0 {
		panic(fmt.Sprintf("filecache: ino %d writer count went negative", fc.ino))
	}
	if fc.numWriting == 0 && len(fc.callbacks) > 0 {
		fc.checkCaps(ctx)
	}
}

func (fc *FileCache) observe(ctx context.Context, op, path string, off int64, n int, start time.Time, err error) {
	if fc.metrics != nil {
		fc.metrics.ObserveIO(op, path, n, time.Since(start), err)
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.WarnCtx(ctx, op+" failed",
			logger.Ino(fc.ino), logger.Offset(off), logger.Path(path), logger.Err(err))
		return
	}
	logger.DebugCtx(ctx, op,
		logger.Ino(fc.ino), logger.Offset(off), logger.Bytes(int64(n)), logger.Path(path),
		logger.DurationMs(logger.Duration(start)))
}
