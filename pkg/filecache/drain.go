package filecache

import (
	"context"
	"fmt"

	"github.com/marmos91/filecache/internal/logger"
	"github.com/marmos91/filecache/internal/telemetry"
	"github.com/marmos91/filecache/pkg/completion"
)

// FlushDirty starts writing back every dirty byte of the file. onflush fires
// inline when there is nothing to flush, otherwise when the object cache
// finishes the write-back.
func (fc *FileCache) FlushDirty(ctx context.Context, onflush *completion.Completion) {
	fc.assertOpen()

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanFileFlush, telemetry.Ino(fc.ino))
	defer span.End()

	clean := fc.oc.FlushSet(fc.ino, onflush)
	telemetry.AddEvent(ctx, "flush_set", telemetry.Immediate(clean))
	logger.DebugCtx(ctx, "flush_dirty", logger.Ino(fc.ino), "clean", clean)
	if clean {
		onflush.Finish(0, nil)
	}
}

// ReleaseClean drops the clean cached data of the file. released is the
// number of bytes freed; unclean counts bytes kept because they are dirty or
// being committed.
func (fc *FileCache) ReleaseClean() (released, unclean int64) {
	fc.assertOpen()
	released, unclean = fc.oc.ReleaseSet(fc.ino)
	logger.Debug("release_clean", logger.Ino(fc.ino),
		logger.KeyReleased, released, logger.KeyUnclean, unclean)
	return released, unclean
}

// IsCached reports whether any data of the file is cached.
func (fc *FileCache) IsCached() bool {
	return fc.oc.IsCached(fc.ino)
}

// IsDirty reports whether the file has data that is dirty or being
// committed.
func (fc *FileCache) IsDirty() bool {
	return fc.oc.IsDirtyOrCommitting(fc.ino)
}

// Empty drives the file to a fully uncached, fully clean state: clean data
// is released and a flush of the remainder is started. onempty fires inline
// when nothing was dirty, otherwise once the flush lands.
//
// The release and the flush must agree on whether the file was clean;
// disagreement means the object cache broke its contract and panics.
func (fc *FileCache) Empty(ctx context.Context, onempty *completion.Completion) {
	fc.assertOpen()

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanFileEmpty, telemetry.Ino(fc.ino))
	defer span.End()

	released, unclean := fc.ReleaseClean()
	clean := fc.oc.FlushSet(fc.ino, onempty)

	if (unclean == 0) != clean {
		msg := fmt.Sprintf("filecache: empty ino %d: release left %d unclean bytes but flush reported clean=%t",
			fc.ino, unclean, clean)
		logger.ErrorCtx(ctx, msg, logger.KeyIno, fc.ino)
		panic(msg)
	}

	logger.DebugCtx(ctx, "empty", logger.Ino(fc.ino),
		logger.KeyReleased, released, logger.KeyUnclean, unclean, "clean", clean)
	telemetry.AddEvent(ctx, "flush_set", telemetry.Immediate(clean))
	if clean {
		onempty.Finish(0, nil)
	}
}

// AllSafe reports whether every write to the file is durable.
func (fc *FileCache) AllSafe() bool {
	return !fc.oc.IsDirtyOrCommitting(fc.ino)
}

// AddSafeWaiter registers onsafe to fire once every write to the file is
// durable. It fires inline if that is already the case.
func (fc *FileCache) AddSafeWaiter(onsafe *completion.Completion) {
	fc.assertOpen()
	if fc.oc.CommitSet(fc.ino, onsafe) {
		onsafe.Finish(0, nil)
	}
}
