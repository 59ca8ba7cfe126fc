package filecache

import (
	"context"
	"fmt"
	"slices"

	"github.com/marmos91/filecache/internal/logger"
	"github.com/marmos91/filecache/internal/telemetry"
	"github.com/marmos91/filecache/pkg/caps"
	"github.com/marmos91/filecache/pkg/completion"
)

// SetCaps installs a new capability mask.
//
// When onimplement is non-nil the change must drop at least one capability
// the file held before; onimplement is queued under mask and fires once
// CheckCaps judges its group satisfied. Passing a completion for a change
// that loses nothing panics.
func (fc *FileCache) SetCaps(ctx context.Context, mask caps.Cap, onimplement *completion.Completion) {
	fc.assertOpen()

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanFileSetCaps,
		telemetry.Ino(fc.ino), telemetry.Caps(mask.String()))
	defer span.End()

	old := fc.latestCaps
	lost := old.Lost(mask)

	if onimplement != nil {
		if lost == caps.None {
			msg := fmt.Sprintf("filecache: ino %d set_caps %s -> %s with completion %q loses no capability",
				fc.ino, old, mask, onimplement.Name())
			logger.ErrorCtx(ctx, msg, logger.KeyIno, fc.ino)
			panic(msg)
		}
		fc.callbacks[mask] = append(fc.callbacks[mask], onimplement)
	}

	fc.latestCaps = mask
	if fc.metrics != nil {
		fc.metrics.RecordCapsChange(lost)
	}

	logger.DebugCtx(ctx, "set_caps",
		logger.Ino(fc.ino), "from", old.String(), logger.Caps(mask),
		"lost", lost.String(), "waiting", onimplement != nil)

	fc.checkCaps(ctx)
}

// CheckCaps re-evaluates the pending downgrade callbacks against the
// capabilities the file currently relies on and fires every satisfied group.
//
// It runs automatically after SetCaps and when the last reader or writer
// leaves. Drivers call it directly after a flush or release lands, since the
// object cache state it inspects changes outside this type.
func (fc *FileCache) CheckCaps() {
	fc.assertOpen()
	fc.checkCaps(context.Background())
}

// Used returns the capabilities the file's current state requires.
func (fc *FileCache) Used() caps.Cap {
	var used caps.Cap
	if fc.numReading > 0 {
		used |= caps.Read
	}
	if fc.oc.IsCached(fc.ino) {
		used |= caps.ReadCache
	}
	if fc.numWriting > 0 {
		used |= caps.Write
	}
	if fc.oc.IsDirtyOrCommitting(fc.ino) {
		used |= caps.WriteBuffer
	}
	return used
}

// checkCaps fires every group whose key lacks a bit of used.
//
// NOTE: the rule fires when usage reaches beyond the key, which reads as the
// opposite of "the downgrade has taken effect". It is kept as is; callers
// rely on its exact behavior. See DESIGN.md.
//
// Groups are visited in ascending key order so firing is deterministic. Each
// group is detached from the table before its handlers run: a handler may
// re-enter SetCaps or CheckCaps under the same lock, and must not see or fire
// the group a second time.
func (fc *FileCache) checkCaps(ctx context.Context) {
	if len(fc.callbacks) == 0 {
		return
	}

	used := fc.Used()

	keys := make([]caps.Cap, 0, len(fc.callbacks))
	for k := range fc.callbacks {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	fired := 0
	for _, key := range keys {
		list, ok := fc.callbacks[key]
		if !ok {
			// Already fired by a nested re-evaluation.
			continue
		}
		if used&^key == 0 {
			logger.DebugCtx(ctx, "check_caps: waiting",
				logger.Ino(fc.ino), logger.Used(used), "key", key.String(),
				logger.KeyGroups, len(list))
			continue
		}

		delete(fc.callbacks, key)
		logger.DebugCtx(ctx, "check_caps: firing",
			logger.Ino(fc.ino), logger.Used(used), "key", key.String(),
			logger.KeyGroups, len(list))
		completion.FinishAll(list, 0, nil)
		fired += len(list)
	}

	if fired > 0 {
		telemetry.AddEvent(ctx, "callbacks fired", telemetry.Used(used.String()))
		if fc.metrics != nil {
			fc.metrics.RecordCallbacksFired(fired)
		}
	}
}
