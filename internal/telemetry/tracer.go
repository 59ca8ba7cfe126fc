package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys.
const (
	AttrIno      = "fs.ino"
	AttrOffset   = "fs.offset"
	AttrCount    = "fs.count"
	AttrBytes    = "fs.bytes"
	AttrPath     = "filecache.path" // cache or bypass
	AttrCaps     = "filecache.caps"
	AttrUsed     = "filecache.used"
	AttrFired    = "filecache.callbacks_fired"
	AttrImmed    = "filecache.immediate"
	AttrBlocks   = "cache.blocks"
	AttrStore    = "store.type"
	AttrKey      = "storage.key"
	AttrBreakID  = "grant.break_id"
	AttrScenario = "scenario.name"
)

// Span names. Format: <component>.<operation>
const (
	SpanFileRead    = "filecache.read"
	SpanFileWrite   = "filecache.write"
	SpanFileSetCaps = "filecache.set_caps"
	SpanFileEmpty   = "filecache.empty"
	SpanFileFlush   = "filecache.flush"

	SpanCacheFetch = "objectcache.fetch"
	SpanCacheFlush = "objectcache.flush"

	SpanStoreRead  = "store.read"
	SpanStoreWrite = "store.write"

	SpanGrantRevoke = "grant.revoke"
	SpanScenarioRun = "scenario.run"
)

// Ino returns an attribute for an inode number.
func Ino(ino uint64) attribute.KeyValue {
	return attribute.Int64(AttrIno, int64(ino))
}

// Offset returns an attribute for an I/O offset.
func Offset(off int64) attribute.KeyValue {
	return attribute.Int64(AttrOffset, off)
}

// Count returns an attribute for a requested byte count.
func Count(n int) attribute.KeyValue {
	return attribute.Int(AttrCount, n)
}

// Bytes returns an attribute for a transferred byte count.
func Bytes(n int) attribute.KeyValue {
	return attribute.Int(AttrBytes, n)
}

// Path returns an attribute naming the I/O path taken.
func Path(p string) attribute.KeyValue {
	return attribute.String(AttrPath, p)
}

// Caps returns an attribute for a capability mask rendered as a string.
func Caps(s string) attribute.KeyValue {
	return attribute.String(AttrCaps, s)
}

// Used returns an attribute for the capabilities in active use.
func Used(s string) attribute.KeyValue {
	return attribute.String(AttrUsed, s)
}

// Immediate returns an attribute telling whether a completion fired inline.
func Immediate(b bool) attribute.KeyValue {
	return attribute.Bool(AttrImmed, b)
}

// Blocks returns an attribute for a block count.
func Blocks(n int) attribute.KeyValue {
	return attribute.Int(AttrBlocks, n)
}

// StoreType returns an attribute naming a block store backend.
func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStore, t)
}

// Key returns an attribute for a storage key.
func Key(k string) attribute.KeyValue {
	return attribute.String(AttrKey, k)
}

// BreakID returns an attribute for a grant break identifier.
func BreakID(id string) attribute.KeyValue {
	return attribute.String(AttrBreakID, id)
}

// Scenario returns an attribute for a scenario name.
func Scenario(name string) attribute.KeyValue {
	return attribute.String(AttrScenario, name)
}
