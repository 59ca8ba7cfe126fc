package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys. Use them consistently so log lines from the ledger,
// the object cache and the grant driver can be correlated by inode.
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"
	KeyOp      = "op"
	KeyClient  = "client"

	// File identity and capabilities
	KeyIno     = "ino"
	KeyCaps    = "caps"
	KeyUsed    = "used"
	KeyIssued  = "issued"
	KeyWanted  = "wanted"
	KeyGroups  = "groups"
	KeyBreakID = "break_id"

	// I/O
	KeyOffset = "offset"
	KeyLength = "length"
	KeyBytes  = "bytes"
	KeyPath   = "path" // cache_path or bypass_path

	// Cache state
	KeyDirty    = "dirty_bytes"
	KeyClean    = "clean_bytes"
	KeyTx       = "tx_bytes"
	KeyBlocks   = "blocks"
	KeyReleased = "released"
	KeyUnclean  = "unclean"

	// Storage
	KeyStore  = "store"
	KeyKey    = "key"
	KeyBucket = "bucket"

	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// Ino returns a slog.Attr for an inode number.
func Ino(ino uint64) slog.Attr { return slog.Uint64(KeyIno, ino) }

// Caps returns a slog.Attr rendering a capability mask via its String method.
func Caps(c fmt.Stringer) slog.Attr { return slog.String(KeyCaps, c.String()) }

// Used returns a slog.Attr for the capabilities in active use.
func Used(c fmt.Stringer) slog.Attr { return slog.String(KeyUsed, c.String()) }

// Offset returns a slog.Attr for a file offset.
func Offset(off int64) slog.Attr { return slog.Int64(KeyOffset, off) }

// Length returns a slog.Attr for a byte count requested.
func Length(n int) slog.Attr { return slog.Int(KeyLength, n) }

// Bytes returns a slog.Attr for a byte count transferred.
func Bytes(n int64) slog.Attr { return slog.Int64(KeyBytes, n) }

// Path returns a slog.Attr naming the I/O path taken.
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }

// Store returns a slog.Attr naming a block store backend.
func Store(name string) slog.Attr { return slog.String(KeyStore, name) }

// Key returns a slog.Attr for a block key.
func Key(k string) slog.Attr { return slog.String(KeyKey, k) }

// DurationMs returns a slog.Attr for an elapsed time in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error; nil errors produce an empty attr
// which handlers skip.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
