// Package block defines the backing store the object cache writes blocks to
// and reads them back from.
package block

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Common errors returned by Store implementations.
var (
	// ErrBlockNotFound is returned when a requested block doesn't exist.
	ErrBlockNotFound = errors.New("block not found")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrInvalidKey is returned by ParseKey for keys not built by Key.
	ErrInvalidKey = errors.New("invalid block key")
)

// Store is a flat key/value store of whole blocks.
//
// Implementations must be safe for concurrent use; the object cache calls
// them from flusher and fetch goroutines without holding the client lock.
type Store interface {
	// WriteBlock stores data under key, replacing any previous block.
	// Implementations must not retain data after returning.
	WriteBlock(ctx context.Context, key string, data []byte) error

	// ReadBlock returns a copy of the block stored under key.
	// Returns ErrBlockNotFound if the block doesn't exist.
	ReadBlock(ctx context.Context, key string) ([]byte, error)

	// DeleteByPrefix removes every block whose key starts with prefix.
	// InoPrefix(ino) selects all blocks of one file.
	DeleteByPrefix(ctx context.Context, prefix string) error

	// ListByPrefix lists block keys starting with prefix in ascending order.
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources held by the store.
	Close() error

	// HealthCheck returns nil if the store is reachable and open.
	HealthCheck(ctx context.Context) error
}

// Key returns the storage key of block idx of file ino.
//
// Format: "{ino:016x}/block-{idx:08d}". The fixed-width fields keep
// lexicographic and numeric order identical.
func Key(ino uint64, idx uint64) string {
	return fmt.Sprintf("%016x/block-%08d", ino, idx)
}

// InoPrefix returns the key prefix shared by all blocks of ino.
func InoPrefix(ino uint64) string {
	return fmt.Sprintf("%016x/", ino)
}

// ParseKey is the inverse of Key.
func ParseKey(key string) (ino uint64, idx uint64, err error) {
	inoPart, blockPart, ok := strings.Cut(key, "/")
	if !ok || len(inoPart) != 16 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	idxPart, ok := strings.CutPrefix(blockPart, "block-")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	ino, err = strconv.ParseUint(inoPart, 16, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	idx, err = strconv.ParseUint(idxPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return ino, idx, nil
}
