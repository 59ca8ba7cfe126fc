package filecache

import "errors"

var (
	// ErrInvalidOffset is returned for reads and writes at a negative offset.
	ErrInvalidOffset = errors.New("invalid offset")
)
