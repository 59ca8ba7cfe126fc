package objectcache

import "errors"

var (
	// ErrCacheClosed is returned by operations on a closed cache and passed
	// to completions that could not be honored before shutdown.
	ErrCacheClosed = errors.New("object cache is closed")

	// ErrInvalidOffset is returned for negative offsets.
	ErrInvalidOffset = errors.New("invalid offset")
)
