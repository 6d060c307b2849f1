package cache

import "errors"

// Sentinel kinds for cache errors.
var (
	ErrCorruptEntry = errors.New("cache entry is not a score")
	ErrUnknownKind  = errors.New("unknown cache backend")
)
