package sys

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPreallocNotSupported is returned when the underlying file or filesystem
// does not support preallocation. Callers treat it as informational.
var ErrPreallocNotSupported = errors.New("preallocation not supported")

// preallocCache remembers, per device id, whether fallocate worked there.
var preallocCache sync.Map

var (
	preallocCacheHits   atomic.Uint64
	preallocCacheMisses atomic.Uint64
)

func preallocCacheLoad(dev uint64) (allowed bool, found bool) {
	if v, ok := preallocCache.Load(dev); ok {
		if b, ok2 := v.(bool); ok2 {
			return b, true
		}
	}
	return false, false
}

func preallocCacheStore(dev uint64, allowed bool) {
	preallocCache.Store(dev, allowed)
}

// PreallocCacheStats returns the preallocation cache hit and miss counters.
func PreallocCacheStats() (hits uint64, misses uint64) {
	return preallocCacheHits.Load(), preallocCacheMisses.Load()
}
