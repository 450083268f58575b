//go:build linux

package sys

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Preallocate reserves size bytes of disk blocks for f without changing its
// visible length (FALLOC_FL_KEEP_SIZE). Journal scans rely on the file length
// matching the bytes actually written, so a fallocate that would grow the file
// is never attempted.
func Preallocate(f FileHandle, size int64) error {
	if size <= 0 {
		return nil
	}
	fg, ok := f.(interface{ Fd() uintptr })
	if !ok {
		return ErrPreallocNotSupported
	}
	fd := int(fg.Fd())

	var stat unix.Stat_t
	var dev uint64
	if err := unix.Fstat(fd, &stat); err == nil {
		dev = uint64(stat.Dev)
		if allow, found := preallocCacheLoad(dev); found {
			preallocCacheHits.Add(1)
			if !allow {
				return ErrPreallocNotSupported
			}
		} else {
			preallocCacheMisses.Add(1)
		}
	}

	err := unix.Fallocate(fd, unix.FALLOC_FL_KEEP_SIZE, 0, size)
	if err == nil {
		if dev != 0 {
			preallocCacheStore(dev, true)
		}
		return nil
	}
	if errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EINVAL) || errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOTTY) {
		if dev != 0 {
			preallocCacheStore(dev, false)
		}
		return ErrPreallocNotSupported
	}
	return fmt.Errorf("preallocation failed for %s: %w", f.Name(), err)
}
