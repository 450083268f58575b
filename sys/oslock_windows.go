//go:build windows

package sys

import (
	"os"
	"time"

	"golang.org/x/sys/windows"
)

// AcquireOSFileLock attempts to acquire an exclusive lock on lockPath using
// LockFileEx on a single byte. The call retries until timeout.
func AcquireOSFileLock(lockPath string, timeout time.Duration) (func() error, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	h := windows.Handle(f.Fd())
	var ov windows.Overlapped

	deadline := time.Now().Add(timeout)
	for {
		err = windows.LockFileEx(h, windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, &ov)
		if err == nil {
			release := func() error {
				_ = windows.UnlockFileEx(h, 0, 1, 0, &ov)
				err := f.Close()
				_ = os.Remove(lockPath)
				return err
			}
			return release, nil
		}
		if time.Now().After(deadline) {
			_ = f.Close()
			return nil, &os.PathError{Op: "lock", Path: lockPath, Err: err}
		}
		time.Sleep(25 * time.Millisecond)
	}
}
