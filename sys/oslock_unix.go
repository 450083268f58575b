//go:build unix

package sys

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// AcquireOSFileLock takes an advisory exclusive flock on lockPath, creating
// the file if needed. It retries until timeout elapses; a zero timeout makes
// a single attempt. The returned release function unlocks, closes and removes
// the lock file.
func AcquireOSFileLock(lockPath string, timeout time.Duration) (func() error, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	fd := int(f.Fd())
	deadline := time.Now().Add(timeout)
	for {
		err = unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			release := func() error {
				unlockErr := unix.Flock(fd, unix.LOCK_UN)
				closeErr := f.Close()
				_ = os.Remove(lockPath)
				return errors.Join(unlockErr, closeErr)
			}
			return release, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) || time.Now().After(deadline) {
			_ = f.Close()
			return nil, &os.PathError{Op: "flock", Path: lockPath, Err: err}
		}
		time.Sleep(25 * time.Millisecond)
	}
}
