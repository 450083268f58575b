//go:build windows

package sys

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/windows"
)

// windowsFile implements File for Windows. Renames and removals are retried
// because another handle (an indexer, an antivirus) may briefly hold the file.
type windowsFile struct{}

const (
	windowsRetries       = 5
	windowsRetryInterval = 50 * time.Millisecond
)

// NewFile returns the platform-specific File.
func NewFile() File {
	return &windowsFile{}
}

func (wf *windowsFile) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}

func (wf *windowsFile) Rename(oldpath, newpath string) error {
	return retrySharingViolation(func() error { return os.Rename(oldpath, newpath) })
}

func (wf *windowsFile) Remove(name string) error {
	return retrySharingViolation(func() error { return os.Remove(name) })
}

func retrySharingViolation(op func() error) error {
	var err error
	for i := 0; i < windowsRetries; i++ {
		err = op()
		if err == nil || !errors.Is(err, windows.ERROR_SHARING_VIOLATION) && !errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return err
		}
		time.Sleep(windowsRetryInterval * time.Duration(1<<i))
	}
	return err
}
