//go:build unix

package sys

import (
	"os"
)

// unixFile implements File for Unix-like systems, using the os package directly.
type unixFile struct{}

// NewFile returns the platform-specific File.
func NewFile() File {
	return &unixFile{}
}

// OpenFile simply calls os.OpenFile, as Unix-like systems allow deleting and
// renaming files that are still open.
func (uf *unixFile) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}

func (uf *unixFile) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

func (uf *unixFile) Remove(name string) error {
	return os.Remove(name)
}
