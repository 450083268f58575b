package sys

import (
	"io"
	"os"
	"sync/atomic"
)

// fileWrapper is a stable concrete type used to store the File interface
// inside an atomic.Value, which requires every stored value to share one
// concrete type.
type fileWrapper struct {
	f File
}

var defaultFile atomic.Value // stores fileWrapper

// File abstracts the platform-specific way files are opened and removed.
type File interface {
	OpenFile(name string, flag int, perm os.FileMode) (*os.File, error)
	Rename(oldpath, newpath string) error
	Remove(name string) error
}

// FileHandle is the subset of *os.File the bookie I/O layer depends on.
type FileHandle interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.WriterAt
	io.Seeker

	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Name() string
}

type CreateHandler func(name string) (FileHandle, error)
type OpenHandler func(name string) (FileHandle, error)
type OpenFileHandler func(name string, flag int, perm os.FileMode) (FileHandle, error)
type RenameHandler func(oldpath, newpath string) error
type RemoveHandler func(name string) error

func init() {
	defaultFile.Store(fileWrapper{f: NewFile()})
}

// SetDefaultFile swaps the platform implementation, mostly for tests that
// need to inject failures.
func SetDefaultFile(file File) {
	defaultFile.Store(fileWrapper{f: file})
}

func loadFile() (File, error) {
	fw, ok := defaultFile.Load().(fileWrapper)
	if !ok || fw.f == nil {
		return nil, os.ErrInvalid
	}
	return fw.f, nil
}

var Create CreateHandler = func(name string) (FileHandle, error) {
	return OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
}

var Open OpenHandler = func(name string) (FileHandle, error) {
	return OpenFile(name, os.O_RDONLY, 0)
}

var OpenFile OpenFileHandler = func(name string, flag int, perm os.FileMode) (FileHandle, error) {
	file, err := loadFile()
	if err != nil {
		return nil, err
	}
	return ROpenFile(file, name, flag, perm)
}

var Rename RenameHandler = func(oldpath, newpath string) error {
	file, err := loadFile()
	if err != nil {
		return err
	}
	return file.Rename(oldpath, newpath)
}

var Remove RemoveHandler = func(name string) error {
	file, err := loadFile()
	if err != nil {
		return err
	}
	return file.Remove(name)
}
