package testutil

import (
	"errors"
	"os"
	"sync/atomic"
	"testing"

	"github.com/MegAtonBoom/bookkeeper/sys"
)

// ErrInjectedWrite is returned by WriteAt on files opened while write faults
// are enabled.
var ErrInjectedWrite = errors.New("injected write failure: no space left on device")

// WriteFaults switches injected WriteAt failures on and off.
type WriteFaults struct {
	fail atomic.Bool
}

// Fail makes every later WriteAt fail until Heal is called.
func (w *WriteFaults) Fail() { w.fail.Store(true) }

// Heal lets WriteAt reach the file again.
func (w *WriteFaults) Heal() { w.fail.Store(false) }

type faultyFile struct {
	sys.FileHandle
	faults *WriteFaults
}

func (f *faultyFile) WriteAt(p []byte, off int64) (int, error) {
	if f.faults.fail.Load() {
		return 0, ErrInjectedWrite
	}
	return f.FileHandle.WriteAt(p, off)
}

// InjectWriteFaults wraps every file opened through sys.OpenFile for the rest
// of the test so that its writes can be made to fail. Tests using it must not
// run in parallel.
func InjectWriteFaults(t testing.TB) *WriteFaults {
	t.Helper()
	faults := &WriteFaults{}
	orig := sys.OpenFile
	sys.OpenFile = func(name string, flag int, perm os.FileMode) (sys.FileHandle, error) {
		f, err := orig(name, flag, perm)
		if err != nil {
			return nil, err
		}
		return &faultyFile{FileHandle: f, faults: faults}, nil
	}
	t.Cleanup(func() { sys.OpenFile = orig })
	return faults
}
