package sys

import "errors"

// ErrOSFileLockNotSupported is returned by AcquireOSFileLock on platforms
// without advisory file locks.
var ErrOSFileLockNotSupported = errors.New("OS file locking not supported on this platform")
