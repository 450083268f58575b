package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Error classes surfaced by the channel and journal layers. Callers match them
// with errors.Is; the concrete error usually wraps one of these with context.
var (
	// ErrNullReference reports that a required argument was absent.
	ErrNullReference = errors.New("null reference")
	// ErrIllegalArgument reports a negative or otherwise invalid offset or length.
	ErrIllegalArgument = errors.New("illegal argument")
	// ErrOutOfRange reports an offset beyond the addressable data.
	ErrOutOfRange = errors.New("offset out of range")
	// ErrShortRead reports a read that cannot be satisfied in full.
	ErrShortRead = errors.New("short read")
	// ErrCorruption reports an internally inconsistent frame.
	ErrCorruption = errors.New("journal corruption")
	// ErrNotFound reports that a journal id has no file.
	ErrNotFound = errors.New("journal not found")
)

// JournalError decorates a failure with the journal and offset it happened at.
type JournalError struct {
	JournalID int64
	Offset    int64
	Op        string
	Err       error
}

func (e *JournalError) Error() string {
	return fmt.Sprintf("journal %x: %s at offset %d: %v", e.JournalID, e.Op, e.Offset, e.Err)
}

func (e *JournalError) Unwrap() error {
	return e.Err
}

// IsIOError reports whether err belongs to the IO class: short reads, offsets
// past the end of a file and failures returned by the file system itself.
func IsIOError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrShortRead) || errors.Is(err, ErrOutOfRange) {
		return true
	}
	var pathErr *fs.PathError
	var linkErr *os.LinkError
	return errors.As(err, &pathErr) || errors.As(err, &linkErr)
}

// IsJournalError checks if an error is a JournalError.
func IsJournalError(err error) bool {
	var journalError *JournalError
	return errors.As(err, &journalError)
}
