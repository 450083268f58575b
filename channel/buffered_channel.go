// Package channel provides a buffered sequential view over a random-access
// file: writes accumulate in a bounded in-memory tail and reads at any offset
// are served from the file, from the tail, or from both.
package channel

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/MegAtonBoom/bookkeeper/core"
	"github.com/MegAtonBoom/bookkeeper/sys"
)

// BufferedChannel presents one logical byte stream backed by a file where the
// most recent bytes may still live only in memory.
//
// A single goroutine may write. Reads may run concurrently with the writer:
// each Read takes one atomic snapshot of the buffer start position and decides
// from it which part of the range comes from the file.
type BufferedChannel struct {
	file     sys.FileHandle
	capacity int

	// mu serialises the writer and guards writeBuffer.
	mu          sync.Mutex
	writeBuffer []byte
	closed      bool

	// writeBufferStartPosition is the file offset of writeBuffer[0]. Bytes
	// below it are on the file handle. It is published only after a flush.
	writeBufferStartPosition atomic.Int64
	// position is the total addressable length. It only grows, and always
	// satisfies position >= writeBufferStartPosition.
	position atomic.Int64
}

// New wraps file. Writes are buffered up to capacity bytes and the first
// buffered byte lives at startPosition. All three arguments are required.
func New(file sys.FileHandle, capacity int, startPosition int64) (*BufferedChannel, error) {
	if file == nil {
		return nil, fmt.Errorf("new buffered channel: %w: file handle is nil", core.ErrNullReference)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("new buffered channel: %w: capacity %d", core.ErrIllegalArgument, capacity)
	}
	if startPosition < 0 {
		return nil, fmt.Errorf("new buffered channel: %w: start position %d", core.ErrIllegalArgument, startPosition)
	}
	bc := &BufferedChannel{
		file:        file,
		capacity:    capacity,
		writeBuffer: make([]byte, 0, capacity),
	}
	bc.writeBufferStartPosition.Store(startPosition)
	bc.position.Store(startPosition)
	return bc, nil
}

// Capacity returns the size of the write buffer.
func (bc *BufferedChannel) Capacity() int {
	return bc.capacity
}

// FileChannelPosition returns the offset up to which bytes are on the file.
func (bc *BufferedChannel) FileChannelPosition() int64 {
	return bc.writeBufferStartPosition.Load()
}

// Position returns the total addressable length: flushed plus buffered bytes.
func (bc *BufferedChannel) Position() int64 {
	return bc.position.Load()
}

// BufferedBytes returns how many bytes are waiting in memory.
func (bc *BufferedChannel) BufferedBytes() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.writeBuffer)
}

// Write appends p to the stream. When the buffer is full and bytes are still
// pending, the buffer is written to the file first. It always consumes all of
// p unless the file write fails.
func (bc *BufferedChannel) Write(p []byte) (int, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.closed {
		return 0, fmt.Errorf("buffered channel write: %w", io.ErrClosedPipe)
	}

	written := 0
	for written < len(p) {
		if len(bc.writeBuffer) == bc.capacity {
			if err := bc.flushLocked(); err != nil {
				return written, err
			}
		}
		n := copy(bc.writeBuffer[len(bc.writeBuffer):bc.capacity], p[written:])
		bc.writeBuffer = bc.writeBuffer[:len(bc.writeBuffer)+n]
		bc.position.Add(int64(n))
		written += n
	}
	return written, nil
}

// Flush writes the buffered bytes to the file and advances the start position.
func (bc *BufferedChannel) Flush() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.flushLocked()
}

func (bc *BufferedChannel) flushLocked() error {
	if len(bc.writeBuffer) == 0 {
		return nil
	}
	start := bc.writeBufferStartPosition.Load()
	n, err := bc.file.WriteAt(bc.writeBuffer, start)
	if err != nil {
		return fmt.Errorf("flush %d bytes at offset %d: %w", len(bc.writeBuffer), start, err)
	}
	if n != len(bc.writeBuffer) {
		return fmt.Errorf("flush at offset %d: wrote %d of %d bytes: %w", start, n, len(bc.writeBuffer), io.ErrShortWrite)
	}
	bc.writeBufferStartPosition.Store(start + int64(n))
	bc.writeBuffer = bc.writeBuffer[:0]
	return nil
}

// Sync flushes the buffer and forces the file contents to stable storage.
func (bc *BufferedChannel) Sync() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if err := bc.flushLocked(); err != nil {
		return err
	}
	return bc.file.Sync()
}

// Read copies length bytes starting at pos into dst and returns length.
//
// dst must be non-nil and at least length bytes long; pos must lie within
// [0, Position()] and pos+length must not pass Position(). Any request that
// cannot be filled completely fails: a partial count is never returned.
func (bc *BufferedChannel) Read(dst []byte, pos int64, length int) (int, error) {
	if dst == nil {
		return 0, fmt.Errorf("buffered channel read: %w: destination is nil", core.ErrNullReference)
	}
	if pos < 0 {
		return 0, fmt.Errorf("buffered channel read: %w: negative position %d", core.ErrIllegalArgument, pos)
	}

	// Load the start before the end so that snapshot <= total holds.
	snapshot := bc.writeBufferStartPosition.Load()
	total := bc.position.Load()
	if pos > total {
		return 0, fmt.Errorf("buffered channel read: %w: position %d past addressable length %d", core.ErrOutOfRange, pos, total)
	}
	if length < 0 {
		return 0, fmt.Errorf("buffered channel read: %w: negative length %d", core.ErrIllegalArgument, length)
	}
	if int64(length) > total-pos {
		return 0, fmt.Errorf("buffered channel read: %w: %d bytes requested at %d, %d available", core.ErrShortRead, length, pos, total-pos)
	}
	if length > len(dst) {
		return 0, fmt.Errorf("buffered channel read: %w: destination holds %d bytes, %d requested", core.ErrShortRead, len(dst), length)
	}

	end := pos + int64(length)
	switch {
	case pos >= snapshot:
		if err := bc.readBuffered(dst[:length], pos); err != nil {
			return 0, err
		}
	case end <= snapshot:
		if err := bc.readFile(dst[:length], pos); err != nil {
			return 0, err
		}
	default:
		fromFile := int(snapshot - pos)
		if err := bc.readFile(dst[:fromFile], pos); err != nil {
			return 0, err
		}
		if err := bc.readBuffered(dst[fromFile:length], snapshot); err != nil {
			return 0, err
		}
	}
	return length, nil
}

// readBuffered copies len(dst) bytes at pos out of the write buffer. A flush
// may have advanced the buffer start since the caller's snapshot; whatever now
// lies below the start is on the file and is read from there.
func (bc *BufferedChannel) readBuffered(dst []byte, pos int64) error {
	if len(dst) == 0 {
		return nil
	}
	bc.mu.Lock()
	start := bc.writeBufferStartPosition.Load()
	end := pos + int64(len(dst))
	if end > start {
		head := 0
		if pos < start {
			head = int(start - pos)
		}
		off := int(pos + int64(head) - start)
		n := len(dst) - head
		if off+n > len(bc.writeBuffer) {
			bc.mu.Unlock()
			return fmt.Errorf("buffered channel read: %w: buffer holds %d bytes, need %d", core.ErrShortRead, len(bc.writeBuffer), off+n)
		}
		copy(dst[head:], bc.writeBuffer[off:off+n])
		dst = dst[:head]
	}
	bc.mu.Unlock()
	return bc.readFile(dst, pos)
}

// readFile fills dst from the file at pos, looping over short reads.
func (bc *BufferedChannel) readFile(dst []byte, pos int64) error {
	read := 0
	for read < len(dst) {
		n, err := bc.file.ReadAt(dst[read:], pos+int64(read))
		read += n
		if read == len(dst) {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("buffered channel read: %w: end of file after %d of %d bytes at offset %d", core.ErrShortRead, read, len(dst), pos)
			}
			return fmt.Errorf("buffered channel read at offset %d: %w", pos+int64(read), err)
		}
		if n == 0 {
			return fmt.Errorf("buffered channel read: %w: no progress at offset %d", core.ErrShortRead, pos+int64(read))
		}
	}
	return nil
}

// Close flushes pending bytes and closes the file. Closing twice is a no-op.
func (bc *BufferedChannel) Close() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.closed {
		return nil
	}
	bc.closed = true
	flushErr := bc.flushLocked()
	closeErr := bc.file.Close()
	return errors.Join(flushErr, closeErr)
}

// Abandon drops the buffered bytes and closes the file.
func (bc *BufferedChannel) Abandon() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.closed {
		return nil
	}
	bc.closed = true
	bc.writeBuffer = bc.writeBuffer[:0]
	return bc.file.Close()
}
