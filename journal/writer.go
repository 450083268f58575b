package journal

import (
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MegAtonBoom/bookkeeper/channel"
	"github.com/MegAtonBoom/bookkeeper/core"
	"github.com/MegAtonBoom/bookkeeper/sys"
)

// Writer appends frames to a single journal file.
type Writer struct {
	id     int64
	path   string
	file   sys.FileHandle
	bc     *channel.BufferedChannel
	logger *slog.Logger

	mu           sync.Mutex
	closed       bool
	err          error
	synced       int64
	preallocSize int64
	preallocated int64
	maxSize      int64

	bytesWritten *expvar.Int
}

// CreateWriter creates journal id and writes its file header. It fails if the
// journal already exists.
func (j *Journal) CreateWriter(id int64) (*Writer, error) {
	if id < 0 {
		return nil, fmt.Errorf("create journal writer: %w: negative journal id %d", core.ErrIllegalArgument, id)
	}
	path := j.Path(id)
	file, err := sys.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal file %s: %w", path, err)
	}
	bc, err := channel.New(file, j.opts.WriteBufferSize, 0)
	if err != nil {
		file.Close()
		return nil, err
	}

	w := &Writer{
		id:           id,
		path:         path,
		file:         file,
		bc:           bc,
		logger:       j.logger.With("journal_id", id),
		preallocSize: j.opts.PreallocSize,
		maxSize:      j.opts.MaxJournalSize,
		bytesWritten: j.opts.BytesWritten,
	}

	header := core.NewFileHeader(core.JournalMagicNumber, core.CompressionNone)
	if _, err := bc.Write(header.Encode()); err != nil {
		bc.Close()
		return nil, fmt.Errorf("failed to write journal header to %s: %w", path, err)
	}
	w.preallocate(core.FileHeaderSize)

	w.logger.Debug("Created journal file", "path", path)
	return w, nil
}

// NextJournalID returns an id greater than every journal in the directory.
// Ids follow wall-clock milliseconds when the clock is ahead of the newest journal.
func (j *Journal) NextJournalID() (int64, error) {
	ids, err := ListJournalIDs(j.dir, nil)
	if err != nil {
		return 0, err
	}
	next := time.Now().UnixMilli()
	if len(ids) > 0 && ids[len(ids)-1] >= next {
		next = ids[len(ids)-1] + 1
	}
	return next, nil
}

// ID returns the journal id.
func (w *Writer) ID() int64 { return w.id }

// Path returns the journal file path.
func (w *Writer) Path() string { return w.path }

// Position returns the offset the next frame will be written at.
func (w *Writer) Position() int64 {
	return w.bc.Position()
}

// Err returns the write or sync error that failed the journal, if any. A
// failed journal may end in a partial frame and accepts no more entries.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// ShouldRoll reports whether the journal reached its maximum size.
func (w *Writer) ShouldRoll() bool {
	return w.maxSize > 0 && w.bc.Position() >= w.maxSize
}

// AddEntry appends one frame and returns the offset it starts at. The frame
// is durable only after the next Sync.
func (w *Writer) AddEntry(ledgerID, entryID uint64, payload []byte) (int64, error) {
	if payload == nil {
		return 0, fmt.Errorf("add entry: %w: payload is nil", core.ErrNullReference)
	}
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return 0, fmt.Errorf("add entry: %w: payload of %d bytes", core.ErrIllegalArgument, len(payload))
	}
	frame := EncodeFrame(ledgerID, entryID, payload)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, fmt.Errorf("add entry to journal %x: %w", w.id, os.ErrClosed)
	}
	if w.err != nil {
		return 0, fmt.Errorf("add entry to failed journal %x: %w", w.id, w.err)
	}

	offset := w.bc.Position()
	w.preallocate(offset + int64(len(frame)))
	if _, err := w.bc.Write(frame); err != nil {
		w.err = fmt.Errorf("failed to append frame to journal %x at offset %d: %w", w.id, offset, err)
		w.logger.Error("Journal write failed, no more entries will be accepted", "offset", offset, "error", err)
		return 0, w.err
	}
	if w.bytesWritten != nil {
		w.bytesWritten.Add(int64(len(frame)))
	}
	return offset, nil
}

// Flush writes buffered frames to the file without forcing them to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if err := w.bc.Flush(); err != nil {
		w.err = fmt.Errorf("failed to flush journal %x: %w", w.id, err)
		return w.err
	}
	return nil
}

// Sync forces every appended frame to stable storage.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if w.err != nil {
		return w.err
	}
	pos := w.bc.Position()
	if err := w.bc.Sync(); err != nil {
		w.err = fmt.Errorf("failed to sync journal %x: %w", w.id, err)
		return w.err
	}
	w.synced = pos
	return nil
}

// LogMark returns the position up to which the journal is durable. It stops
// advancing once the journal has failed.
func (w *Writer) LogMark() core.LogMark {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.synced < core.FileHeaderSize {
		return core.LogMark{JournalID: w.id, Offset: core.FileHeaderSize}
	}
	return core.LogMark{JournalID: w.id, Offset: w.synced}
}

// Close syncs and closes the journal. Closing twice is a no-op. A failed
// journal is closed without flushing what is left of its buffer, and Close
// reports only errors from closing the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.err != nil {
		return w.bc.Abandon()
	}
	pos := w.bc.Position()
	syncErr := w.bc.Sync()
	if syncErr == nil {
		w.synced = pos
	}
	closeErr := w.bc.Close()
	return errors.Join(syncErr, closeErr)
}

// preallocate reserves disk space once the journal is about to grow past the
// reserved region. Failures only disable preallocation for this writer.
func (w *Writer) preallocate(upTo int64) {
	if w.preallocSize <= 0 || upTo <= w.preallocated {
		return
	}
	target := w.preallocated + w.preallocSize
	for target < upTo {
		target += w.preallocSize
	}
	if err := sys.Preallocate(w.file, target); err != nil {
		if !errors.Is(err, sys.ErrPreallocNotSupported) {
			w.logger.Warn("Journal preallocation failed, disabling it", "target", target, "error", err)
		}
		w.preallocSize = 0
		return
	}
	w.preallocated = target
}
