// Package journal reads and writes bookie journal files: the write-ahead
// log a bookie appends every entry to before acknowledging it, and replays
// after a restart.
package journal

import (
	"bytes"
	"context"
	"errors"
	"expvar"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/MegAtonBoom/bookkeeper/channel"
	"github.com/MegAtonBoom/bookkeeper/core"
	"github.com/MegAtonBoom/bookkeeper/hooks"
	"github.com/MegAtonBoom/bookkeeper/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultReadBufferSize is the channel capacity used while scanning.
	DefaultReadBufferSize = 64 * 1024
	// DefaultWriteBufferSize is the channel capacity used by writers.
	DefaultWriteBufferSize = 64 * 1024
	// DefaultMaxJournalSize is the size after which a writer rolls to a new journal.
	DefaultMaxJournalSize = 2 * 1024 * 1024 * 1024
	// DefaultPreallocSize is how much disk space a writer reserves ahead of its position.
	DefaultPreallocSize = 16 * 1024 * 1024
)

// ScanState is the state of a single journal scan.
type ScanState int

const (
	ScanOpening ScanState = iota
	ScanScanning
	ScanCompleted
	ScanAborted
)

func (s ScanState) String() string {
	switch s {
	case ScanOpening:
		return "opening"
	case ScanScanning:
		return "scanning"
	case ScanCompleted:
		return "completed"
	case ScanAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ScanResult reports how a scan ended.
type ScanResult struct {
	JournalID   int64
	StartOffset int64
	// EndOffset is the offset right after the last frame delivered, or the
	// first frame offset when none was.
	EndOffset int64
	Frames    int
	// Truncated is set when the file ended inside a frame.
	Truncated bool
	State     ScanState
}

// Options configures a Journal.
type Options struct {
	// Dir holds the journal files, usually <journalDir>/current.
	Dir             string
	ReadBufferSize  int
	WriteBufferSize int
	MaxJournalSize  int64
	PreallocSize    int64

	BytesWritten   *expvar.Int
	FramesReplayed *expvar.Int
	Truncations    *expvar.Int

	Logger      *slog.Logger
	HookManager hooks.HookManager
	Tracer      trace.Tracer
}

// Journal gives access to the journal files of one directory.
type Journal struct {
	dir    string
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
	hooks  hooks.HookManager
}

// New returns a Journal over opts.Dir. The directory must already exist.
func New(opts Options) (*Journal, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "Journal_default")
	} else {
		opts.Logger = opts.Logger.With("component", "Journal")
	}
	if opts.Dir == "" {
		return nil, fmt.Errorf("new journal: %w: directory is required", core.ErrNullReference)
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}
	if opts.WriteBufferSize <= 0 {
		opts.WriteBufferSize = DefaultWriteBufferSize
	}
	if opts.MaxJournalSize <= 0 {
		opts.MaxJournalSize = DefaultMaxJournalSize
	}
	if opts.PreallocSize < 0 {
		opts.PreallocSize = 0
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("journal")
	}
	if opts.HookManager == nil {
		opts.HookManager = hooks.NewHookManager(opts.Logger)
	}

	info, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("new journal: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("new journal: %s is not a directory", opts.Dir)
	}

	return &Journal{
		dir:    opts.Dir,
		opts:   opts,
		logger: opts.Logger,
		tracer: opts.Tracer,
		hooks:  opts.HookManager,
	}, nil
}

// Dir returns the directory holding the journal files.
func (j *Journal) Dir() string {
	return j.dir
}

// Path returns the file path of journal id.
func (j *Journal) Path(id int64) string {
	return filepath.Join(j.dir, core.FormatJournalFileName(id))
}

// ListJournalIDs returns the ids of the journal files in dir in ascending
// order. When filter is non-nil only ids it accepts are returned.
func ListJournalIDs(dir string, filter func(id int64) bool) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal directory %s: %w", dir, err)
	}
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, err := core.ParseJournalFileName(e.Name())
		if err != nil {
			continue
		}
		if filter == nil || filter(id) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids, nil
}

// ScanJournal scans journal journalID from startOffset, calling scanner for
// every complete frame, and returns the offset it reached.
func (j *Journal) ScanJournal(journalID int64, startOffset int64, scanner Scanner) (int64, error) {
	res, err := j.Scan(context.Background(), journalID, startOffset, scanner)
	if err != nil {
		return 0, err
	}
	return res.EndOffset, nil
}

// Scan is ScanJournal with a context and a detailed result. The context is
// checked between frames.
//
// A file that ends inside a frame is not an error: the scan stops before that
// frame and the result is marked Truncated.
func (j *Journal) Scan(ctx context.Context, journalID int64, startOffset int64, scanner Scanner) (ScanResult, error) {
	ctx, span := j.tracer.Start(ctx, "Journal.Scan")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("journal.id", journalID),
		attribute.Int64("journal.start_offset", startOffset),
	)

	res := ScanResult{JournalID: journalID, StartOffset: startOffset, EndOffset: startOffset, State: ScanOpening}
	res, err := j.scan(ctx, res, scanner)
	if err != nil {
		res.State = ScanAborted
		span.RecordError(err)
		span.SetStatus(codes.Error, "journal_scan_failed")
	}
	span.SetAttributes(
		attribute.Int64("journal.end_offset", res.EndOffset),
		attribute.Int("journal.frames", res.Frames),
		attribute.Bool("journal.truncated", res.Truncated),
	)

	if j.opts.FramesReplayed != nil {
		j.opts.FramesReplayed.Add(int64(res.Frames))
	}
	if res.Truncated && j.opts.Truncations != nil {
		j.opts.Truncations.Add(1)
	}

	payload := hooks.PostJournalScanPayload{
		JournalID:   journalID,
		StartOffset: startOffset,
		EndOffset:   res.EndOffset,
		Frames:      res.Frames,
		Truncated:   res.Truncated,
		Error:       err,
	}
	_ = j.hooks.Trigger(ctx, hooks.NewPostJournalScanEvent(payload))

	return res, err
}

func (j *Journal) scan(ctx context.Context, res ScanResult, scanner Scanner) (ScanResult, error) {
	id := res.JournalID
	abort := func(op string, offset int64, err error) (ScanResult, error) {
		return res, &core.JournalError{JournalID: id, Offset: offset, Op: op, Err: err}
	}

	if scanner == nil {
		return abort("scan", res.StartOffset, fmt.Errorf("%w: scanner is nil", core.ErrNullReference))
	}
	if res.StartOffset < 0 {
		return abort("scan", res.StartOffset, fmt.Errorf("%w: negative start offset", core.ErrIllegalArgument))
	}

	path := j.Path(id)
	file, err := sys.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return abort("open", res.StartOffset, fmt.Errorf("%w: %s", core.ErrNotFound, path))
		}
		return abort("open", res.StartOffset, err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return abort("stat", res.StartOffset, err)
	}
	size := stat.Size()

	// The channel starts at the end of the file so every read is served from disk.
	bc, err := channel.New(file, j.opts.ReadBufferSize, size)
	if err != nil {
		file.Close()
		return abort("open", res.StartOffset, err)
	}
	defer bc.Close()

	if res.StartOffset > size {
		return abort("scan", res.StartOffset, fmt.Errorf("%w: start offset %d beyond file length %d", core.ErrOutOfRange, res.StartOffset, size))
	}

	if size < core.FileHeaderSize {
		j.logger.Warn("Journal file ends inside its header", "journal_id", id, "size", size)
		res.Truncated = size > 0
		res.State = ScanCompleted
		return res, nil
	}
	headerBuf := make([]byte, core.FileHeaderSize)
	if _, err := bc.Read(headerBuf, 0, len(headerBuf)); err != nil {
		return abort("read header", 0, err)
	}
	if _, err := core.ReadFileHeader(bytes.NewReader(headerBuf), core.JournalMagicNumber); err != nil {
		return abort("read header", 0, err)
	}

	cursor := res.StartOffset
	if cursor < core.FileHeaderSize {
		cursor = core.FileHeaderSize
	}
	res.EndOffset = cursor
	res.State = ScanScanning

	frameHeader := make([]byte, FrameHeaderSize)
	for {
		if err := ctx.Err(); err != nil {
			return abort("scan", cursor, err)
		}

		if size-cursor < FrameHeaderSize {
			res.Truncated = cursor != size
			break
		}
		if _, err := bc.Read(frameHeader, cursor, FrameHeaderSize); err != nil {
			return abort("read frame header", cursor, err)
		}
		header, err := DecodeFrameHeader(frameHeader)
		if err != nil {
			return abort("decode frame header", cursor, err)
		}
		if cursor+header.Size() > size {
			res.Truncated = true
			break
		}

		body := make([]byte, int(header.Length)+FrameTrailerSize)
		if _, err := bc.Read(body, cursor+FrameHeaderSize, len(body)); err != nil {
			return abort("read frame", cursor, err)
		}
		if err := verifyFrame(frameHeader, body); err != nil {
			return abort("verify frame", cursor, err)
		}

		frame := Frame{FrameHeader: header, Payload: body[:header.Length:header.Length]}
		if err := deliver(scanner, cursor, frame); err != nil {
			return abort("process frame", cursor, err)
		}
		cursor += header.Size()
		res.EndOffset = cursor
		res.Frames++
	}

	if res.Truncated {
		j.logger.Warn("Journal ends with a partial frame, stopping scan", "journal_id", id, "offset", cursor, "size", size)
	}
	j.logger.Debug("Journal scan completed", "journal_id", id, "start_offset", res.StartOffset, "end_offset", res.EndOffset, "frames", res.Frames)
	res.State = ScanCompleted
	return res, nil
}
