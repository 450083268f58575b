// Package bookie ties the journal directories of a storage node together:
// it bootstraps the directory layout, replays the journals from the last
// persisted log mark, appends new entries and retires journals once a
// checkpoint makes them redundant.
package bookie

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/MegAtonBoom/bookkeeper/checkpoint"
	"github.com/MegAtonBoom/bookkeeper/config"
	"github.com/MegAtonBoom/bookkeeper/core"
	"github.com/MegAtonBoom/bookkeeper/hooks"
	"github.com/MegAtonBoom/bookkeeper/journal"
	"github.com/MegAtonBoom/bookkeeper/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by operations on a bookie that has been shut down.
var ErrClosed = errors.New("bookie is shut down")

// Options configures a Bookie.
type Options struct {
	JournalDirs []string
	LedgerDirs  []string

	ReadBufferSize  int
	WriteBufferSize int
	MaxJournalSize  int64
	PreallocSize    int64
	// SyncInterval is how often appended entries are forced to disk. Zero
	// syncs after every entry.
	SyncInterval time.Duration

	MaxBackupJournals  int
	ArchiveDir         string
	ArchiveCompression core.CompressionType

	DiskUsageThreshold float64
	LockTimeout        time.Duration

	BytesWritten   *expvar.Int
	FramesReplayed *expvar.Int
	Truncations    *expvar.Int

	Logger      *slog.Logger
	HookManager hooks.HookManager
	Tracer      trace.Tracer
}

// OptionsFromConfig maps the bookie section of cfg onto Options.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) (Options, error) {
	if err := cfg.Validate(); err != nil {
		return Options{}, fmt.Errorf("invalid configuration: %w", err)
	}
	jc := cfg.Bookie.Journal
	compression, _ := core.ParseCompressionType(jc.ArchiveCompression)
	return Options{
		JournalDirs:        jc.Dirs,
		LedgerDirs:         cfg.Bookie.LedgerDirs,
		ReadBufferSize:     jc.ReadBufferBytes,
		WriteBufferSize:    jc.WriteBufferBytes,
		MaxJournalSize:     jc.MaxSizeBytes,
		PreallocSize:       jc.PreallocSizeBytes,
		SyncInterval:       config.ParseDuration(jc.SyncInterval, 0, logger),
		MaxBackupJournals:  jc.MaxBackupJournals,
		ArchiveDir:         jc.ArchiveDir,
		ArchiveCompression: compression,
		DiskUsageThreshold: cfg.Bookie.DiskUsageThreshold,
		LockTimeout:        config.ParseDuration(cfg.Bookie.LockTimeout, 5*time.Second, logger),
		Logger:             logger,
	}, nil
}

// journalDir is one journal directory and the writer appending to it.
type journalDir struct {
	index    int
	path     string
	markName string
	journal  *journal.Journal
	archiver *journal.Archiver
	release  func() error

	mu     sync.Mutex
	writer *journal.Writer
}

// Bookie owns a set of journal and ledger directories.
type Bookie struct {
	opts       Options
	logger     *slog.Logger
	tracer     trace.Tracer
	hooks      hooks.HookManager
	journals   []*journalDir
	ledgerDirs []string

	mu       sync.Mutex
	started  bool
	starting bool
	closed   bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New checks the directory layout and disk usage of every configured
// directory, locks the journal directories and returns a Bookie ready to
// Start.
func New(opts Options) (*Bookie, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "Bookie_default")
	} else {
		opts.Logger = opts.Logger.With("component", "Bookie")
	}
	if len(opts.JournalDirs) == 0 || len(opts.LedgerDirs) == 0 {
		return nil, fmt.Errorf("new bookie: %w: journal and ledger directories are required", core.ErrNullReference)
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("bookie")
	}
	if opts.HookManager == nil {
		opts.HookManager = hooks.NewHookManager(opts.Logger)
	}

	b := &Bookie{
		opts:   opts,
		logger: opts.Logger,
		tracer: opts.Tracer,
		hooks:  opts.HookManager,
		stopCh: make(chan struct{}),
	}

	var allDirs []string
	for _, dir := range opts.LedgerDirs {
		current := CurrentDirectory(dir)
		if err := CheckDirectoryStructure(current); err != nil {
			return nil, fmt.Errorf("ledger directory %s: %w", dir, err)
		}
		b.ledgerDirs = append(b.ledgerDirs, current)
		allDirs = append(allDirs, current)
	}
	for _, dir := range opts.JournalDirs {
		current := CurrentDirectory(dir)
		if err := CheckDirectoryStructure(current); err != nil {
			return nil, fmt.Errorf("journal directory %s: %w", dir, err)
		}
		allDirs = append(allDirs, current)
	}
	if err := CheckDiskUsage(allDirs, opts.DiskUsageThreshold); err != nil {
		return nil, err
	}

	for i, dir := range opts.JournalDirs {
		jd, err := b.openJournalDir(i, CurrentDirectory(dir))
		if err != nil {
			b.releaseLocks()
			return nil, err
		}
		b.journals = append(b.journals, jd)
	}
	return b, nil
}

func (b *Bookie) openJournalDir(index int, dir string) (*journalDir, error) {
	release, err := sys.AcquireOSFileLock(filepath.Join(dir, core.LockFileName), b.opts.LockTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to lock journal directory %s: %w", dir, err)
	}
	j, err := journal.New(journal.Options{
		Dir:             dir,
		ReadBufferSize:  b.opts.ReadBufferSize,
		WriteBufferSize: b.opts.WriteBufferSize,
		MaxJournalSize:  b.opts.MaxJournalSize,
		PreallocSize:    b.opts.PreallocSize,
		BytesWritten:    b.opts.BytesWritten,
		FramesReplayed:  b.opts.FramesReplayed,
		Truncations:     b.opts.Truncations,
		Logger:          b.logger.With("journal_dir", dir),
		HookManager:     b.hooks,
		Tracer:          b.tracer,
	})
	if err != nil {
		release()
		return nil, err
	}
	archiveDir := b.opts.ArchiveDir
	if archiveDir != "" && len(b.opts.JournalDirs) > 1 {
		archiveDir = filepath.Join(archiveDir, fmt.Sprintf("journal-%d", index))
	}
	archiver, err := journal.NewArchiver(j, journal.ArchiverOptions{
		ArchiveDir:        archiveDir,
		Compression:       b.opts.ArchiveCompression,
		MaxBackupJournals: b.opts.MaxBackupJournals,
	})
	if err != nil {
		release()
		return nil, err
	}
	return &journalDir{
		index:    index,
		path:     dir,
		markName: core.LastMarkFileNameFor(index),
		journal:  j,
		archiver: archiver,
		release:  release,
	}, nil
}

func (b *Bookie) lifecyclePayload() hooks.BookieLifecyclePayload {
	return hooks.BookieLifecyclePayload{JournalDirs: b.opts.JournalDirs, LedgerDirs: b.opts.LedgerDirs}
}

// Start replays every journal directory into scanner and opens a fresh
// journal in each of them for new entries. Start hooks run without the
// bookie lock held, so listeners may call back into the bookie.
func (b *Bookie) Start(ctx context.Context, scanner journal.Scanner) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.started || b.starting {
		b.mu.Unlock()
		return errors.New("bookie already started")
	}
	b.starting = true
	b.mu.Unlock()

	err := b.hooks.Trigger(ctx, hooks.NewPreStartBookieEvent(b.lifecyclePayload()))
	if err == nil {
		err = b.start(ctx, scanner)
	} else {
		err = fmt.Errorf("bookie start cancelled by pre-start hook: %w", err)
	}
	b.mu.Lock()
	b.starting = false
	b.mu.Unlock()
	if err != nil {
		return err
	}

	b.logger.Info("Bookie started", "journal_dirs", len(b.journals), "ledger_dirs", len(b.ledgerDirs))
	_ = b.hooks.Trigger(ctx, hooks.NewPostStartBookieEvent(b.lifecyclePayload()))
	return nil
}

func (b *Bookie) start(ctx context.Context, scanner journal.Scanner) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if _, err := b.Replay(ctx, scanner); err != nil {
		return err
	}
	for _, jd := range b.journals {
		if err := jd.roll(); err != nil {
			return err
		}
	}
	if b.opts.SyncInterval > 0 {
		b.wg.Add(1)
		go b.syncLoop()
	}
	b.started = true
	return nil
}

// Replay replays every journal directory from its last persisted log mark.
// Directories are replayed concurrently, so scanner must be safe for
// concurrent use when more than one journal directory is configured.
func (b *Bookie) Replay(ctx context.Context, scanner journal.Scanner) ([]journal.ReplayResult, error) {
	ctx, span := b.tracer.Start(ctx, "Bookie.Replay")
	defer span.End()
	span.SetAttributes(attribute.Int("bookie.journal_dirs", len(b.journals)))

	results := make([]journal.ReplayResult, len(b.journals))
	g, gctx := errgroup.WithContext(ctx)
	for i, jd := range b.journals {
		g.Go(func() error {
			mark, err := checkpoint.ReadMax(b.ledgerDirs, jd.markName)
			if err != nil {
				b.logger.Warn("Some log marks could not be read", "journal_dir", jd.path, "error", err)
			}
			res, err := jd.journal.Replay(gctx, mark, scanner)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bookie_replay_failed")
		return results, err
	}

	var frames int64
	for _, res := range results {
		frames += res.Frames
	}
	span.SetAttributes(attribute.Int64("bookie.replayed_frames", frames))
	return results, nil
}

// AddEntry appends an entry to the journal directory owning ledgerID and
// returns the log mark right after it. Unless a sync interval is configured
// the entry is durable when AddEntry returns.
func (b *Bookie) AddEntry(ledgerID, entryID uint64, payload []byte) (core.LogMark, error) {
	b.mu.Lock()
	if b.closed || !b.started {
		b.mu.Unlock()
		return core.LogMark{}, ErrClosed
	}
	jd := b.journals[ledgerID%uint64(len(b.journals))]
	b.mu.Unlock()

	jd.mu.Lock()
	defer jd.mu.Unlock()
	if jd.writer == nil {
		return core.LogMark{}, ErrClosed
	}
	if jd.writer.Err() != nil || jd.writer.ShouldRoll() {
		if err := jd.rollLocked(); err != nil {
			return core.LogMark{}, err
		}
	}
	offset, err := jd.writer.AddEntry(ledgerID, entryID, payload)
	if err != nil {
		jd.abandonFailedLocked(b.logger)
		return core.LogMark{}, err
	}
	if b.opts.SyncInterval <= 0 {
		if err := jd.writer.Sync(); err != nil {
			jd.abandonFailedLocked(b.logger)
			return core.LogMark{}, err
		}
	}
	return core.LogMark{JournalID: jd.writer.ID(), Offset: offset + journal.FrameOverhead + int64(len(payload))}, nil
}

// Sync forces the entries of every journal directory to disk.
func (b *Bookie) Sync() error {
	var errs []error
	for _, jd := range b.journals {
		jd.mu.Lock()
		if jd.writer != nil {
			if err := jd.writer.Sync(); err != nil {
				errs = append(errs, err)
				jd.abandonFailedLocked(b.logger)
			}
		}
		jd.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Checkpoint records that every entry journaled so far is persisted in
// ledger storage: it syncs the journals, writes their log marks to every
// ledger directory and retires the journals the marks make redundant.
func (b *Bookie) Checkpoint(ctx context.Context) ([]core.LogMark, error) {
	ctx, span := b.tracer.Start(ctx, "Bookie.Checkpoint")
	defer span.End()

	marks := make([]core.LogMark, len(b.journals))
	for i, jd := range b.journals {
		jd.mu.Lock()
		if jd.writer == nil {
			jd.mu.Unlock()
			return nil, ErrClosed
		}
		if jd.writer.Err() != nil {
			if err := jd.rollLocked(); err != nil {
				jd.mu.Unlock()
				span.RecordError(err)
				return nil, err
			}
		}
		err := jd.writer.Sync()
		mark := jd.writer.LogMark()
		jd.mu.Unlock()
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		if err := checkpoint.WriteAll(b.ledgerDirs, jd.markName, mark); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "log_mark_write_failed")
			return nil, fmt.Errorf("failed to persist log mark %s of %s: %w", mark, jd.path, err)
		}
		retired, err := jd.archiver.RetireJournals(ctx, mark)
		if err != nil {
			b.logger.Warn("Journal retirement failed", "journal_dir", jd.path, "error", err)
		} else if len(retired) > 0 {
			b.logger.Info("Retired journals", "journal_dir", jd.path, "count", len(retired))
		}
		marks[i] = mark
	}
	return marks, nil
}

// DirStatus describes one journal directory of a running bookie.
type DirStatus struct {
	Dir            string       `json:"dir"`
	MarkFile       string       `json:"mark_file"`
	Journals       []int64      `json:"journals"`
	CurrentJournal int64        `json:"current_journal"`
	Position       int64        `json:"position"`
	Durable        core.LogMark `json:"durable_mark"`
}

// Status reports the journals on disk and the writer position of every
// journal directory.
func (b *Bookie) Status() ([]DirStatus, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	out := make([]DirStatus, 0, len(b.journals))
	for _, jd := range b.journals {
		ids, err := journal.ListJournalIDs(jd.path, nil)
		if err != nil {
			return nil, err
		}
		st := DirStatus{Dir: jd.path, MarkFile: jd.markName, Journals: ids, CurrentJournal: -1}
		jd.mu.Lock()
		if jd.writer != nil {
			st.CurrentJournal = jd.writer.ID()
			st.Position = jd.writer.Position()
			st.Durable = jd.writer.LogMark()
		}
		jd.mu.Unlock()
		out = append(out, st)
	}
	return out, nil
}

// Shutdown closes every journal and releases the directory locks. It is
// safe to call more than once.
func (b *Bookie) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.stopCh)
	b.mu.Unlock()
	b.wg.Wait()

	var errs []error
	for _, jd := range b.journals {
		jd.mu.Lock()
		if jd.writer != nil {
			errs = append(errs, jd.writer.Close())
			jd.writer = nil
		}
		jd.mu.Unlock()
	}
	errs = append(errs, b.releaseLocks())

	b.logger.Info("Bookie stopped")
	_ = b.hooks.Trigger(ctx, hooks.NewPostStopBookieEvent(b.lifecyclePayload()))
	return errors.Join(errs...)
}

func (b *Bookie) releaseLocks() error {
	var errs []error
	for _, jd := range b.journals {
		if jd.release != nil {
			errs = append(errs, jd.release())
			jd.release = nil
		}
	}
	return errors.Join(errs...)
}

func (b *Bookie) syncLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.opts.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.Sync(); err != nil {
				b.logger.Error("Periodic journal sync failed", "error", err)
			}
		case <-b.stopCh:
			return
		}
	}
}

func (jd *journalDir) roll() error {
	jd.mu.Lock()
	defer jd.mu.Unlock()
	return jd.rollLocked()
}

// abandonFailedLocked moves a failed journal aside so that the next entry goes
// to a fresh one. The failed file keeps everything synced before the failure.
func (jd *journalDir) abandonFailedLocked(logger *slog.Logger) {
	if jd.writer == nil || jd.writer.Err() == nil {
		return
	}
	failed := jd.writer.ID()
	if err := jd.rollLocked(); err != nil {
		logger.Error("Failed to replace failed journal", "journal_dir", jd.path, "journal_id", failed, "error", err)
		return
	}
	logger.Warn("Replaced failed journal", "journal_dir", jd.path, "journal_id", failed, "new_journal_id", jd.writer.ID())
}

// rollLocked closes the current journal, if any, and starts a new one.
func (jd *journalDir) rollLocked() error {
	if jd.writer != nil {
		if err := jd.writer.Close(); err != nil {
			return fmt.Errorf("failed to close journal %x: %w", jd.writer.ID(), err)
		}
		jd.writer = nil
	}
	id, err := jd.journal.NextJournalID()
	if err != nil {
		return err
	}
	w, err := jd.journal.CreateWriter(id)
	if err != nil {
		return err
	}
	jd.writer = w
	return nil
}
