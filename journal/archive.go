package journal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MegAtonBoom/bookkeeper/compressors"
	"github.com/MegAtonBoom/bookkeeper/core"
	"github.com/MegAtonBoom/bookkeeper/hooks"
	"github.com/MegAtonBoom/bookkeeper/sys"
)

// ArchiverOptions configures journal retirement.
type ArchiverOptions struct {
	// ArchiveDir receives retired journals. When empty they are deleted.
	ArchiveDir string
	// Compression is applied to archived copies. With CompressionNone the
	// journal is hard-linked into ArchiveDir.
	Compression core.CompressionType
	// MaxBackupJournals is how many fully-persisted journals stay in place.
	MaxBackupJournals int
}

// Archiver retires journals whose frames are all persisted in ledger storage.
type Archiver struct {
	journal    *Journal
	opts       ArchiverOptions
	compressor core.Compressor
	logger     *slog.Logger
}

// NewArchiver returns an Archiver for the journals of j.
func NewArchiver(j *Journal, opts ArchiverOptions) (*Archiver, error) {
	if j == nil {
		return nil, fmt.Errorf("new archiver: %w: journal is nil", core.ErrNullReference)
	}
	if opts.MaxBackupJournals < 0 {
		return nil, fmt.Errorf("new archiver: %w: negative backup count %d", core.ErrIllegalArgument, opts.MaxBackupJournals)
	}
	compressor, err := compressors.NewCompressor(opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("new archiver: %w", err)
	}
	if opts.ArchiveDir != "" {
		if err := os.MkdirAll(opts.ArchiveDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal archive directory %s: %w", opts.ArchiveDir, err)
		}
	}
	return &Archiver{
		journal:    j,
		opts:       opts,
		compressor: compressor,
		logger:     j.logger.With("subcomponent", "Archiver"),
	}, nil
}

// ArchivePath returns where journal id is archived.
func (a *Archiver) ArchivePath(id int64) string {
	return filepath.Join(a.opts.ArchiveDir, core.FormatJournalFileName(id)+a.opts.Compression.FileExtension())
}

// RetireJournals removes the journals older than mark, keeping the newest
// MaxBackupJournals of them, and returns the ids it retired oldest first.
func (a *Archiver) RetireJournals(ctx context.Context, mark core.LogMark) ([]int64, error) {
	ids, err := ListJournalIDs(a.journal.dir, func(id int64) bool { return id < mark.JournalID })
	if err != nil {
		return nil, err
	}
	if len(ids) <= a.opts.MaxBackupJournals {
		return nil, nil
	}
	ids = ids[:len(ids)-a.opts.MaxBackupJournals]

	retired := make([]int64, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return retired, err
		}
		archivePath, err := a.retire(id)
		if err != nil {
			return retired, fmt.Errorf("failed to retire journal %x: %w", id, err)
		}
		retired = append(retired, id)
		a.logger.Info("Retired journal", "journal_id", id, "archive", archivePath)
		_ = a.journal.hooks.Trigger(ctx, hooks.NewPostJournalRetireEvent(hooks.PostJournalRetirePayload{
			JournalID:   id,
			Path:        a.journal.Path(id),
			ArchivePath: archivePath,
		}))
	}
	return retired, nil
}

func (a *Archiver) retire(id int64) (string, error) {
	src := a.journal.Path(id)
	if a.opts.ArchiveDir == "" {
		return "", sys.Remove(src)
	}

	dst := a.ArchivePath(id)
	var err error
	if a.opts.Compression == core.CompressionNone {
		err = a.link(src, dst)
	} else {
		err = a.compress(src, dst)
	}
	if err != nil {
		return "", err
	}
	if err := sys.Remove(src); err != nil {
		return "", err
	}
	return dst, nil
}

// link hard-links src into the archive, falling back to a copy when the
// archive lives on another file system. A link left behind by an interrupted
// retirement counts as archived; any other file at dst is replaced.
func (a *Archiver) link(src, dst string) error {
	err := sys.CreateHardLink(src, dst)
	if errors.Is(err, os.ErrExist) {
		same, serr := sameFile(src, dst)
		if serr != nil {
			return serr
		}
		if same {
			a.logger.Info("Journal already linked into archive", "src", src, "dst", dst)
			return nil
		}
		a.logger.Warn("Replacing stale archive entry", "dst", dst)
		if err := sys.Remove(dst); err != nil {
			return err
		}
		err = sys.CreateHardLink(src, dst)
	}
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return err
		}
		a.logger.Debug("Hard link failed, copying journal instead", "src", src, "dst", dst, "error", err)
		return a.copyWith(src, dst, compressors.NewNoCompressionCompressor())
	}
	n, err := sys.LinkCount(src)
	if err != nil {
		return err
	}
	if n < 2 {
		return fmt.Errorf("archived link %s not visible from %s: link count %d", dst, src, n)
	}
	return nil
}

func sameFile(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return os.SameFile(ai, bi), nil
}

func (a *Archiver) compress(src, dst string) error {
	return a.copyWith(src, dst, a.compressor)
}

// copyWith streams src through compressor into a temporary file that is
// synced and renamed to dst.
func (a *Archiver) copyWith(src, dst string, compressor core.Compressor) (err error) {
	in, err := sys.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := core.FormatTempFilename(dst, "tmp")
	out, err := sys.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Close()
			sys.Remove(tmp)
		}
	}()

	w, err := compressor.NewWriter(out)
	if err != nil {
		return err
	}
	if _, err = io.Copy(w, in); err != nil {
		w.Close()
		return fmt.Errorf("failed to copy %s into archive: %w", src, err)
	}
	if err = w.Close(); err != nil {
		return err
	}
	if err = out.Sync(); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return sys.Rename(tmp, dst)
}
