// Package checkpoint persists the last log mark: the journal position up to
// which every entry is durable in ledger storage. Replay after a restart
// starts from it.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/MegAtonBoom/bookkeeper/core"
	"github.com/MegAtonBoom/bookkeeper/sys"
)

// encoded layout: magic (4) | journal id (8) | offset (8) | crc32 (4)
const encodedSize = 4 + 8 + 8 + 4

// Write atomically writes mark to the file name in dir using write-temp,
// fsync and rename.
func Write(dir, name string, mark core.LogMark) error {
	if mark.JournalID < 0 || mark.Offset < 0 {
		return fmt.Errorf("write log mark %s: %w", mark, core.ErrIllegalArgument)
	}
	buf := make([]byte, encodedSize)
	binary.LittleEndian.PutUint32(buf[0:4], core.LogMarkMagicNumber)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(mark.JournalID))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(mark.Offset))
	binary.LittleEndian.PutUint32(buf[20:24], crc32.ChecksumIEEE(buf[:20]))

	tempPath := filepath.Join(dir, core.FormatTempFilename(name, "tmp"))
	file, err := sys.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp log mark file: %w", err)
	}
	if _, err := file.Write(buf); err != nil {
		file.Close()
		return fmt.Errorf("failed to write log mark: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync temp log mark file: %w", err)
	}
	// Close before rename for Windows.
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp log mark file before rename: %w", err)
	}

	finalPath := filepath.Join(dir, name)
	if err := sys.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("failed to rename temp log mark file to final name: %w", err)
	}
	return nil
}

// Read reads the log mark stored as name in dir. The boolean reports whether
// the file existed; a missing file yields the zero mark and no error.
func Read(dir, name string) (core.LogMark, bool, error) {
	path := filepath.Join(dir, name)
	file, err := sys.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return core.LogMark{}, false, nil
		}
		return core.LogMark{}, false, fmt.Errorf("failed to open log mark file: %w", err)
	}
	defer file.Close()

	buf := make([]byte, encodedSize)
	if _, err := io.ReadFull(file, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return core.LogMark{}, true, fmt.Errorf("log mark file %s: %w", path, core.ErrShortRead)
		}
		return core.LogMark{}, true, fmt.Errorf("failed to read log mark file: %w", err)
	}
	if magic := binary.LittleEndian.Uint32(buf[0:4]); magic != core.LogMarkMagicNumber {
		return core.LogMark{}, true, fmt.Errorf("%w: invalid log mark magic number: got %x, want %x", core.ErrCorruption, magic, core.LogMarkMagicNumber)
	}
	if got, want := crc32.ChecksumIEEE(buf[:20]), binary.LittleEndian.Uint32(buf[20:24]); got != want {
		return core.LogMark{}, true, fmt.Errorf("%w: log mark checksum mismatch", core.ErrCorruption)
	}
	mark := core.LogMark{
		JournalID: int64(binary.LittleEndian.Uint64(buf[4:12])),
		Offset:    int64(binary.LittleEndian.Uint64(buf[12:20])),
	}
	return mark, true, nil
}

// WriteAll writes mark to every directory in dirs.
func WriteAll(dirs []string, name string, mark core.LogMark) error {
	var errs []error
	for _, dir := range dirs {
		if err := Write(dir, name, mark); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}

// ReadMax returns the greatest log mark stored across dirs. Directories
// without a mark, or with an unreadable one, are skipped; the errors of the
// unreadable ones are returned alongside the result.
func ReadMax(dirs []string, name string) (core.LogMark, error) {
	var best core.LogMark
	var errs []error
	for _, dir := range dirs {
		mark, found, err := Read(dir, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dir, err))
			continue
		}
		if found && mark.Compare(best) > 0 {
			best = mark
		}
	}
	return best, errors.Join(errs...)
}
