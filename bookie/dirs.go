package bookie

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MegAtonBoom/bookkeeper/core"
	"github.com/shirou/gopsutil/v3/disk"
)

// ErrDiskFull is returned when a directory's disk usage exceeds the
// configured threshold.
var ErrDiskFull = errors.New("disk usage above threshold")

// legacySuffixes are the files a pre-layout bookie kept directly in its
// journal and ledger directories.
var legacySuffixes = []string{core.JournalFileSuffix, ".idx", ".log"}

// CurrentDirectory returns the directory holding the current layout of dir.
func CurrentDirectory(dir string) string {
	return filepath.Join(dir, core.CurrentDirName)
}

// CheckDirectoryStructure makes sure dir exists with the current layout,
// creating it and its VERSION file when missing. The parent of dir must
// already exist and must not hold files of an older layout.
func CheckDirectoryStructure(dir string) error {
	if dir == "" {
		return fmt.Errorf("check directory structure: %w: empty path", core.ErrNullReference)
	}
	info, err := os.Stat(dir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return &fs.PathError{Op: "check directory structure", Path: dir, Err: errors.New("not a directory")}
		}
		return ensureVersionFile(dir)
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	parent := filepath.Dir(dir)
	entries, err := os.ReadDir(parent)
	if err != nil {
		return fmt.Errorf("failed to read parent of %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if e.Name() == core.VersionFileName {
			return &fs.PathError{Op: "check directory structure", Path: parent, Err: errors.New("directory layout version is too old, upgrade needed")}
		}
		for _, suffix := range legacySuffixes {
			if strings.HasSuffix(e.Name(), suffix) {
				return &fs.PathError{Op: "check directory structure", Path: parent, Err: fmt.Errorf("legacy file %s found, upgrade needed", e.Name())}
			}
		}
	}

	if err := os.Mkdir(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return ensureVersionFile(dir)
}

func ensureVersionFile(dir string) error {
	path := filepath.Join(dir, core.VersionFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		version, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr != nil {
			return fmt.Errorf("%w: unreadable layout version in %s", core.ErrCorruption, path)
		}
		if version != core.LayoutVersion {
			return &fs.PathError{Op: "check directory structure", Path: dir, Err: fmt.Errorf("layout version %d, want %d", version, core.LayoutVersion)}
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(core.LayoutVersion)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write layout version to %s: %w", path, err)
	}
	return nil
}

// CheckDiskUsage fails with ErrDiskFull when any directory sits on a disk
// whose used fraction is above threshold. A threshold of 0 disables the check.
func CheckDiskUsage(dirs []string, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	for _, dir := range dirs {
		usage, err := disk.Usage(dir)
		if err != nil {
			return fmt.Errorf("failed to get disk usage of %s: %w", dir, err)
		}
		if used := usage.UsedPercent / 100; used > threshold {
			return fmt.Errorf("%w: %s is %.1f%% full, threshold %.1f%%", ErrDiskFull, dir, usage.UsedPercent, threshold*100)
		}
	}
	return nil
}
