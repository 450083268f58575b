package core

import (
	"fmt"
	"strconv"
	"strings"
)

// This file centralizes constants related to file formats, magic numbers,
// and on-disk naming used by the bookie.

// --- Magic Numbers ---
const (
	// JournalMagicNumber identifies a journal file ("BKJN").
	JournalMagicNumber uint32 = 0x424B4A4E
	// LogMarkMagicNumber identifies a persisted last log mark ("BKLM").
	LogMarkMagicNumber uint32 = 0x424B4C4D
)

// --- File Names & Suffixes ---
const (
	// JournalFileSuffix is the suffix for journal files.
	JournalFileSuffix = ".txn"
	// CurrentDirName is the directory holding the current layout of a journal or ledger dir.
	CurrentDirName = "current"
	// VersionFileName records the directory layout version.
	VersionFileName = "VERSION"
	// LastMarkFileName stores the last log mark inside a ledger directory.
	LastMarkFileName = "lastMark"
	// LockFileName is held while a bookie owns a directory.
	LockFileName = "LOCK"
)

// --- Protocol & Format Versions ---
const (
	// FormatVersion is the current version of the journal file format.
	FormatVersion uint8 = 6
	// LayoutVersion is the current version of the directory layout.
	LayoutVersion = 3
)

// FormatJournalFileName creates a journal file name from its id.
// Journal ids are rendered in lower-case hexadecimal.
func FormatJournalFileName(id int64) string {
	return strconv.FormatInt(id, 16) + JournalFileSuffix
}

// ParseJournalFileName extracts the journal id from a journal file name.
func ParseJournalFileName(name string) (int64, error) {
	if !strings.HasSuffix(name, JournalFileSuffix) {
		return 0, fmt.Errorf("file %s is not a journal file", name)
	}
	idStr := strings.TrimSuffix(name, JournalFileSuffix)
	id, err := strconv.ParseInt(idStr, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid journal file name %s: %w", name, err)
	}
	if id < 0 {
		return 0, fmt.Errorf("invalid journal file name %s: negative id", name)
	}
	return id, nil
}

// FormatTempFilename returns the name used while writing baseName atomically.
func FormatTempFilename(baseName, suffix string) string {
	return fmt.Sprintf("%s.%s", baseName, suffix)
}

// LastMarkFileNameFor returns the log mark file name of the journal directory
// at index. The first journal keeps the plain name.
func LastMarkFileNameFor(index int) string {
	if index == 0 {
		return LastMarkFileName
	}
	return fmt.Sprintf("%s.%d", LastMarkFileName, index)
}
