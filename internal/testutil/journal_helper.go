package testutil

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/MegAtonBoom/bookkeeper/core"
)

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// JournalFileHeader returns an encoded journal file header.
func JournalFileHeader() []byte {
	header := core.NewFileHeader(core.JournalMagicNumber, core.CompressionNone)
	return header.Encode()
}

// WriteJournalFile writes a journal file named after id into dir. It holds
// a valid file header, then every already encoded frame, then tail verbatim.
// A non-empty tail lets tests model a journal cut off in the middle of a frame.
// It returns the file path and the offset of every frame.
func WriteJournalFile(t testing.TB, dir string, id int64, frames [][]byte, tail []byte) (string, []int64) {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(JournalFileHeader())
	offsets := make([]int64, 0, len(frames))
	for _, f := range frames {
		offsets = append(offsets, int64(buf.Len()))
		buf.Write(f)
	}
	buf.Write(tail)

	path := filepath.Join(dir, core.FormatJournalFileName(id))
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("failed to write journal fixture %s: %v", path, err)
	}
	return path, offsets
}

// FileSize returns the size of path, failing the test if it cannot be read.
func FileSize(t testing.TB, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("failed to stat %s: %v", path, err)
	}
	return info.Size()
}

// ListFiles returns the names of the regular files in dir.
func ListFiles(t testing.TB, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read directory %s: %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}
