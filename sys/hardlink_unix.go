//go:build unix

package sys

import (
	"io/fs"

	"golang.org/x/sys/unix"
)

func linkCount(path string) (int, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, &fs.PathError{Op: "stat", Path: path, Err: err}
	}
	return int(st.Nlink), nil
}
