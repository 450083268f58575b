package sys

import (
	"fmt"
	"os"

	"github.com/MegAtonBoom/bookkeeper/core"
)

// CreateHardLink creates target as a new hard link to source.
// It fails if source does not exist or the link cannot be created.
func CreateHardLink(source, target string) error {
	if source == "" || target == "" {
		return fmt.Errorf("create hard link: %w: source and target are required", core.ErrNullReference)
	}
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("create hard link: source %s: %w", source, err)
	}
	if err := os.Link(source, target); err != nil {
		return fmt.Errorf("create hard link %s -> %s: %w", target, source, err)
	}
	return nil
}

// LinkCount returns the number of hard links referencing path.
func LinkCount(path string) (int, error) {
	if path == "" {
		return 0, fmt.Errorf("link count: %w: path is required", core.ErrNullReference)
	}
	n, err := linkCount(path)
	if err != nil {
		return 0, fmt.Errorf("link count of %s: %w", path, err)
	}
	return n, nil
}
