//go:build !unix && !windows

package sys

import "errors"

func linkCount(path string) (int, error) {
	return 0, errors.New("link count not supported on this platform")
}
