package compressors

import (
	"fmt"
	"io"

	"github.com/MegAtonBoom/bookkeeper/core"
	lz4 "github.com/pierrec/lz4/v4"
)

// LZ4Compressor implements the Compressor interface using the LZ4 frame format.
type LZ4Compressor struct {
	level lz4.CompressionLevel
}

var _ core.Compressor = (*LZ4Compressor)(nil)

func NewLz4Compressor() *LZ4Compressor {
	return &LZ4Compressor{level: lz4.Fast}
}

func (c *LZ4Compressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	zw := lz4.NewWriter(w)
	if err := zw.Apply(lz4.CompressionLevelOption(c.level), lz4.ChecksumOption(true)); err != nil {
		return nil, fmt.Errorf("lz4 writer options: %w", err)
	}
	return zw, nil
}

func (c *LZ4Compressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func (c *LZ4Compressor) Type() core.CompressionType {
	return core.CompressionLZ4
}
