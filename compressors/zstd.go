package compressors

import (
	"fmt"
	"io"
	"sync"

	"github.com/MegAtonBoom/bookkeeper/core"
	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor implements the Compressor interface using Zstandard.
// Encoders and decoders are pooled and reset for every stream.
type ZstdCompressor struct {
	encoderPool sync.Pool
	decoderPool sync.Pool
}

type zstdWriteCloser struct {
	*zstd.Encoder
	pool *sync.Pool
}

func (zwc *zstdWriteCloser) Close() error {
	err := zwc.Encoder.Close()
	zwc.pool.Put(zwc.Encoder)
	return err
}

type zstdReadCloser struct {
	*zstd.Decoder
	pool *sync.Pool
}

func (zrc *zstdReadCloser) Close() error {
	// Decoder.Close would invalidate the decoder for reuse.
	zrc.pool.Put(zrc.Decoder)
	return nil
}

var _ core.Compressor = (*ZstdCompressor)(nil)
var _ io.ReadCloser = (*zstdReadCloser)(nil)

func NewZstdCompressor() *ZstdCompressor {
	return &ZstdCompressor{}
}

func (c *ZstdCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	if enc, ok := c.encoderPool.Get().(*zstd.Encoder); ok {
		enc.Reset(w)
		return &zstdWriteCloser{Encoder: enc, pool: &c.encoderPool}, nil
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("zstd new writer: %w", err)
	}
	return &zstdWriteCloser{Encoder: enc, pool: &c.encoderPool}, nil
}

func (c *ZstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	if dec, ok := c.decoderPool.Get().(*zstd.Decoder); ok {
		if err := dec.Reset(r); err != nil {
			c.decoderPool.Put(dec)
			return nil, fmt.Errorf("zstd decoder reset error: %w", err)
		}
		return &zstdReadCloser{Decoder: dec, pool: &c.decoderPool}, nil
	}
	dec, err := zstd.NewReader(r, zstd.WithDecoderMaxMemory(256*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("zstd new reader: %w", err)
	}
	return &zstdReadCloser{Decoder: dec, pool: &c.decoderPool}, nil
}

func (c *ZstdCompressor) Type() core.CompressionType {
	return core.CompressionZSTD
}
