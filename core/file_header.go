package core

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// FileHeader is the fixed header written at the start of every journal file.
type FileHeader struct {
	Magic          uint32
	Version        uint8
	CreatedAt      int64 // UnixNano timestamp
	CompressorType CompressionType
}

// FileHeaderSize is the encoded size of FileHeader.
var FileHeaderSize = int64(binary.Size(FileHeader{}))

func (h *FileHeader) Size() int {
	return binary.Size(h)
}

// NewFileHeader creates a new header with the current time and specified magic number.
func NewFileHeader(magic uint32, compressorType CompressionType) FileHeader {
	return FileHeader{
		Magic:          magic,
		Version:        FormatVersion,
		CreatedAt:      time.Now().UnixNano(),
		CompressorType: compressorType,
	}
}

// Encode returns the little-endian encoding of the header.
func (h *FileHeader) Encode() []byte {
	buf := make([]byte, FileHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	binary.LittleEndian.PutUint64(buf[5:13], uint64(h.CreatedAt))
	buf[13] = byte(h.CompressorType)
	return buf
}

// ReadFileHeader reads and validates a header with the expected magic number.
func ReadFileHeader(r io.Reader, magic uint32) (FileHeader, error) {
	var header FileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return header, err
	}
	if header.Magic != magic {
		return header, fmt.Errorf("%w: invalid magic number: got %x, want %x", ErrCorruption, header.Magic, magic)
	}
	if header.Version == 0 || header.Version > FormatVersion {
		return header, fmt.Errorf("%w: unsupported format version %d", ErrCorruption, header.Version)
	}
	return header, nil
}
