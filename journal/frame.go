package journal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/MegAtonBoom/bookkeeper/core"
)

// Frame layout, little endian:
//
//	length (4) | ledgerId (8) | entryId (8) | payload (length) | crc32c (4)
//
// The checksum covers ledgerId, entryId and payload.
const (
	FrameHeaderSize  = 4 + 8 + 8
	FrameTrailerSize = 4
	// FrameOverhead is the number of bytes a frame adds on top of its payload.
	FrameOverhead = FrameHeaderSize + FrameTrailerSize
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// FrameHeader is the fixed-size prefix of a frame.
type FrameHeader struct {
	Length   uint32
	LedgerID uint64
	EntryID  uint64
}

// Size returns the encoded size of the whole frame described by h.
func (h FrameHeader) Size() int64 {
	return int64(FrameOverhead) + int64(h.Length)
}

// Frame is a decoded journal record.
type Frame struct {
	FrameHeader
	Payload []byte
}

// EncodeFrame returns the on-disk encoding of one frame.
func EncodeFrame(ledgerID, entryID uint64, payload []byte) []byte {
	buf := make([]byte, FrameOverhead+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint64(buf[4:12], ledgerID)
	binary.LittleEndian.PutUint64(buf[12:20], entryID)
	copy(buf[FrameHeaderSize:], payload)
	sum := crc32.Checksum(buf[4:FrameHeaderSize+len(payload)], castagnoli)
	binary.LittleEndian.PutUint32(buf[FrameHeaderSize+len(payload):], sum)
	return buf
}

// DecodeFrameHeader parses the fixed-size header at the start of b.
func DecodeFrameHeader(b []byte) (FrameHeader, error) {
	if b == nil {
		return FrameHeader{}, fmt.Errorf("decode frame header: %w", core.ErrNullReference)
	}
	if len(b) < FrameHeaderSize {
		return FrameHeader{}, fmt.Errorf("decode frame header: %w: %d of %d bytes", core.ErrShortRead, len(b), FrameHeaderSize)
	}
	return FrameHeader{
		Length:   binary.LittleEndian.Uint32(b[0:4]),
		LedgerID: binary.LittleEndian.Uint64(b[4:12]),
		EntryID:  binary.LittleEndian.Uint64(b[12:20]),
	}, nil
}

// verifyFrame checks the checksum at the end of body, which holds the payload
// followed by the trailer, against the encoded header.
func verifyFrame(header []byte, body []byte) error {
	payload := body[:len(body)-FrameTrailerSize]
	want := binary.LittleEndian.Uint32(body[len(body)-FrameTrailerSize:])
	crc := crc32.Update(0, castagnoli, header[4:FrameHeaderSize])
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != want {
		return fmt.Errorf("%w: checksum mismatch: got %08x, want %08x", core.ErrCorruption, crc, want)
	}
	return nil
}
