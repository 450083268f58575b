package core

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalFileName_RoundTrip(t *testing.T) {
	for _, id := range []int64{0, 1, 0xff, 0x18f3a2b4c5d, 1<<62 + 7} {
		name := FormatJournalFileName(id)
		got, err := ParseJournalFileName(name)
		require.NoError(t, err, name)
		assert.Equal(t, id, got)
	}
	assert.Equal(t, "ff.txn", FormatJournalFileName(255))
}

func TestParseJournalFileName_Invalid(t *testing.T) {
	testCases := []string{"", "ff", "ff.log", "zz.txn", "-1.txn", ".txn"}
	for _, name := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseJournalFileName(name)
			assert.Error(t, err)
		})
	}
}

func TestLastMarkFileNameFor(t *testing.T) {
	assert.Equal(t, "lastMark", LastMarkFileNameFor(0))
	assert.Equal(t, "lastMark.2", LastMarkFileNameFor(2))
	assert.Equal(t, "lastMark.tmp", FormatTempFilename(LastMarkFileName, "tmp"))
}

func TestFileHeader_EncodeAndRead(t *testing.T) {
	header := NewFileHeader(JournalMagicNumber, CompressionNone)
	encoded := header.Encode()
	require.Len(t, encoded, int(FileHeaderSize))
	assert.Equal(t, int(FileHeaderSize), header.Size())

	got, err := ReadFileHeader(bytes.NewReader(encoded), JournalMagicNumber)
	require.NoError(t, err)
	assert.Equal(t, header, got)
}

func TestReadFileHeader_Errors(t *testing.T) {
	header := NewFileHeader(JournalMagicNumber, CompressionNone)

	t.Run("wrong magic", func(t *testing.T) {
		_, err := ReadFileHeader(bytes.NewReader(header.Encode()), LogMarkMagicNumber)
		assert.ErrorIs(t, err, ErrCorruption)
	})

	t.Run("unsupported version", func(t *testing.T) {
		bad := header
		bad.Version = FormatVersion + 1
		_, err := ReadFileHeader(bytes.NewReader(bad.Encode()), JournalMagicNumber)
		assert.ErrorIs(t, err, ErrCorruption)
	})

	t.Run("short", func(t *testing.T) {
		_, err := ReadFileHeader(bytes.NewReader(header.Encode()[:5]), JournalMagicNumber)
		assert.Error(t, err)
	})
}

func TestCompressionType_Names(t *testing.T) {
	for _, ct := range []CompressionType{CompressionNone, CompressionSnappy, CompressionLZ4, CompressionZSTD} {
		parsed, ok := ParseCompressionType(ct.String())
		require.True(t, ok, ct.String())
		assert.Equal(t, ct, parsed)
	}
	_, ok := ParseCompressionType("brotli")
	assert.False(t, ok)
	assert.Equal(t, "unknown", CompressionType(42).String())
	assert.Equal(t, "", CompressionNone.FileExtension())
	assert.Equal(t, ".zst", CompressionZSTD.FileExtension())
}
