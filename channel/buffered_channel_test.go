package channel

import (
	"bytes"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MegAtonBoom/bookkeeper/core"
	"github.com/MegAtonBoom/bookkeeper/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFile wraps a FileHandle and counts ReadAt calls. When maxChunk is
// set, every ReadAt returns at most maxChunk bytes to exercise short reads.
type countingFile struct {
	sys.FileHandle
	reads    atomic.Int64
	maxChunk int
}

func (f *countingFile) ReadAt(p []byte, off int64) (int, error) {
	f.reads.Add(1)
	if f.maxChunk > 0 && len(p) > f.maxChunk {
		p = p[:f.maxChunk]
	}
	return f.FileHandle.ReadAt(p, off)
}

func openTempFile(t *testing.T, initial []byte) sys.FileHandle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "channel.dat")
	require.NoError(t, os.WriteFile(path, initial, 0644))
	f, err := sys.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	return f
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.New(rand.NewSource(int64(n))).Read(data)
	require.NoError(t, err)
	return data
}

func TestNew_Validation(t *testing.T) {
	f := openTempFile(t, nil)
	defer f.Close()

	_, err := New(nil, 16, 0)
	assert.ErrorIs(t, err, core.ErrNullReference)

	_, err = New(f, 0, 0)
	assert.ErrorIs(t, err, core.ErrIllegalArgument)

	_, err = New(f, 16, -1)
	assert.ErrorIs(t, err, core.ErrIllegalArgument)

	bc, err := New(f, 16, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), bc.Position())
	assert.Equal(t, int64(7), bc.FileChannelPosition())
	assert.Equal(t, 16, bc.Capacity())
}

func TestBufferedChannel_ReadArguments(t *testing.T) {
	const buffSize = 256

	tests := []struct {
		name    string
		dst     []byte
		pos     int64
		length  int
		want    int
		wantErr error
	}{
		{"nil destination negative position", nil, -1, 1, 0, core.ErrNullReference},
		{"negative position and length", make([]byte, buffSize), -1, -1, 0, core.ErrIllegalArgument},
		{"empty destination negative position", []byte{}, -1, 257, 0, core.ErrIllegalArgument},
		{"position past end negative length", make([]byte, buffSize), 257, -1, 0, core.ErrOutOfRange},
		{"nil destination position past end", nil, 257, 1, 0, core.ErrNullReference},
		{"position and length past end", make([]byte, buffSize), 257, 257, 0, core.ErrOutOfRange},
		{"empty destination too long", []byte{}, 0, 257, 0, core.ErrShortRead},
		{"empty destination negative length", []byte{}, 0, -1, 0, core.ErrIllegalArgument},
		{"nil destination at start", nil, 0, 1, 0, core.ErrNullReference},
		{"destination smaller than length", make([]byte, 4), 0, 8, 0, core.ErrShortRead},
		{"last byte", make([]byte, buffSize), 255, 1, 1, nil},
		{"whole stream", make([]byte, buffSize), 0, buffSize, buffSize, nil},
		{"empty read at end", make([]byte, buffSize), buffSize, 0, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := openTempFile(t, nil)
			bc, err := New(f, buffSize*2, 0)
			require.NoError(t, err)
			defer bc.Close()

			data := randomBytes(t, buffSize)
			_, err = bc.Write(data)
			require.NoError(t, err)

			n, err := bc.Read(tt.dst, tt.pos, tt.length)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, n)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
			assert.Equal(t, data[tt.pos:tt.pos+int64(tt.length)], tt.dst[:tt.length])
		})
	}
}

func TestBufferedChannel_FullBufferLastByte(t *testing.T) {
	f := openTempFile(t, nil)
	bc, err := New(f, 256, 0)
	require.NoError(t, err)
	defer bc.Close()

	data := randomBytes(t, 256)
	n, err := bc.Write(data)
	require.NoError(t, err)
	assert.Equal(t, 256, n)

	dst := make([]byte, 256)
	n, err = bc.Read(dst, 255, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, data[255], dst[0])

	_, err = bc.Read(make([]byte, 512), 0, 257)
	assert.ErrorIs(t, err, core.ErrShortRead)
	assert.True(t, core.IsIOError(err))
}

func TestBufferedChannel_WriteFlushesWhenFull(t *testing.T) {
	f := openTempFile(t, nil)
	bc, err := New(f, 16, 0)
	require.NoError(t, err)
	defer bc.Close()

	data := randomBytes(t, 40)
	_, err = bc.Write(data)
	require.NoError(t, err)

	assert.Equal(t, int64(32), bc.FileChannelPosition(), "two full buffers should have been flushed")
	assert.Equal(t, 8, bc.BufferedBytes())
	assert.Equal(t, int64(40), bc.Position())

	stat, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(32), stat.Size())

	dst := make([]byte, 40)
	n, err := bc.Read(dst, 0, 40)
	require.NoError(t, err)
	assert.Equal(t, 40, n)
	assert.Equal(t, data, dst)

	require.NoError(t, bc.Flush())
	assert.Equal(t, int64(40), bc.FileChannelPosition())
	assert.Zero(t, bc.BufferedBytes())
}

func TestBufferedChannel_BufferOnlyReadDoesNoFileIO(t *testing.T) {
	f := &countingFile{FileHandle: openTempFile(t, nil)}
	bc, err := New(f, 64, 0)
	require.NoError(t, err)
	defer bc.Close()

	_, err = bc.Write(randomBytes(t, 100))
	require.NoError(t, err)
	start := bc.FileChannelPosition()
	require.Equal(t, int64(64), start)

	remaining := int(bc.Position() - start)
	dst := make([]byte, remaining)
	n, err := bc.Read(dst, start, remaining)
	require.NoError(t, err)
	assert.Equal(t, remaining, n)
	assert.Zero(t, f.reads.Load(), "reading the buffered tail must not touch the file")
}

func TestBufferedChannel_PrefilledFile(t *testing.T) {
	prefix := []byte("25 test pourpouse bytesss")
	require.Len(t, prefix, 25)

	t.Run("read flushed prefix", func(t *testing.T) {
		bc, err := New(openTempFile(t, prefix), 512, int64(len(prefix)))
		require.NoError(t, err)
		defer bc.Close()
		_, err = bc.Write(randomBytes(t, 256))
		require.NoError(t, err)

		dst := make([]byte, 256)
		n, err := bc.Read(dst, 0, 25)
		require.NoError(t, err)
		assert.Equal(t, 25, n)
		assert.Equal(t, prefix, dst[:25])
	})

	t.Run("read straddling the boundary", func(t *testing.T) {
		bc, err := New(openTempFile(t, prefix), 512, int64(len(prefix)))
		require.NoError(t, err)
		defer bc.Close()
		tail := randomBytes(t, 256)
		_, err = bc.Write(tail)
		require.NoError(t, err)

		dst := make([]byte, 30)
		n, err := bc.Read(dst, 10, 30)
		require.NoError(t, err)
		assert.Equal(t, 30, n)
		assert.Equal(t, prefix[10:], dst[:15])
		assert.Equal(t, tail[:15], dst[15:])
	})

	t.Run("start position beyond empty file", func(t *testing.T) {
		bc, err := New(openTempFile(t, nil), 512, 232)
		require.NoError(t, err)
		defer bc.Close()
		_, err = bc.Write(randomBytes(t, 256))
		require.NoError(t, err)

		_, err = bc.Read(make([]byte, 256), 0, 25)
		assert.ErrorIs(t, err, core.ErrShortRead, "the file holds none of the bytes below the start position")
	})
}

func TestBufferedChannel_ShortFileReadsAreLooped(t *testing.T) {
	data := randomBytes(t, 100)
	f := &countingFile{FileHandle: openTempFile(t, data), maxChunk: 7}
	bc, err := New(f, 32, int64(len(data)))
	require.NoError(t, err)
	defer bc.Close()

	dst := make([]byte, len(data))
	n, err := bc.Read(dst, 0, len(data))
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, dst)
	assert.Greater(t, f.reads.Load(), int64(1))
}

func TestBufferedChannel_WriteThenReadBack(t *testing.T) {
	const capacity = 128
	f := openTempFile(t, nil)
	bc, err := New(f, capacity, 0)
	require.NoError(t, err)
	defer bc.Close()

	rng := rand.New(rand.NewSource(42))
	var all []byte
	for i := 0; i < 200; i++ {
		chunk := make([]byte, rng.Intn(capacity+1))
		rng.Read(chunk)
		before := bc.Position()

		_, err := bc.Write(chunk)
		require.NoError(t, err)
		all = append(all, chunk...)

		dst := make([]byte, len(chunk))
		n, err := bc.Read(dst, before, len(chunk))
		require.NoError(t, err)
		require.Equal(t, len(chunk), n)
		require.True(t, bytes.Equal(chunk, dst), "iteration %d", i)
	}

	dst := make([]byte, len(all))
	_, err = bc.Read(dst, 0, len(all))
	require.NoError(t, err)
	assert.Equal(t, all, dst)
}

func TestBufferedChannel_ConcurrentReaders(t *testing.T) {
	const (
		capacity = 64
		blocks   = 500
	)
	f := openTempFile(t, nil)
	bc, err := New(f, capacity, 0)
	require.NoError(t, err)
	defer bc.Close()

	pattern := func(off int64) byte { return byte(off % 251) }

	var wg sync.WaitGroup
	done := make(chan struct{})
	errs := make(chan error, 4)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dst := make([]byte, capacity*2)
			for {
				select {
				case <-done:
					return
				default:
				}
				end := bc.Position()
				if end == 0 {
					continue
				}
				length := len(dst)
				if int64(length) > end {
					length = int(end)
				}
				pos := end - int64(length)
				if _, err := bc.Read(dst, pos, length); err != nil {
					errs <- err
					return
				}
				for i := 0; i < length; i++ {
					if dst[i] != pattern(pos+int64(i)) {
						errs <- io.ErrUnexpectedEOF
						return
					}
				}
			}
		}()
	}

	block := make([]byte, 37)
	var off int64
	for i := 0; i < blocks; i++ {
		for j := range block {
			block[j] = pattern(off + int64(j))
		}
		_, err := bc.Write(block)
		require.NoError(t, err)
		off += int64(len(block))
	}
	close(done)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent read failed: %v", err)
	}
}

func TestBufferedChannel_SyncAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.dat")
	f, err := sys.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)

	bc, err := New(f, 1024, 0)
	require.NoError(t, err)
	data := randomBytes(t, 100)
	_, err = bc.Write(data)
	require.NoError(t, err)

	require.NoError(t, bc.Sync())
	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)

	_, err = bc.Write([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, bc.Close())
	require.NoError(t, bc.Close(), "second close is a no-op")

	onDisk, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, append(data, []byte("tail")...), onDisk)

	_, err = bc.Write([]byte("x"))
	assert.Error(t, err)
}

func TestBufferedChannel_AbandonDropsBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abandon.dat")
	f, err := sys.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)

	bc, err := New(f, 64, 0)
	require.NoError(t, err)
	_, err = bc.Write([]byte("durable"))
	require.NoError(t, err)
	require.NoError(t, bc.Flush())
	_, err = bc.Write([]byte("pending"))
	require.NoError(t, err)

	require.NoError(t, bc.Abandon())
	require.NoError(t, bc.Close(), "close after abandon is a no-op")

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), onDisk)

	_, err = bc.Write([]byte("x"))
	assert.Error(t, err)
}
