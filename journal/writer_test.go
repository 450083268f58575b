package journal

import (
	"expvar"
	"fmt"
	"os"
	"testing"

	"github.com/MegAtonBoom/bookkeeper/core"
	"github.com/MegAtonBoom/bookkeeper/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_AppendAndScan(t *testing.T) {
	written := new(expvar.Int)
	j := newTestJournal(t, func(o *Options) {
		o.WriteBufferSize = 64
		o.BytesWritten = written
	})

	w, err := j.CreateWriter(0x42)
	require.NoError(t, err)
	assert.Equal(t, core.FileHeaderSize, w.Position())

	var offsets []int64
	var payloads [][]byte
	for i := 0; i < 50; i++ {
		payload := []byte(fmt.Sprintf("ledger-entry-%03d", i))
		off, err := w.AddEntry(uint64(i%3), uint64(i), payload)
		require.NoError(t, err)
		offsets = append(offsets, off)
		payloads = append(payloads, payload)
	}
	end := w.Position()
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "second close is a no-op")

	assert.Equal(t, end, testutil.FileSize(t, w.Path()))
	assert.Equal(t, end-core.FileHeaderSize, written.Value())

	rec := &frameRecorder{}
	scanned, err := j.ScanJournal(0x42, 0, rec)
	require.NoError(t, err)
	assert.Equal(t, end, scanned)
	require.Len(t, rec.frames, 50)
	assert.Equal(t, offsets, rec.offsets)
	for i, f := range rec.frames {
		assert.Equal(t, uint64(i%3), f.LedgerID)
		assert.Equal(t, uint64(i), f.EntryID)
		assert.Equal(t, payloads[i], f.Payload)
	}

	_, err = w.AddEntry(1, 1, []byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestWriter_ScanWhileOpen(t *testing.T) {
	j := newTestJournal(t, func(o *Options) { o.WriteBufferSize = 1024 })
	w, err := j.CreateWriter(1)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.AddEntry(1, 0, []byte("durable"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	mark := w.LogMark()

	_, err = w.AddEntry(1, 1, []byte("still buffered"))
	require.NoError(t, err)

	scanner := &recordingScanner{}
	end, err := j.ScanJournal(1, 0, scanner)
	require.NoError(t, err)
	assert.Len(t, scanner.calls, 1, "only flushed frames are visible on disk")
	assert.Equal(t, mark.Offset, end)
	assert.Equal(t, core.LogMark{JournalID: 1, Offset: end}, mark)
}

func TestWriter_LogMarkBeforeSync(t *testing.T) {
	j := newTestJournal(t)
	w, err := j.CreateWriter(3)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, core.LogMark{JournalID: 3, Offset: core.FileHeaderSize}, w.LogMark())
}

func TestWriter_PreallocationKeepsFileSize(t *testing.T) {
	j := newTestJournal(t, func(o *Options) {
		o.WriteBufferSize = 16
		o.PreallocSize = 4096
	})
	w, err := j.CreateWriter(5)
	require.NoError(t, err)
	for i := 0; i < 300; i++ {
		_, err := w.AddEntry(9, uint64(i), []byte("preallocated"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Sync())
	assert.Equal(t, w.Position(), testutil.FileSize(t, w.Path()))
	require.NoError(t, w.Close())

	scanner := &recordingScanner{}
	_, err = j.ScanJournal(5, 0, scanner)
	require.NoError(t, err)
	assert.Len(t, scanner.calls, 300)
}

func TestWriter_Errors(t *testing.T) {
	j := newTestJournal(t)

	_, err := j.CreateWriter(-1)
	assert.ErrorIs(t, err, core.ErrIllegalArgument)

	w, err := j.CreateWriter(7)
	require.NoError(t, err)
	defer w.Close()

	_, err = j.CreateWriter(7)
	assert.ErrorIs(t, err, os.ErrExist)

	_, err = w.AddEntry(1, 1, nil)
	assert.ErrorIs(t, err, core.ErrNullReference)
}

func TestWriter_FailsPermanentlyAfterWriteError(t *testing.T) {
	faults := testutil.InjectWriteFaults(t)
	j := newTestJournal(t, func(o *Options) { o.WriteBufferSize = 64 })
	w, err := j.CreateWriter(1)
	require.NoError(t, err)

	_, err = w.AddEntry(1, 0, []byte("first"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	durable := w.LogMark()
	assert.Equal(t, core.FileHeaderSize+FrameOverhead+5, durable.Offset)
	require.NoError(t, w.Err())

	faults.Fail()
	_, err = w.AddEntry(1, 1, make([]byte, 200))
	require.ErrorIs(t, err, testutil.ErrInjectedWrite)
	faults.Heal()

	_, err = w.AddEntry(1, 2, []byte("third"))
	assert.ErrorIs(t, err, testutil.ErrInjectedWrite, "a failed journal accepts no more entries")
	assert.ErrorIs(t, w.Sync(), testutil.ErrInjectedWrite)
	assert.ErrorIs(t, w.Flush(), testutil.ErrInjectedWrite)
	assert.ErrorIs(t, w.Err(), testutil.ErrInjectedWrite)
	assert.Equal(t, durable, w.LogMark())
	require.NoError(t, w.Close())

	rec := &frameRecorder{}
	end, err := j.ScanJournal(1, 0, rec)
	require.NoError(t, err)
	assert.Equal(t, durable.Offset, end)
	require.Len(t, rec.frames, 1)
	assert.Equal(t, []byte("first"), rec.frames[0].Payload)
}

func TestWriter_ShouldRoll(t *testing.T) {
	j := newTestJournal(t, func(o *Options) { o.MaxJournalSize = 100 })
	w, err := j.CreateWriter(1)
	require.NoError(t, err)
	defer w.Close()

	assert.False(t, w.ShouldRoll())
	_, err = w.AddEntry(1, 1, make([]byte, 80))
	require.NoError(t, err)
	assert.True(t, w.ShouldRoll())
}

func TestJournal_NextJournalID(t *testing.T) {
	j := newTestJournal(t)
	first, err := j.NextJournalID()
	require.NoError(t, err)
	assert.Positive(t, first)

	future := first + 1_000_000
	testutil.WriteJournalFile(t, j.Dir(), future, nil, nil)
	next, err := j.NextJournalID()
	require.NoError(t, err)
	assert.Equal(t, future+1, next)
}
