package journal

import (
	"testing"

	"github.com/MegAtonBoom/bookkeeper/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryScanner(t *testing.T) {
	j := newTestJournal(t)
	var frames [][]byte
	for i := 0; i < 100; i++ {
		frames = append(frames, EncodeFrame(uint64(i%7), uint64(i), make([]byte, i+1)))
	}
	_, offsets := testutil.WriteJournalFile(t, j.Dir(), 1, frames, nil)

	s, err := NewSummaryScanner()
	require.NoError(t, err)
	_, err = j.ScanJournal(1, 0, s)
	require.NoError(t, err)

	sum := s.Summary()
	assert.Equal(t, int64(100), sum.Frames)
	assert.Equal(t, int64(100*101/2), sum.PayloadBytes)
	assert.Equal(t, uint64(7), sum.DistinctLedgers)
	assert.Equal(t, offsets[0], sum.FirstOffset)
	assert.Equal(t, offsets[99], sum.LastOffset)
	assert.Equal(t, 100, sum.MaxPayload)
	assert.InDelta(t, 50, sum.PayloadP50, 5)
	assert.InDelta(t, 99, sum.PayloadP99, 5)

	ledgers := s.Ledgers()
	assert.True(t, ledgers.Contains(6))
	assert.False(t, ledgers.Contains(7))
}

func TestSummaryScanner_PlainProcess(t *testing.T) {
	s, err := NewSummaryScanner()
	require.NoError(t, err)
	require.NoError(t, s.Process(10, 14, make([]byte, 10)))

	sum := s.Summary()
	assert.Equal(t, int64(1), sum.Frames)
	assert.Zero(t, sum.DistinctLedgers)
	assert.Equal(t, int64(14), sum.FirstOffset)
}

func TestSummaryScanner_Empty(t *testing.T) {
	s, err := NewSummaryScanner()
	require.NoError(t, err)
	sum := s.Summary()
	assert.Zero(t, sum.Frames)
	assert.Zero(t, sum.PayloadP50)
	assert.Equal(t, int64(-1), sum.FirstOffset)
}
