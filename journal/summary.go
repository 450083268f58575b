package journal

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"
	tdigest "github.com/caio/go-tdigest/v4"
)

// Summary describes the frames a SummaryScanner has seen.
type Summary struct {
	Frames          int64
	PayloadBytes    int64
	DistinctLedgers uint64
	FirstOffset     int64
	LastOffset      int64
	MaxPayload      int
	PayloadP50      float64
	PayloadP99      float64
}

// SummaryScanner is a FrameScanner that collects statistics about a journal.
// It is safe for concurrent use.
type SummaryScanner struct {
	mu      sync.Mutex
	ledgers *roaring64.Bitmap
	sizes   *tdigest.TDigest
	sum     Summary
}

var _ FrameScanner = (*SummaryScanner)(nil)

// NewSummaryScanner returns an empty SummaryScanner.
func NewSummaryScanner() (*SummaryScanner, error) {
	td, err := tdigest.New()
	if err != nil {
		return nil, fmt.Errorf("tdigest.New failed: %w", err)
	}
	return &SummaryScanner{
		ledgers: roaring64.New(),
		sizes:   td,
		sum:     Summary{FirstOffset: -1, LastOffset: -1},
	}, nil
}

func (s *SummaryScanner) Process(length int, offset int64, payload []byte) error {
	return s.record(0, false, length, offset)
}

func (s *SummaryScanner) ProcessFrame(offset int64, frame Frame) error {
	return s.record(frame.LedgerID, true, int(frame.Length), offset)
}

func (s *SummaryScanner) record(ledgerID uint64, hasLedger bool, length int, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sizes.Add(float64(length)); err != nil {
		return fmt.Errorf("tdigest Add failed: %w", err)
	}
	if hasLedger {
		s.ledgers.Add(ledgerID)
	}
	s.sum.Frames++
	s.sum.PayloadBytes += int64(length)
	if s.sum.FirstOffset < 0 || offset < s.sum.FirstOffset {
		s.sum.FirstOffset = offset
	}
	if offset > s.sum.LastOffset {
		s.sum.LastOffset = offset
	}
	if length > s.sum.MaxPayload {
		s.sum.MaxPayload = length
	}
	return nil
}

// Ledgers returns a copy of the set of ledger ids seen.
func (s *SummaryScanner) Ledgers() *roaring64.Bitmap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledgers.Clone()
}

// Summary returns the statistics collected so far.
func (s *SummaryScanner) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := s.sum
	sum.DistinctLedgers = s.ledgers.GetCardinality()
	if s.sizes.Count() > 0 {
		sum.PayloadP50 = s.sizes.Quantile(0.5)
		sum.PayloadP99 = s.sizes.Quantile(0.99)
	}
	return sum
}
