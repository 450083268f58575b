package core

import "fmt"

// LogMark is a position in the journal stream: everything before Offset in
// journal JournalID, and every older journal, is durable in ledger storage.
type LogMark struct {
	JournalID int64
	Offset    int64
}

// Compare orders marks by journal id, then by offset.
func (m LogMark) Compare(other LogMark) int {
	switch {
	case m.JournalID < other.JournalID:
		return -1
	case m.JournalID > other.JournalID:
		return 1
	case m.Offset < other.Offset:
		return -1
	case m.Offset > other.Offset:
		return 1
	default:
		return 0
	}
}

func (m LogMark) String() string {
	return fmt.Sprintf("(%x, %d)", m.JournalID, m.Offset)
}
