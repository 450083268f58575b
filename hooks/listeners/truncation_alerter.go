package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/MegAtonBoom/bookkeeper/hooks"
)

// TruncationAlerterListener logs a warning when a journal scan stops at a
// partial frame and an error when a scan fails. A partial frame is expected
// at the tail of the newest journal after a crash; anywhere else it points
// at lost writes.
type TruncationAlerterListener struct {
	logger *slog.Logger
}

// NewTruncationAlerterListener creates a new listener for journal scans.
func NewTruncationAlerterListener(logger *slog.Logger) *TruncationAlerterListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &TruncationAlerterListener{
		logger: logger.With("component", "TruncationAlerterListener"),
	}
}

// OnEvent handles the PostJournalScan event.
func (l *TruncationAlerterListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventPostJournalScan {
		return nil // Ignore other events
	}

	payload, ok := event.Payload().(hooks.PostJournalScanPayload)
	if !ok {
		l.logger.Error("Received PostJournalScan event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}

	switch {
	case payload.Error != nil:
		l.logger.Error("Journal scan failed",
			"journal_id", fmt.Sprintf("%x", payload.JournalID),
			"start_offset", payload.StartOffset,
			"end_offset", payload.EndOffset,
			"error", payload.Error,
		)
	case payload.Truncated:
		l.logger.Warn("Journal ends with a partial frame",
			"journal_id", fmt.Sprintf("%x", payload.JournalID),
			"end_offset", payload.EndOffset,
			"frames", payload.Frames,
		)
	}
	return nil
}

// Priority defines the execution order.
func (l *TruncationAlerterListener) Priority() int { return 100 }

// IsAsync indicates this listener can run in the background.
func (l *TruncationAlerterListener) IsAsync() bool { return true }
