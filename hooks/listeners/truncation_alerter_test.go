package listeners

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/MegAtonBoom/bookkeeper/hooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncationAlerterListener_OnEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	listener := NewTruncationAlerterListener(logger)

	testCases := []struct {
		name    string
		payload hooks.PostJournalScanPayload
		want    string
	}{
		{"Clean", hooks.PostJournalScanPayload{JournalID: 1, Frames: 3}, ""},
		{"Truncated", hooks.PostJournalScanPayload{JournalID: 0x2a, EndOffset: 90, Truncated: true}, "Journal ends with a partial frame"},
		{"Failed", hooks.PostJournalScanPayload{JournalID: 0x2a, Error: errors.New("checksum mismatch")}, "Journal scan failed"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf.Reset()
			err := listener.OnEvent(context.Background(), hooks.NewPostJournalScanEvent(tc.payload))
			require.NoError(t, err)
			if tc.want == "" {
				assert.Empty(t, buf.String())
				return
			}
			assert.Contains(t, buf.String(), tc.want)
			assert.Contains(t, buf.String(), "journal_id=2a")
			assert.Contains(t, buf.String(), "component=TruncationAlerterListener")
		})
	}

	// Ignores other event types.
	buf.Reset()
	require.NoError(t, listener.OnEvent(context.Background(), hooks.NewPostJournalRetireEvent(hooks.PostJournalRetirePayload{JournalID: 1})))
	assert.Empty(t, buf.String())
}

func TestTruncationAlerterListener_NilLogger(t *testing.T) {
	listener := NewTruncationAlerterListener(nil)
	require.NotNil(t, listener)
	assert.NoError(t, listener.OnEvent(context.Background(), hooks.NewPostJournalScanEvent(hooks.PostJournalScanPayload{Truncated: true})))
}
