package listeners

import (
	"context"
	"expvar"
	"io"
	"log/slog"
	"sync"

	"github.com/MegAtonBoom/bookkeeper/hooks"
)

// ReplayStatsListener publishes cumulative journal replay metrics.
var (
	// Use sync.Once to ensure these expvars are only ever created once,
	// making NewReplayStatsListener idempotent.
	replayMetricsOnce   sync.Once
	replayedFrames      *expvar.Int
	replayedJournals    *expvar.Int
	replayDurationMs    *expvar.Int
	replayEvents        *expvar.Int
	replayFailureEvents *expvar.Int
)

func initReplayMetrics() {
	replayMetricsOnce.Do(func() {
		replayedFrames = expvar.NewInt("bookie_replay_frames_total")
		replayedJournals = expvar.NewInt("bookie_replay_journals_total")
		replayDurationMs = expvar.NewInt("bookie_replay_duration_ms_total")
		replayEvents = expvar.NewInt("bookie_replay_events_total")
		replayFailureEvents = expvar.NewInt("bookie_replay_failures_total")
		// Computed on every scrape of the metrics endpoint.
		expvar.Publish("bookie_replay_frames_per_second", expvar.Func(func() interface{} {
			ms := replayDurationMs.Value()
			if ms == 0 {
				return 0.0
			}
			return float64(replayedFrames.Value()) * 1000 / float64(ms)
		}))
	})
}

type ReplayStatsListener struct {
	logger *slog.Logger

	frames     *expvar.Int
	journals   *expvar.Int
	durationMs *expvar.Int
	events     *expvar.Int
	failures   *expvar.Int
}

// NewReplayStatsListener creates a new listener.
func NewReplayStatsListener(logger *slog.Logger) *ReplayStatsListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	initReplayMetrics()
	return &ReplayStatsListener{
		logger:     logger.With("component", "ReplayStatsListener"),
		frames:     replayedFrames,
		journals:   replayedJournals,
		durationMs: replayDurationMs,
		events:     replayEvents,
		failures:   replayFailureEvents,
	}
}

// OnEvent is called when a PostJournalReplay event is triggered.
func (l *ReplayStatsListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	payload, ok := event.Payload().(hooks.PostJournalReplayPayload)
	if !ok {
		return nil
	}

	l.frames.Add(payload.Frames)
	l.journals.Add(int64(payload.Journals))
	l.durationMs.Add(payload.Duration.Milliseconds())
	l.events.Add(1)
	if payload.Error != nil {
		l.failures.Add(1)
	}

	l.logger.Info("Journal replay recorded",
		"dir", payload.Dir,
		"from", payload.From.String(),
		"to", payload.To.String(),
		"journals", payload.Journals,
		"frames", payload.Frames,
	)
	return nil
}

// Priority defines the execution order. Lower numbers run first.
func (l *ReplayStatsListener) Priority() int {
	return 100
}

// IsAsync indicates this listener can run in the background.
func (l *ReplayStatsListener) IsAsync() bool {
	return true
}
