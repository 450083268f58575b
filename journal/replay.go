package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/MegAtonBoom/bookkeeper/core"
	"github.com/MegAtonBoom/bookkeeper/hooks"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ReplayResult summarises a replay of a journal directory.
type ReplayResult struct {
	From     core.LogMark
	To       core.LogMark
	Journals int
	Frames   int64
}

// Replay scans every journal at or after from, oldest first. The journal
// named by from is scanned from from.Offset, later ones from their first
// frame. The returned mark points right after the last frame delivered.
//
// A PreJournalReplay listener may move the starting mark or veto the replay.
func (j *Journal) Replay(ctx context.Context, from core.LogMark, scanner Scanner) (ReplayResult, error) {
	ctx, span := j.tracer.Start(ctx, "Journal.Replay")
	defer span.End()

	start := time.Now()
	mark := from
	if err := j.hooks.Trigger(ctx, hooks.NewPreJournalReplayEvent(hooks.PreJournalReplayPayload{Dir: j.dir, Mark: &mark})); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pre_replay_hook_failed")
		return ReplayResult{From: from, To: from}, fmt.Errorf("journal replay of %s cancelled: %w", j.dir, err)
	}

	result := ReplayResult{From: mark, To: mark}
	err := j.replay(ctx, mark, scanner, &result)

	span.SetAttributes(
		attribute.String("journal.dir", j.dir),
		attribute.Int("journal.replayed_files", result.Journals),
		attribute.Int64("journal.replayed_frames", result.Frames),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "journal_replay_failed")
		j.logger.Error("Journal replay failed", "dir", j.dir, "from", mark.String(), "reached", result.To.String(), "error", err)
	} else {
		j.logger.Info("Journal replay finished", "dir", j.dir, "from", mark.String(), "to", result.To.String(), "journals", result.Journals, "frames", result.Frames, "duration", time.Since(start))
	}

	_ = j.hooks.Trigger(ctx, hooks.NewPostJournalReplayEvent(hooks.PostJournalReplayPayload{
		Dir:      j.dir,
		From:     mark,
		To:       result.To,
		Journals: result.Journals,
		Frames:   result.Frames,
		Duration: time.Since(start),
		Error:    err,
	}))
	return result, err
}

func (j *Journal) replay(ctx context.Context, mark core.LogMark, scanner Scanner, result *ReplayResult) error {
	if scanner == nil {
		return fmt.Errorf("journal replay: %w: scanner is nil", core.ErrNullReference)
	}
	ids, err := ListJournalIDs(j.dir, func(id int64) bool { return id >= mark.JournalID })
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		j.logger.Info("No journal to replay", "dir", j.dir, "from", mark.String())
		return nil
	}

	for i, id := range ids {
		var offset int64
		if id == mark.JournalID {
			offset = mark.Offset
		}
		res, err := j.Scan(ctx, id, offset, scanner)
		result.Frames += int64(res.Frames)
		if err != nil {
			return err
		}
		result.Journals++
		result.To = core.LogMark{JournalID: id, Offset: res.EndOffset}
		if res.Truncated && i < len(ids)-1 {
			j.logger.Warn("Journal other than the newest ends with a partial frame", "journal_id", id, "offset", res.EndOffset)
		}
	}
	return nil
}
