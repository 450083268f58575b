package main

import "expvar"

var (
	journalBytesWritten   = expvar.NewInt("bookie_journal_bytes_written_total")
	journalFramesReplayed = expvar.NewInt("bookie_journal_frames_replayed_total")
	journalTruncations    = expvar.NewInt("bookie_journal_truncations_total")
)
