// journal-inspect scans journal files offline and prints what they hold.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/MegAtonBoom/bookkeeper/journal"
	"github.com/spf13/cobra"
)

type inspectOptions struct {
	dir     string
	id      string
	offset  int64
	verbose bool
}

func newRootCmd() *cobra.Command {
	var opts inspectOptions
	c := &cobra.Command{
		Use:           "journal-inspect --dir <journal dir>/current [--id <hex id> [--offset N]]",
		Short:         "Scan bookie journal files offline and summarise their frames",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	c.Flags().StringVar(&opts.dir, "dir", "", "Journal directory, usually <journal dir>/current")
	c.Flags().StringVar(&opts.id, "id", "", "Hex id of the journal to scan; every journal when empty")
	c.Flags().Int64Var(&opts.offset, "offset", 0, "Offset to start scanning from (single journal only)")
	c.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print every frame")
	return c
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "journal-inspect:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts inspectOptions, out io.Writer) error {
	if opts.dir == "" {
		return errors.New("--dir is required")
	}
	j, err := journal.New(journal.Options{
		Dir:    opts.dir,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		return err
	}

	var ids []int64
	if opts.id != "" {
		id, err := strconv.ParseInt(opts.id, 16, 64)
		if err != nil {
			return fmt.Errorf("invalid journal id %q: %w", opts.id, err)
		}
		ids = []int64{id}
	} else {
		if opts.offset != 0 {
			return errors.New("--offset needs --id")
		}
		if ids, err = journal.ListJournalIDs(opts.dir, nil); err != nil {
			return err
		}
	}

	// Frame lines are printed below the table so they do not break its layout.
	var frames bytes.Buffer
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOURNAL\tFRAMES\tBYTES\tLEDGERS\tP50\tP99\tMAX\tEND\tSTATE")
	for _, id := range ids {
		summary, err := journal.NewSummaryScanner()
		if err != nil {
			return err
		}
		var scanner journal.Scanner = summary
		if opts.verbose {
			scanner = &framePrinter{out: &frames, id: id, next: summary}
		}
		res, err := j.Scan(ctx, id, opts.offset, scanner)
		if err != nil {
			w.Flush()
			return err
		}
		s := summary.Summary()
		state := res.State.String()
		if res.Truncated {
			state += " (partial tail)"
		}
		fmt.Fprintf(w, "%x\t%d\t%d\t%d\t%.0f\t%.0f\t%d\t%d\t%s\n",
			id, s.Frames, s.PayloadBytes, s.DistinctLedgers, s.PayloadP50, s.PayloadP99, s.MaxPayload, res.EndOffset, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if frames.Len() == 0 {
		return nil
	}
	fmt.Fprintln(out)
	_, err = frames.WriteTo(out)
	return err
}

// framePrinter prints each frame before handing it to next.
type framePrinter struct {
	out  io.Writer
	id   int64
	next journal.FrameScanner
}

func (p *framePrinter) Process(length int, offset int64, payload []byte) error {
	fmt.Fprintf(p.out, "journal=%x offset=%d length=%d\n", p.id, offset, length)
	return p.next.Process(length, offset, payload)
}

func (p *framePrinter) ProcessFrame(offset int64, frame journal.Frame) error {
	fmt.Fprintf(p.out, "journal=%x offset=%d ledger=%d entry=%d length=%d\n", p.id, offset, frame.LedgerID, frame.EntryID, frame.Length)
	return p.next.ProcessFrame(offset, frame)
}
