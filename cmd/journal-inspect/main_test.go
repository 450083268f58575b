package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/MegAtonBoom/bookkeeper/core"
	"github.com/MegAtonBoom/bookkeeper/internal/testutil"
	"github.com/MegAtonBoom/bookkeeper/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_AllJournals(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteJournalFile(t, dir, 0x1a, [][]byte{
		journal.EncodeFrame(1, 0, []byte("one")),
		journal.EncodeFrame(2, 0, []byte("two")),
	}, nil)
	testutil.WriteJournalFile(t, dir, 0x1b, [][]byte{
		journal.EncodeFrame(1, 1, []byte("three")),
	}, []byte{1, 2, 3})

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), inspectOptions{dir: dir}, &out))

	got := out.String()
	assert.Contains(t, got, "JOURNAL")
	assert.Regexp(t, `(?m)^1a\s+2\s+6\s+2\s`, got)
	assert.Regexp(t, `(?m)^1b\s+1\s+5\s+1\s.*completed \(partial tail\)$`, got)
}

func TestRun_SingleJournalVerbose(t *testing.T) {
	dir := t.TempDir()
	_, offsets := testutil.WriteJournalFile(t, dir, 0xff, [][]byte{
		journal.EncodeFrame(4, 9, []byte("payload")),
		journal.EncodeFrame(4, 10, []byte("second")),
	}, nil)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), inspectOptions{dir: dir, id: "ff", offset: offsets[1], verbose: true}, &out))

	got := out.String()
	assert.NotContains(t, got, "entry=9")
	assert.Contains(t, got, "ledger=4 entry=10 length=6")
	assert.Regexp(t, `(?m)^ff\s+1\s+6\s+1\s`, got)
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	var out bytes.Buffer

	assert.Error(t, run(ctx, inspectOptions{}, &out))
	assert.Error(t, run(ctx, inspectOptions{dir: dir, id: "xyz"}, &out))
	assert.Error(t, run(ctx, inspectOptions{dir: dir, offset: 10}, &out))

	err := run(ctx, inspectOptions{dir: dir, id: "42"}, &out)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRootCmd(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteJournalFile(t, dir, 0x2c, [][]byte{
		journal.EncodeFrame(7, 0, []byte("abcd")),
	}, nil)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--dir", dir, "--id", "2c", "-v"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	got := out.String()
	assert.Contains(t, got, "journal=2c offset=14 ledger=7 entry=0 length=4")
	assert.Regexp(t, `(?m)^2c\s+1\s+4\s+1\s`, got)
	assert.Less(t, strings.Index(got, "JOURNAL"), strings.Index(got, "ledger=7"), "frame lines follow the table")
	assert.True(t, strings.HasPrefix(got, "JOURNAL"))

	cmd = newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"unexpected"})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}
