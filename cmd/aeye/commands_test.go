// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AEyeAssistant/pkg/ux"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/engine"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/healthlog"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/knowledge"
)

// scriptedReader returns lines in order, then io.EOF.
type scriptedReader struct {
	lines []string
}

func (r *scriptedReader) ReadLine() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

type fakeRunner struct {
	calls  []string
	result *engine.TurnResult
	err    error
}

func (f *fakeRunner) RunTurn(_ context.Context, threadID, msg string) (*engine.TurnResult, error) {
	f.calls = append(f.calls, threadID+":"+msg)
	return f.result, f.err
}

type recordingSink struct {
	batches [][]healthlog.Session
	failOn  int
}

func (s *recordingSink) WriteSessions(_ context.Context, sessions []healthlog.Session) error {
	if s.failOn > 0 && len(s.batches)+1 == s.failOn {
		return errors.New("influx down")
	}
	s.batches = append(s.batches, sessions)
	return nil
}

type fakeIndexer struct {
	stats knowledge.IndexStats
	err   error
}

func (f fakeIndexer) IndexSource(context.Context, knowledge.Source) (knowledge.IndexStats, error) {
	return f.stats, f.err
}

func plainPrinter() (*ux.Printer, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return &ux.Printer{Out: out, Err: errOut, Plain: true}, out, errOut
}

func validSession(id string) healthlog.Session {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return healthlog.Session{
		ID:              id,
		Start:           start,
		End:             start.Add(45 * time.Minute),
		DurationMinutes: 45,
		AvgEAR:          0.28,
		AvgDistanceCM:   55,
	}
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := newRootCmd()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"serve", "chat", "ingest-logs", "index-docs", "config"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("plain"))
}

func TestChatLoop_AnswersUntilExit(t *testing.T) {
	// Arrange
	runner := &fakeRunner{result: &engine.TurnResult{Answer: "Blink more often."}}
	reader := &scriptedReader{lines: []string{"my eyes are dry", "   ", "/exit", "never read"}}
	printer, out, _ := plainPrinter()

	// Act
	err := chatLoop(context.Background(), runner, reader, printer, "t-1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"t-1:my eyes are dry"}, runner.calls)
	assert.Contains(t, out.String(), "Blink more often.")
	assert.Contains(t, out.String(), "Goodbye.")
}

func TestChatLoop_EOFEnds(t *testing.T) {
	runner := &fakeRunner{result: &engine.TurnResult{Answer: "hello"}}
	printer, _, _ := plainPrinter()

	err := chatLoop(context.Background(), runner, &scriptedReader{}, printer, "t")

	assert.NoError(t, err)
	assert.Empty(t, runner.calls)
}

func TestChatLoop_NilResultPrintsError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("boom")}
	printer, _, errOut := plainPrinter()

	err := chatLoop(context.Background(), runner, &scriptedReader{lines: []string{"hi"}}, printer, "t")

	require.NoError(t, err)
	assert.Contains(t, errOut.String(), "ERROR: ")
}

func TestChatLoop_WarningsNoted(t *testing.T) {
	runner := &fakeRunner{result: &engine.TurnResult{
		Answer:   engine.FailureAnswer,
		Warnings: []string{"knowledge unavailable"},
	}}
	printer, out, _ := plainPrinter()

	err := chatLoop(context.Background(), runner, &scriptedReader{lines: []string{"why"}}, printer, "t")

	require.NoError(t, err)
	assert.Contains(t, out.String(), "evidence was unavailable")
}

func TestChatLoop_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &fakeRunner{}
	printer, _, _ := plainPrinter()

	err := chatLoop(ctx, runner, &scriptedReader{lines: []string{"hi"}}, printer, "t")

	assert.NoError(t, err)
	assert.Empty(t, runner.calls)
}

func TestPartitionSessions(t *testing.T) {
	bad := validSession("bad")
	bad.AvgEAR = 1.5

	valid, invalid := partitionSessions([]healthlog.Session{validSession("a"), bad, validSession("b")})

	assert.Len(t, valid, 2)
	require.Len(t, invalid, 1)
	assert.Equal(t, "bad", invalid[0].ID)
}

func TestIngestSessions_Batches(t *testing.T) {
	// Arrange
	sink := &recordingSink{}
	var sessions []healthlog.Session
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		sessions = append(sessions, validSession(id))
	}
	bad := validSession("x")
	bad.ID = ""
	sessions = append(sessions, bad)

	// Act
	stats, err := ingestSessions(context.Background(), sink, sessions, 2)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, ingestStats{Read: 6, Written: 5, Skipped: 1}, stats)
	require.Len(t, sink.batches, 3)
	assert.Len(t, sink.batches[0], 2)
	assert.Len(t, sink.batches[2], 1)
}

func TestIngestSessions_WriteErrorKeepsEarlierBatches(t *testing.T) {
	sink := &recordingSink{failOn: 2}
	sessions := []healthlog.Session{validSession("a"), validSession("b"), validSession("c")}

	stats, err := ingestSessions(context.Background(), sink, sessions, 2)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "write sessions 2-2")
	assert.Equal(t, 2, stats.Written)
	assert.Len(t, sink.batches, 1)
}

func TestIngestSessions_DefaultBatch(t *testing.T) {
	sink := &recordingSink{}

	stats, err := ingestSessions(context.Background(), sink, []healthlog.Session{validSession("a")}, 0)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Written)
}

func TestConfigInit_WritesAndRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aeye.yaml")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"config", "init", path})
	require.NoError(t, root.Execute())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	root = newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"config", "init", path})
	err = root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestSplitGCSPath(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"docs", "docs", ""},
		{"docs/eye-health", "docs", "eye-health"},
		{"gs://docs/eye/health", "docs", "eye/health"},
	}
	for _, tt := range tests {
		bucket, prefix := splitGCSPath(tt.in)
		assert.Equal(t, tt.bucket, bucket, tt.in)
		assert.Equal(t, tt.prefix, prefix, tt.in)
	}
}

func TestRunIndex_Summary(t *testing.T) {
	printer, out, errOut := plainPrinter()

	err := runIndex(context.Background(), fakeIndexer{stats: knowledge.IndexStats{Documents: 3, Chunks: 12}}, nil, printer)

	require.NoError(t, err)
	assert.Contains(t, out.String(), "SUMMARY: documents=3 chunks=12 failed=0")
	assert.Empty(t, errOut.String())
}

func TestRunIndex_FailuresWarn(t *testing.T) {
	printer, _, errOut := plainPrinter()

	err := runIndex(context.Background(), fakeIndexer{stats: knowledge.IndexStats{Documents: 2, Failed: 1}}, nil, printer)

	require.NoError(t, err)
	assert.Contains(t, errOut.String(), "WARN: 1 documents failed")
}

func TestRunIndex_Error(t *testing.T) {
	printer, _, _ := plainPrinter()

	err := runIndex(context.Background(), fakeIndexer{err: knowledge.ErrUnavailable}, nil, printer)

	assert.ErrorIs(t, err, knowledge.ErrUnavailable)
}

func TestIndexDocs_RejectsDirAndGCS(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"index-docs", "--dir", "docs", "--gcs", "bucket"})

	err := root.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}
