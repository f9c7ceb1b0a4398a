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
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/healthlog"
)

// defaultIngestBatch is how many sessions go into one InfluxDB write.
const defaultIngestBatch = 500

// ingestStats summarizes an ingest run.
type ingestStats struct {
	Read    int
	Written int
	Skipped int
}

func newIngestLogsCmd(opts *globalOptions) *cobra.Command {
	var csvPath string
	var batch int
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "ingest-logs",
		Short: "Load a summary.csv export into InfluxDB",
		Long: `Parses the vision app's summary.csv and writes every valid session to
the InfluxDB bucket in health_log.influx. Invalid rows are reported and
skipped. Re-ingesting the same file overwrites points instead of
duplicating them.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := setupLogging(cfg, "ingest", false)
			if err != nil {
				return err
			}
			defer logger.Close()
			printer := opts.printer()

			if csvPath == "" {
				csvPath = cfg.HealthLog.CSVPath
			}
			loc, err := cfg.HealthLog.Location()
			if err != nil {
				return err
			}
			sessions, err := readSessionsCSV(csvPath, loc)
			if err != nil {
				return err
			}
			printer.Info(fmt.Sprintf("Parsed %d sessions from %s", len(sessions), csvPath))
			if dryRun {
				valid, invalid := partitionSessions(sessions)
				printer.Summary("valid", len(valid), "invalid", len(invalid))
				return nil
			}

			store, err := healthlog.NewInfluxStore(cfg.HealthLog.Influx)
			if err != nil {
				return fmt.Errorf("health_log.influx: %w", err)
			}
			defer store.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			stats, err := ingestSessions(ctx, store, sessions, batch)
			printer.Summary("read", stats.Read, "written", stats.Written, "skipped", stats.Skipped)
			if err != nil {
				return err
			}
			printer.Success("Sessions ingested")
			return nil
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "summary.csv to load (default health_log.csv_path)")
	cmd.Flags().IntVar(&batch, "batch", defaultIngestBatch, "sessions per write")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and validate only")
	return cmd
}

func readSessionsCSV(path string, loc *time.Location) ([]healthlog.Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	sessions, err := healthlog.ParseSummaryCSV(f, loc)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return sessions, nil
}

// partitionSessions splits sessions by Validate.
func partitionSessions(sessions []healthlog.Session) (valid, invalid []healthlog.Session) {
	for _, s := range sessions {
		if err := s.Validate(); err != nil {
			slog.Warn("Skipping invalid session", "session_id", s.ID, "error", err)
			invalid = append(invalid, s)
			continue
		}
		valid = append(valid, s)
	}
	return valid, invalid
}

// ingestSessions validates sessions and writes the valid ones in batches.
//
// # Outputs
//
//   - ingestStats: Counts so far, also on error.
//   - error: The first write failure. Earlier batches stay written.
func ingestSessions(ctx context.Context, sink healthlog.SessionSink, sessions []healthlog.Session, batch int) (ingestStats, error) {
	if batch < 1 {
		batch = defaultIngestBatch
	}
	valid, invalid := partitionSessions(sessions)
	stats := ingestStats{Read: len(sessions), Skipped: len(invalid)}

	for start := 0; start < len(valid); start += batch {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := min(start+batch, len(valid))
		if err := sink.WriteSessions(ctx, valid[start:end]); err != nil {
			return stats, fmt.Errorf("write sessions %d-%d: %w", start, end-1, err)
		}
		stats.Written += end - start
	}
	return stats, nil
}
