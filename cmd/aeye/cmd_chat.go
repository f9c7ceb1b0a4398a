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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AEyeAssistant/pkg/ux"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/engine"
)

// chatHistorySize is how many submitted lines up-arrow can recall.
const chatHistorySize = 50

// turnRunner is satisfied by *engine.Engine.
type turnRunner interface {
	RunTurn(ctx context.Context, threadID, userMessage string) (*engine.TurnResult, error)
}

func newChatCmd(opts *globalOptions) *cobra.Command {
	var threadID string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		Long: `Runs the conversation engine in-process against the configured
backends. Use --thread to resume a conversation kept in persistent memory.
Type /exit or press Ctrl+D to leave.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			// Console logging defaults to warnings during chat.
			if !verbose && opts.logLevel == "" {
				cfg.Logging.Level = "warn"
			}
			logger, err := setupLogging(cfg, "chat", false)
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			svc, err := orchestrator.New(ctx, cfg, &orchestrator.Options{SkipTelemetry: true})
			if err != nil {
				return fmt.Errorf("failed to start the assistant: %w", err)
			}
			defer svc.Close()

			threadID = strings.TrimSpace(threadID)
			if threadID == "" {
				threadID = uuid.NewString()
			}
			printer := opts.printer()
			printer.Title("AEye assistant")
			printer.Muted(fmt.Sprintf("thread %s, /exit to quit", threadID))

			return chatLoop(ctx, svc.Engine(), ux.NewLineReader("you> ", chatHistorySize), printer, threadID)
		},
	}
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "resume this thread id")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show engine logs")
	return cmd
}

// chatLoop reads lines until EOF, /exit or cancellation and answers each
// one on threadID.
//
// # Description
//
// Blank lines are skipped. A turn that fails still prints the engine's
// apology; only a missing result is reported as an error line.
func chatLoop(ctx context.Context, runner turnRunner, reader ux.LineReader, printer *ux.Printer, threadID string) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := reader.ReadLine()
		if errors.Is(err, io.EOF) {
			printer.Muted("Goodbye.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			printer.Muted("Goodbye.")
			return nil
		}

		result, err := runner.RunTurn(ctx, threadID, line)
		if err != nil {
			slog.Debug("Turn failed", "thread_id", threadID, "error", err)
		}
		if result == nil {
			printer.Error("The assistant could not answer. Please try again.")
			continue
		}
		printer.Answer(result.Answer)
		if len(result.Warnings) > 0 {
			printer.Muted("Some evidence was unavailable for this answer.")
		}
	}
}
