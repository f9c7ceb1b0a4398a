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
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AEyeAssistant/pkg/ux"
	"github.com/AleutianAI/AEyeAssistant/services/llm"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/knowledge"
)

// errResetDeclined is returned when the user declines --reset.
var errResetDeclined = errors.New("reset cancelled")

// confirmReset asks before dropping the knowledge class. Replaced in tests.
var confirmReset = func(class string) (bool, error) {
	if !ux.IsTerminal(os.Stdin) {
		return false, fmt.Errorf("refusing to drop %s without a terminal; pass --yes", class)
	}
	var ok bool
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Delete every chunk in %s?", class)).
		Description("The class is dropped and rebuilt from the sources.").
		Affirmative("Delete").
		Negative("Cancel").
		Value(&ok).
		Run()
	return ok, err
}

type indexOptions struct {
	dir   string
	gcs   string
	reset bool
	yes   bool
	watch bool
}

func newIndexDocsCmd(opts *globalOptions) *cobra.Command {
	o := &indexOptions{}

	cmd := &cobra.Command{
		Use:   "index-docs",
		Short: "Index eye-health documents into the knowledge store",
		Long: `Reads .md, .txt and .csv documents from a directory (default
knowledge.docs_dir) or a GCS bucket, splits them into overlapping chunks,
embeds them and writes them to Weaviate. Chunk ids are stable, so
re-indexing updates documents in place.`,
		Example: `  aeye index-docs --dir ./docs
  aeye index-docs --gcs my-bucket/eye-health
  aeye index-docs --reset --yes
  aeye index-docs --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if o.dir != "" && o.gcs != "" {
				return errors.New("--dir and --gcs are mutually exclusive")
			}
			if o.watch && o.gcs != "" {
				return errors.New("--watch only works with a local directory")
			}
			if o.dir == "" {
				o.dir = cfg.Knowledge.DocsDir
			}
			logger, err := setupLogging(cfg, "indexer", false)
			if err != nil {
				return err
			}
			defer logger.Close()
			printer := opts.printer()

			if err := cfg.Knowledge.Weaviate.Validate(); err != nil {
				return fmt.Errorf("knowledge.weaviate: %w", err)
			}
			client, err := knowledge.NewClient(cfg.Knowledge.Weaviate)
			if err != nil {
				return err
			}
			embedder, err := llm.NewEmbedder(cfg.EmbedderSettings())
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if err := client.Ready(ctx); err != nil {
				return fmt.Errorf("weaviate is not ready: %w", err)
			}
			if o.reset {
				if !o.yes {
					ok, err := confirmReset(client.Class())
					if err != nil {
						return err
					}
					if !ok {
						return errResetDeclined
					}
				}
				if err := knowledge.DropSchema(ctx, client); err != nil {
					return fmt.Errorf("drop %s: %w", client.Class(), err)
				}
				printer.Warning(fmt.Sprintf("Dropped %s", client.Class()))
			}
			if err := knowledge.EnsureSchema(ctx, client); err != nil {
				return err
			}

			indexer, err := knowledge.NewIndexer(client, embedder, 0)
			if err != nil {
				return err
			}
			src, closeSrc, err := indexSource(ctx, o)
			if err != nil {
				return err
			}
			defer closeSrc()

			if err := runIndex(ctx, indexer, src, printer); err != nil {
				return err
			}
			if !o.watch {
				return nil
			}

			watcher, err := knowledge.NewWatcher(o.dir, 0, func(ctx context.Context) error {
				return runIndex(ctx, indexer, src, printer)
			})
			if err != nil {
				return err
			}
			printer.Info(fmt.Sprintf("Watching %s for changes, Ctrl+C to stop", o.dir))
			return watcher.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&o.dir, "dir", "", "directory to index (default knowledge.docs_dir)")
	cmd.Flags().StringVar(&o.gcs, "gcs", "", "GCS bucket[/prefix] to index instead of a directory")
	cmd.Flags().BoolVar(&o.reset, "reset", false, "drop the knowledge class before indexing")
	cmd.Flags().BoolVarP(&o.yes, "yes", "y", false, "skip the --reset confirmation")
	cmd.Flags().BoolVarP(&o.watch, "watch", "w", false, "keep running and re-index on change")
	return cmd
}

// indexSource opens the directory or GCS source selected by the flags.
func indexSource(ctx context.Context, o *indexOptions) (knowledge.Source, func(), error) {
	if o.gcs == "" {
		return knowledge.NewDirSource(o.dir), func() {}, nil
	}
	bucket, prefix := splitGCSPath(o.gcs)
	src, err := knowledge.NewGCSSource(ctx, bucket, prefix)
	if err != nil {
		return nil, nil, err
	}
	return src, func() { _ = src.Close() }, nil
}

// splitGCSPath splits "bucket/prefix" and strips a gs:// scheme.
func splitGCSPath(p string) (bucket, prefix string) {
	p = strings.TrimPrefix(p, "gs://")
	bucket, prefix, _ = strings.Cut(p, "/")
	return bucket, prefix
}

// documentIndexer is satisfied by *knowledge.Indexer.
type documentIndexer interface {
	IndexSource(ctx context.Context, src knowledge.Source) (knowledge.IndexStats, error)
}

func runIndex(ctx context.Context, ix documentIndexer, src knowledge.Source, printer *ux.Printer) error {
	stats, err := ix.IndexSource(ctx, src)
	if err != nil {
		return err
	}
	printer.Summary("documents", stats.Documents, "chunks", stats.Chunks, "failed", stats.Failed)
	if stats.Failed > 0 {
		printer.Warning(fmt.Sprintf("%d documents failed to index; see the log", stats.Failed))
		return nil
	}
	printer.Success("Knowledge store updated")
	return nil
}
