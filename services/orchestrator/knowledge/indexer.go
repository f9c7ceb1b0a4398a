// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate/entities/models"
	"golang.org/x/sync/errgroup"
)

const (
	// ChunkSize is the target chunk length in characters.
	ChunkSize = 1000
	// ChunkOverlap is the number of characters shared by adjacent chunks.
	ChunkOverlap = 200
)

var markdownSeparators = []string{"\n## ", "\n### ", "\n#### ", "\n\n", "\n", ". ", " ", ""}

// chunkNamespace scopes deterministic chunk ids.
var chunkNamespace = uuid.MustParse("6f1c2a9e-7d4b-4e0a-9a51-3c7b1e2d8f40")

// IndexStats summarizes an indexing run.
type IndexStats struct {
	Documents int
	Chunks    int
	Failed    int
}

// Indexer chunks, embeds and writes documents to the knowledge class.
//
// # Description
//
// Chunk ids are derived from the document source and chunk position, so
// indexing the same corpus twice overwrites objects instead of duplicating
// them. Documents are processed concurrently up to Concurrency.
type Indexer struct {
	client      *Client
	embedder    Embedder
	concurrency int
	now         func() time.Time
}

// NewIndexer creates an Indexer. A concurrency below 1 means 4.
func NewIndexer(client *Client, embedder Embedder, concurrency int) (*Indexer, error) {
	if client == nil {
		return nil, fmt.Errorf("weaviate client is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if concurrency < 1 {
		concurrency = 4
	}
	return &Indexer{client: client, embedder: embedder, concurrency: concurrency, now: time.Now}, nil
}

// splitterFor picks separators by file type.
func splitterFor(source string) textsplitter.TextSplitter {
	if filepath.Ext(source) == ".md" {
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(ChunkSize),
			textsplitter.WithChunkOverlap(ChunkOverlap),
			textsplitter.WithSeparators(markdownSeparators),
		)
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(ChunkSize),
		textsplitter.WithChunkOverlap(ChunkOverlap),
	)
}

// ChunkID returns the deterministic object id of a chunk.
func ChunkID(source string, index int) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d", source, index))).String())
}

// IndexSource ensures the schema exists and indexes every document src
// yields.
func (ix *Indexer) IndexSource(ctx context.Context, src Source) (IndexStats, error) {
	docs, err := src.Documents(ctx)
	if err != nil {
		return IndexStats{}, fmt.Errorf("list documents: %w", err)
	}
	if err := EnsureSchema(ctx, ix.client); err != nil {
		return IndexStats{}, err
	}
	return ix.Index(ctx, docs)
}

// Index writes docs to Weaviate.
//
// # Description
//
// The first document that fails to split, embed or write cancels the rest
// and its error is returned. Objects that Weaviate rejects individually are
// counted in Failed and logged.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - docs: Documents to index.
//
// # Outputs
//
//   - IndexStats: Counts for the run, including partial progress on error.
//   - error: The first fatal error, if any.
func (ix *Indexer) Index(ctx context.Context, docs []Document) (IndexStats, error) {
	ctx, span := tracer.Start(ctx, "knowledge.Indexer.Index")
	defer span.End()

	var chunks, failed, indexed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)

	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			n, bad, err := ix.indexDocument(gctx, doc)
			chunks.Add(int64(n))
			failed.Add(int64(bad))
			if err != nil {
				return fmt.Errorf("index %s: %w", doc.Source, err)
			}
			indexed.Add(1)
			return nil
		})
	}
	err := g.Wait()

	stats := IndexStats{
		Documents: int(indexed.Load()),
		Chunks:    int(chunks.Load()),
		Failed:    int(failed.Load()),
	}
	slog.Info("Indexing finished",
		"documents", stats.Documents,
		"chunks", stats.Chunks,
		"failed", stats.Failed)
	return stats, err
}

// indexDocument returns the number of chunks stored and rejected.
func (ix *Indexer) indexDocument(ctx context.Context, doc Document) (int, int, error) {
	parts, err := splitterFor(doc.Source).SplitText(doc.Content)
	if err != nil {
		return 0, 0, fmt.Errorf("split content: %w", err)
	}
	if len(parts) == 0 {
		slog.Warn("No chunks produced after splitting", "source", doc.Source)
		return 0, 0, nil
	}

	vectors, err := ix.embedder.Embed(ctx, parts)
	if err != nil {
		return 0, 0, &SearchError{Op: "embed", Retryable: isRetryable(err), Err: err}
	}
	if len(vectors) != len(parts) {
		return 0, 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(parts))
	}

	ingestedAt := ix.now().UnixMilli()
	objects := make([]*models.Object, len(parts))
	for i, part := range parts {
		objects[i] = &models.Object{
			Class:  ix.client.Class(),
			ID:     ChunkID(doc.Source, i),
			Vector: vectors[i],
			Properties: map[string]interface{}{
				"content":     part,
				"source":      doc.Source,
				"chunk_index": i,
				"ingested_at": ingestedAt,
			},
		}
	}

	var resp []models.ObjectsGetResponse
	err = ix.client.Execute(ctx, "batch", func(ctx context.Context) error {
		r, err := ix.client.wv.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	stored, rejected := 0, 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			rejected++
			for _, e := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item", "source", doc.Source, "error", e.Message)
			}
			continue
		}
		stored++
	}
	slog.Debug("Indexed document", "source", doc.Source, "chunks", stored, "rejected", rejected)
	return stored, rejected, nil
}
