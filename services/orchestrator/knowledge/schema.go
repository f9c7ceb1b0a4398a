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

	"github.com/weaviate/weaviate/entities/models"
)

// DefaultClass is the Weaviate class used when none is configured.
const DefaultClass = "EyeHealthChunk"

// ChunkSchema returns the class definition for knowledge chunks.
//
// Vectors are supplied by the indexer, so the class has no vectorizer.
func ChunkSchema(class string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       class,
		Description: "A chunk of an eye-health reference document.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The chunk text.",
				Tokenization: "word",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Path or object name of the parent document.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "chunk_index",
				DataType:        []string{"int"},
				Description:     "Position of the chunk within its document.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the chunk was indexed.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureSchema creates the knowledge class when it does not exist.
func EnsureSchema(ctx context.Context, c *Client) error {
	class := ChunkSchema(c.Class())
	slog.Info("Checking schema", "class", class.Class)

	return c.Execute(ctx, "schema", func(ctx context.Context) error {
		if _, err := c.wv.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
			slog.Info("Schema already exists", "class", class.Class)
			return nil
		}
		slog.Info("Schema not found, creating it", "class", class.Class)
		if err := c.wv.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return fmt.Errorf("create schema for class %s: %w", class.Class, err)
		}
		return nil
	})
}

// DropSchema deletes the knowledge class and every chunk in it.
func DropSchema(ctx context.Context, c *Client) error {
	return c.Execute(ctx, "schema", func(ctx context.Context) error {
		return c.wv.Schema().ClassDeleter().WithClassName(c.Class()).Do(ctx)
	})
}
