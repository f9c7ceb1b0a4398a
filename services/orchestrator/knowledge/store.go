// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge is the eye-health reference library behind the
// engine's semantic evidence.
//
// # Description
//
// Documents are split into overlapping chunks, embedded and stored in a
// Weaviate class with caller-supplied vectors. Store answers similarity
// queries for the engine; Indexer builds and refreshes the class from a
// directory or a GCS prefix; Watcher re-indexes a directory on change.
//
// # Thread Safety
//
// Store, Indexer and Client are safe for concurrent use.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("aeye.knowledge")

// Embedder turns texts into vectors, one per input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// StoreOptions tunes similarity search.
type StoreOptions struct {
	// MinCertainty drops matches below this certainty. Zero keeps all.
	MinCertainty float32

	// Timeout bounds one shared search. Zero means DefaultSearchTimeout.
	Timeout time.Duration
}

// DefaultSearchTimeout bounds a coalesced search when StoreOptions.Timeout is zero.
const DefaultSearchTimeout = 30 * time.Second

// Store answers top-k similarity queries over the knowledge class.
//
// # Description
//
// Identical concurrent queries share one embedding and one Weaviate round
// trip. The shared call runs detached from any one caller's cancellation
// and is bounded by StoreOptions.Timeout; each caller still returns as soon
// as its own context ends. Passages come back best first; blank passages
// are skipped.
type Store struct {
	client   *Client
	embedder Embedder
	opts     StoreOptions
	group    singleflight.Group
}

// NewStore creates a Store.
func NewStore(client *Client, embedder Embedder, opts StoreOptions) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("weaviate client is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSearchTimeout
	}
	return &Store{client: client, embedder: embedder, opts: opts}, nil
}

// Search returns up to k passages most similar to query.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - query: The standalone question.
//   - k: Maximum passages to return. Must be at least 1.
//
// # Outputs
//
//   - []string: Passage texts, best first. May be empty.
//   - error: ErrEmptyQuery, a *SearchError, ErrCircuitOpen, or ctx.Err()
//     when the caller gives up before a shared search finishes.
func (s *Store) Search(ctx context.Context, query string, k int) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", k)
	}

	key := fmt.Sprintf("%d\x00%s", k, query)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
		defer cancel()
		return s.search(sctx, query, k)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		passages := res.Val.([]string)
		if res.Shared {
			passages = append([]string(nil), passages...)
		}
		return passages, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) search(ctx context.Context, query string, k int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "knowledge.Store.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k), attribute.String("class", s.client.Class()))

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, &SearchError{Op: "embed", Retryable: isRetryable(err), Err: err}
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		err := fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
		span.SetStatus(codes.Error, "embedding failed")
		return nil, &SearchError{Op: "embed", Err: err}
	}

	nearVector := s.client.wv.GraphQL().NearVectorArgBuilder().WithVector(vectors[0])
	if s.opts.MinCertainty > 0 {
		nearVector = nearVector.WithCertainty(s.opts.MinCertainty)
	}
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	var result *models.GraphQLResponse
	err = s.client.Execute(ctx, "near_vector", func(ctx context.Context) error {
		resp, err := s.client.wv.GraphQL().Get().
			WithClassName(s.client.Class()).
			WithFields(fields...).
			WithNearVector(nearVector).
			WithLimit(k).
			Do(ctx)
		if err != nil {
			return err
		}
		if len(resp.Errors) > 0 {
			return fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
		}
		result = resp
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "near vector search failed")
		return nil, err
	}

	passages := parsePassages(result, s.client.Class(), k)
	span.SetAttributes(attribute.Int("passages", len(passages)))
	slog.Debug("Knowledge search complete", "k", k, "passages", len(passages))
	return passages, nil
}

// parsePassages extracts chunk content from a GraphQL Get response.
func parsePassages(result *models.GraphQLResponse, class string, k int) []string {
	if result == nil {
		return nil
	}
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[class].([]interface{})
	if !ok {
		return nil
	}
	passages := make([]string, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		content, _ := m["content"].(string)
		if strings.TrimSpace(content) == "" {
			continue
		}
		passages = append(passages, content)
		if len(passages) == k {
			break
		}
	}
	return passages
}
