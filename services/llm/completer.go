// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// CompleterOptions tunes a Completer.
//
// # Fields
//
//   - Params: Sampling parameters sent with every prompt.
//   - RequestsPerSecond: Sustained request rate. Zero disables limiting.
//   - Burst: Requests allowed above the sustained rate. Defaults to 1.
//   - MaxAttempts: Attempts per prompt for retryable failures. Defaults to 3.
//   - InitialBackoff: First retry delay, doubled per attempt. Defaults to 1s.
type CompleterOptions struct {
	Params            GenerationParams
	RequestsPerSecond float64
	Burst             int
	MaxAttempts       int
	InitialBackoff    time.Duration
}

// Completer adapts an LLMClient to a single-prompt completion contract.
//
// # Description
//
// Every call waits on a token-bucket limiter, then calls the backend. Status
// errors in the 429/502/503/504 family are retried with exponential backoff.
// Blank output is returned as an error so callers never see empty text as a
// success.
//
// # Thread Safety
//
// Safe for concurrent use if the wrapped client is.
type Completer struct {
	client  LLMClient
	opts    CompleterOptions
	limiter *rate.Limiter
}

// ErrBlankCompletion is returned when the backend produced only whitespace.
var ErrBlankCompletion = errors.New("llm returned blank completion")

// NewCompleter wraps client.
func NewCompleter(client LLMClient, opts CompleterOptions) *Completer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Completer{
		client:  client,
		opts:    opts,
		limiter: rate.NewLimiter(limit, opts.Burst),
	}
}

// Complete sends prompt to the backend and returns trimmed text.
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	backoff := c.opts.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
		text, err := c.client.Generate(ctx, prompt, c.opts.Params)
		if err == nil {
			text = strings.TrimSpace(text)
			if text == "" {
				return "", ErrBlankCompletion
			}
			return text, nil
		}
		lastErr = err

		var statusErr *StatusError
		if !errors.As(err, &statusErr) || !statusErr.Retryable() || attempt == c.opts.MaxAttempts {
			break
		}
		slog.Warn("llm call failed, retrying",
			"attempt", attempt, "status", statusErr.StatusCode, "backoff", backoff)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", lastErr
}
