// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"fmt"
	"time"
)

// Default tuning values.
const (
	DefaultMaxRetries          = 3
	DefaultKRetrieval          = 3
	DefaultCollaboratorTimeout = 30 * time.Second
	DefaultMinAnswerLen        = 10
	DefaultMinContentWordLen   = 4
	DefaultContextWindow       = 10
)

// Config holds the engine's tuning knobs.
//
// # Description
//
// Config is supplied by the configuration layer, which validates it at
// startup. Zero values are replaced by defaults in New, except MaxRetries
// where zero is a legal budget; use a negative value to request the default.
//
// # Fields
//
//   - MaxRetries: rewrite-and-regenerate cycles allowed per turn
//   - KRetrieval: passages requested per sub-question
//   - CollaboratorTimeout: deadline applied to each collaborator call
//   - MinAnswerLen: answers shorter than this (in runes) are rejected
//   - MinContentWordLen: words must be longer than this to count as overlap
//   - ContextWindow: history lines shown to the Contextualizer
type Config struct {
	MaxRetries          int
	KRetrieval          int
	CollaboratorTimeout time.Duration
	MinAnswerLen        int
	MinContentWordLen   int
	ContextWindow       int
}

// DefaultConfig returns the defaults used by the original assistant.
func DefaultConfig() Config {
	return Config{
		MaxRetries:          DefaultMaxRetries,
		KRetrieval:          DefaultKRetrieval,
		CollaboratorTimeout: DefaultCollaboratorTimeout,
		MinAnswerLen:        DefaultMinAnswerLen,
		MinContentWordLen:   DefaultMinContentWordLen,
		ContextWindow:       DefaultContextWindow,
	}
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.KRetrieval == 0 {
		cfg.KRetrieval = DefaultKRetrieval
	}
	if cfg.CollaboratorTimeout == 0 {
		cfg.CollaboratorTimeout = DefaultCollaboratorTimeout
	}
	if cfg.MinAnswerLen == 0 {
		cfg.MinAnswerLen = DefaultMinAnswerLen
	}
	if cfg.MinContentWordLen == 0 {
		cfg.MinContentWordLen = DefaultMinContentWordLen
	}
	if cfg.ContextWindow == 0 {
		cfg.ContextWindow = DefaultContextWindow
	}
	return cfg
}

func (c Config) validate() error {
	if c.KRetrieval < 1 {
		return fmt.Errorf("k_retrieval must be positive, got %d", c.KRetrieval)
	}
	if c.CollaboratorTimeout < 0 {
		return fmt.Errorf("collaborator timeout must not be negative, got %s", c.CollaboratorTimeout)
	}
	if c.MinAnswerLen < 0 || c.MinContentWordLen < 0 || c.ContextWindow < 0 {
		return fmt.Errorf("length thresholds must not be negative")
	}
	return nil
}

// maxSteps bounds the state loop independently of the retry counter.
// Each pass visits at most Plan, TabularFetch, SemanticFetch, Filter,
// Generate, Grade and Rewrite.
func (c Config) maxSteps() int {
	return 4 + 7*(c.MaxRetries+1)
}
