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

import "context"

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// TabularAnalyst answers natural-language questions over the user's recorded
// health sessions.
//
// # Description
//
// Implementations return a textual finding. Any error is converted to a
// CollaboratorError by the TabularEvidence step.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type TabularAnalyst interface {
	Ask(ctx context.Context, question string) (string, error)
}

// KnowledgeStore returns up to k passages ranked by relevance.
//
// # Description
//
// The returned slice is ordered best match first. Fewer than k passages is
// not an error.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type KnowledgeStore interface {
	Search(ctx context.Context, query string, k int) ([]string, error)
}

// Completer turns a prompt into text.
//
// # Description
//
// Used by SmallTalkResponder, Contextualizer, AnswerGenerator and
// QueryRewriter with different prompt templates. Blank text is treated as a
// failure by every caller.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// MemoryStore persists ConversationState per thread.
//
// # Description
//
// Load returns (nil, nil) when the thread is unknown. Save followed by Load
// for the same thread must return the saved History. Durability is defined
// by the implementation.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use across threads. The engine
// never issues two concurrent calls for the same thread.
type MemoryStore interface {
	Load(ctx context.Context, threadID string) (*ConversationState, error)
	Save(ctx context.Context, threadID string, state *ConversationState) error
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// TabularAnalystFunc adapts a function to the TabularAnalyst interface.
type TabularAnalystFunc func(ctx context.Context, question string) (string, error)

// Ask calls f.
func (f TabularAnalystFunc) Ask(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}
