// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation provides per-thread conversation memory.
//
// # Description
//
// A Store keeps one engine.ConversationState per thread id. Two
// implementations exist: InMemoryStore for development and tests, and
// BadgerStore for a single node that must survive restarts. Both return
// deep copies so callers never share slices with the store.
//
// # Thread Safety
//
// All implementations are safe for concurrent use.
package conversation

import (
	"context"
	"errors"

	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/engine"
)

// ErrEmptyThreadID is returned when an operation receives a blank thread id.
var ErrEmptyThreadID = errors.New("thread id is empty")

// Store is the memory contract used by the orchestrator.
//
// # Description
//
// Store extends engine.MemoryStore with the administrative operations the
// HTTP layer and CLI need. Load returns (nil, nil) for an unknown thread.
type Store interface {
	engine.MemoryStore

	// Delete forgets a thread. Deleting an unknown thread is not an error.
	Delete(ctx context.Context, threadID string) error

	// List returns the ids of all live threads in no particular order.
	List(ctx context.Context) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}
