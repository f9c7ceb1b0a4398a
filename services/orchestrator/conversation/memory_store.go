// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/engine"
)

type memoryEntry struct {
	state     *engine.ConversationState
	expiresAt time.Time
}

// InMemoryStore keeps conversation state in a map.
//
// # Description
//
// Entries optionally expire after ttl since their last Save. Expired
// entries are dropped lazily on access. Nothing survives a restart.
type InMemoryStore struct {
	mu      sync.RWMutex
	threads map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemoryStore creates an empty store. A ttl of zero disables expiry.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		threads: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *InMemoryStore) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)
}

// Load returns a copy of the thread's state, or nil if none is stored.
func (s *InMemoryStore) Load(ctx context.Context, threadID string) (*engine.ConversationState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if threadID == "" {
		return nil, ErrEmptyThreadID
	}

	s.mu.RLock()
	entry, ok := s.threads[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if s.expired(entry) {
		s.mu.Lock()
		if cur, ok := s.threads[threadID]; ok && s.expired(cur) {
			delete(s.threads, threadID)
		}
		s.mu.Unlock()
		return nil, nil
	}
	return entry.state.Clone(), nil
}

// Save stores a copy of state under threadID.
func (s *InMemoryStore) Save(ctx context.Context, threadID string, state *engine.ConversationState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if threadID == "" {
		return ErrEmptyThreadID
	}
	entry := memoryEntry{state: state.Clone()}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	s.threads[threadID] = entry
	s.mu.Unlock()
	return nil
}

// Delete removes a thread.
func (s *InMemoryStore) Delete(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.threads, threadID)
	s.mu.Unlock()
	return nil
}

// List returns the ids of unexpired threads.
func (s *InMemoryStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.threads))
	for id, e := range s.threads {
		if !s.expired(e) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }

var _ Store = (*InMemoryStore)(nil)
