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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/engine"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/storage/badger"
)

const threadKeyPrefix = "thread:"

// BadgerStore persists conversation state in an embedded BadgerDB.
//
// # Description
//
// Each thread is one key, "thread:<id>", holding the JSON encoding of its
// ConversationState. Every Save refreshes the TTL, so a thread expires ttl
// after its last turn.
//
// # Thread Safety
//
// Safe for concurrent use. Badger transactions provide isolation.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
}

// NewBadgerStore wraps an open database. The store owns db and closes it
// on Close.
func NewBadgerStore(db *badger.DB, ttl time.Duration) (*BadgerStore, error) {
	if db == nil {
		return nil, errors.New("badger database is required")
	}
	return &BadgerStore{db: db, ttl: ttl}, nil
}

// OpenBadgerStore opens the database described by cfg and wraps it.
func OpenBadgerStore(cfg badger.Config, ttl time.Duration) (*BadgerStore, error) {
	db, err := badger.OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	return NewBadgerStore(db, ttl)
}

func threadKey(threadID string) []byte {
	return []byte(threadKeyPrefix + threadID)
}

// Load decodes the stored state, or returns (nil, nil) for an unknown or
// expired thread.
func (s *BadgerStore) Load(ctx context.Context, threadID string) (*engine.ConversationState, error) {
	if threadID == "" {
		return nil, ErrEmptyThreadID
	}
	raw, err := s.db.Get(ctx, threadKey(threadID))
	if errors.Is(err, badger.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	var state engine.ConversationState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", threadID, err)
	}
	return &state, nil
}

// Save encodes state and writes it with the store TTL.
func (s *BadgerStore) Save(ctx context.Context, threadID string, state *engine.ConversationState) error {
	if threadID == "" {
		return ErrEmptyThreadID
	}
	if state == nil {
		return errors.New("state is nil")
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode thread %s: %w", threadID, err)
	}
	if err := s.db.Set(ctx, threadKey(threadID), raw, s.ttl); err != nil {
		return fmt.Errorf("save thread %s: %w", threadID, err)
	}
	return nil
}

// Delete removes a thread.
func (s *BadgerStore) Delete(ctx context.Context, threadID string) error {
	if threadID == "" {
		return ErrEmptyThreadID
	}
	return s.db.Delete(ctx, threadKey(threadID))
}

// List returns the ids of all live threads.
func (s *BadgerStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.db.Keys(ctx, []byte(threadKeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(string(k), threadKeyPrefix))
	}
	return ids, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
