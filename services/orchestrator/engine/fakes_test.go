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
	"context"
	"errors"
	"strings"
	"sync"
)

// =============================================================================
// Mock Completer
// =============================================================================

// promptKind identifies which template produced a prompt.
type promptKind string

const (
	kindSmallTalk     promptKind = "small_talk"
	kindContextualize promptKind = "contextualize"
	kindGrounded      promptKind = "grounded"
	kindDirect        promptKind = "direct"
	kindRewrite       promptKind = "rewrite"
)

func classifyPrompt(prompt string) promptKind {
	switch {
	case strings.Contains(prompt, "STANDALONE QUESTION:"):
		return kindContextualize
	case strings.Contains(prompt, "REWRITTEN QUESTION:"):
		return kindRewrite
	case strings.Contains(prompt, "CONTEXT:"):
		return kindGrounded
	case strings.Contains(prompt, "Reply briefly and politely"):
		return kindSmallTalk
	}
	return kindDirect
}

// MockCompleter answers prompts by template kind and records every call.
type MockCompleter struct {
	mu        sync.Mutex
	responses map[promptKind]func(prompt string) (string, error)
	prompts   map[promptKind][]string
	calls     int
}

func NewMockCompleter() *MockCompleter {
	return &MockCompleter{
		responses: map[promptKind]func(string) (string, error){
			kindSmallTalk:     func(string) (string, error) { return "Hello! How can I help with your eyes today?", nil },
			kindContextualize: func(string) (string, error) { return "What is the 20-20-20 rule?", nil },
			kindGrounded:      func(string) (string, error) { return "Based on the context, take regular breaks from the screen.", nil },
			kindDirect:        func(string) (string, error) { return "Please consult an eye-care professional for that question.", nil },
			kindRewrite:       func(string) (string, error) { return "What are the symptoms of digital eye strain?", nil },
		},
		prompts: make(map[promptKind][]string),
	}
}

func (m *MockCompleter) On(kind promptKind, fn func(prompt string) (string, error)) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[kind] = fn
	return m
}

func (m *MockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	kind := classifyPrompt(prompt)
	m.mu.Lock()
	m.calls++
	m.prompts[kind] = append(m.prompts[kind], prompt)
	fn := m.responses[kind]
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fn(prompt)
}

func (m *MockCompleter) Calls(kind promptKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts[kind])
}

func (m *MockCompleter) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockCompleter) Prompts(kind promptKind) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts[kind]...)
}

// =============================================================================
// Mock Collaborators
// =============================================================================

// MockAnalyst answers tabular questions.
type MockAnalyst struct {
	mu      sync.Mutex
	answer  func(question string) (string, error)
	asked   []string
	blockOn chan struct{}
}

func (m *MockAnalyst) Ask(ctx context.Context, question string) (string, error) {
	m.mu.Lock()
	m.asked = append(m.asked, question)
	fn := m.answer
	block := m.blockOn
	m.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fn == nil {
		return "You recorded 4 sessions with an average screen distance of 52.0 cm (safe).", nil
	}
	return fn(question)
}

func (m *MockAnalyst) Asked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.asked...)
}

// MockStore returns passages from the knowledge store.
type MockStore struct {
	mu       sync.Mutex
	search   func(query string, k int) ([]string, error)
	queries  []string
	lastK    int
	searches int
}

func (m *MockStore) Search(_ context.Context, query string, k int) ([]string, error) {
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.lastK = k
	m.searches++
	fn := m.search
	m.mu.Unlock()
	if fn == nil {
		return []string{
			"Digital eye strain symptoms include dryness, blurred vision and headaches.",
			"The 20-20-20 rule: every 20 minutes look at something 20 feet away for 20 seconds.",
		}, nil
	}
	return fn(query, k)
}

func (m *MockStore) Searches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searches
}

// MockMemory keeps deep copies of saved states.
type MockMemory struct {
	mu      sync.Mutex
	states  map[string]*ConversationState
	saves   int
	loadErr error
	saveErr error
}

func NewMockMemory() *MockMemory {
	return &MockMemory{states: make(map[string]*ConversationState)}
}

func (m *MockMemory) Load(_ context.Context, threadID string) (*ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.states[threadID].Clone(), nil
}

func (m *MockMemory) Save(_ context.Context, threadID string, state *ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.states[threadID] = state.Clone()
	return nil
}

func (m *MockMemory) Get(threadID string) *ConversationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[threadID].Clone()
}

func (m *MockMemory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

var errBoom = errors.New("boom")
