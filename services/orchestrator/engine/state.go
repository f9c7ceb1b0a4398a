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

// =============================================================================
// Roles and Messages
// =============================================================================

// Role tags a message in the conversation history.
type Role string

const (
	// RoleUser marks a message written by the person chatting.
	RoleUser Role = "user"

	// RoleAssistant marks a message produced by the engine.
	RoleAssistant Role = "assistant"
)

// Message is a single role-tagged entry of a thread's history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// =============================================================================
// Route
// =============================================================================

// Route is the first branch decision of a turn.
//
// # Description
//
// Route is a closed enumeration. Every switch over a Route must handle both
// variants; unknown wire names are rejected by UnmarshalText.
type Route int

const (
	// RouteUnset is the zero value before the Classifier runs.
	RouteUnset Route = iota

	// RouteSmallTalk sends the turn to the SmallTalkResponder.
	RouteSmallTalk

	// RouteDomainQuestion sends the turn through retrieval and generation.
	RouteDomainQuestion
)

// String returns the wire name of the route.
func (r Route) String() string {
	switch r {
	case RouteSmallTalk:
		return "small_talk"
	case RouteDomainQuestion:
		return "domain_question"
	case RouteUnset:
		return "unset"
	}
	return fmt.Sprintf("route(%d)", int(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r Route) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Route) UnmarshalText(b []byte) error {
	switch string(b) {
	case "small_talk":
		*r = RouteSmallTalk
	case "domain_question":
		*r = RouteDomainQuestion
	case "unset", "":
		*r = RouteUnset
	default:
		return fmt.Errorf("unknown route %q", string(b))
	}
	return nil
}

// =============================================================================
// Intent
// =============================================================================

// Intent is the evidence-source category chosen by the QueryPlanner.
//
// # Description
//
// Intent is a closed enumeration. The planner sets it fresh on every planning
// pass; it is never carried from one pass to the next.
//
// # Variants
//
//   - IntentTabular: the user's own recorded session data
//   - IntentSemantic: general domain knowledge from the document store
//   - IntentBoth: both sources
//   - IntentFallback: no retrieval, answer from the question alone
type Intent int

const (
	// IntentUnset is the zero value before planning.
	IntentUnset Intent = iota
	IntentTabular
	IntentSemantic
	IntentBoth
	IntentFallback
)

// String returns the wire name of the intent.
func (i Intent) String() string {
	switch i {
	case IntentTabular:
		return "tabular"
	case IntentSemantic:
		return "semantic"
	case IntentBoth:
		return "both"
	case IntentFallback:
		return "fallback"
	case IntentUnset:
		return "unset"
	}
	return fmt.Sprintf("intent(%d)", int(i))
}

// MarshalText implements encoding.TextMarshaler.
func (i Intent) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Intent) UnmarshalText(b []byte) error {
	parsed, err := ParseIntent(string(b))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// ParseIntent converts a wire name back to an Intent.
func ParseIntent(s string) (Intent, error) {
	switch s {
	case "tabular":
		return IntentTabular, nil
	case "semantic":
		return IntentSemantic, nil
	case "both":
		return IntentBoth, nil
	case "fallback":
		return IntentFallback, nil
	case "unset", "":
		return IntentUnset, nil
	}
	return IntentUnset, fmt.Errorf("unknown intent %q", s)
}

// UsesTabular reports whether the intent consults the tabular analyst.
func (i Intent) UsesTabular() bool {
	return i == IntentTabular || i == IntentBoth
}

// UsesSemantic reports whether the intent consults the knowledge store.
func (i Intent) UsesSemantic() bool {
	return i == IntentSemantic || i == IntentBoth
}

// Retrieves reports whether any evidence source is consulted.
func (i Intent) Retrieves() bool {
	return i.UsesTabular() || i.UsesSemantic()
}

// =============================================================================
// ConversationState
// =============================================================================

// ConversationState is the record threaded through every step of a turn.
//
// # Description
//
// One ConversationState exists per in-flight turn. Between turns only
// ThreadID and History are meaningful; every other field is reset when the
// next turn begins and is fully overwritten by the step that owns it.
//
// # Field Ownership
//
//   - Route: Classifier
//   - StandaloneQuestion: Contextualizer, QueryRewriter
//   - Intent, SubQuestions: QueryPlanner (SubQuestions also QueryRewriter)
//   - TabularEvidence: TabularEvidence step
//   - SemanticEvidence: SemanticEvidence step, EvidenceFilter
//   - Evidence: TabularEvidence step (tabular-only path), EvidenceFilter
//   - Answer: SmallTalkResponder, AnswerGenerator
//   - AnswerAccepted: AnswerQualityGate
//   - RetryCount: QueryRewriter
//
// # Thread Safety
//
// Not safe for concurrent use. The Engine serializes turns per thread and
// hands stores a deep copy.
type ConversationState struct {
	ThreadID           string    `json:"thread_id"`
	History            []Message `json:"message_history"`
	RawQuestion        string    `json:"raw_question,omitempty"`
	StandaloneQuestion string    `json:"standalone_question,omitempty"`
	Intent             Intent    `json:"intent"`
	SubQuestions       []string  `json:"sub_questions,omitempty"`
	TabularEvidence    []string  `json:"tabular_evidence,omitempty"`
	SemanticEvidence   []string  `json:"semantic_evidence,omitempty"`
	Evidence           []string  `json:"evidence,omitempty"`
	Answer             string    `json:"answer,omitempty"`
	RetryCount         int       `json:"retry_count"`
	AnswerAccepted     bool      `json:"answer_accepted"`
	Route              Route     `json:"route"`
	UpdatedAt          time.Time `json:"updated_at,omitempty"`
}

// NewConversationState creates an empty state for a thread.
func NewConversationState(threadID string) *ConversationState {
	return &ConversationState{ThreadID: threadID}
}

// Clone returns a deep copy of the state.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	c := *s
	c.History = append([]Message(nil), s.History...)
	c.SubQuestions = cloneStrings(s.SubQuestions)
	c.TabularEvidence = cloneStrings(s.TabularEvidence)
	c.SemanticEvidence = cloneStrings(s.SemanticEvidence)
	c.Evidence = cloneStrings(s.Evidence)
	return &c
}

// LastMessage returns the most recent history entry, if any.
func (s *ConversationState) LastMessage() (Message, bool) {
	if len(s.History) == 0 {
		return Message{}, false
	}
	return s.History[len(s.History)-1], true
}

// beginTurn resets every per-turn field and appends the new user message.
func (s *ConversationState) beginTurn(userMessage string, now time.Time) {
	s.History = append(s.History, Message{Role: RoleUser, Content: userMessage, Timestamp: now})
	s.RawQuestion = userMessage
	s.StandaloneQuestion = ""
	s.Intent = IntentUnset
	s.SubQuestions = nil
	s.TabularEvidence = nil
	s.SemanticEvidence = nil
	s.Evidence = nil
	s.Answer = ""
	s.RetryCount = 0
	s.AnswerAccepted = false
	s.Route = RouteUnset
}

// finishTurn records the answer in history.
func (s *ConversationState) finishTurn(now time.Time) {
	s.History = append(s.History, Message{Role: RoleAssistant, Content: s.Answer, Timestamp: now})
	s.UpdatedAt = now
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
