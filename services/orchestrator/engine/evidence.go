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
	"fmt"
	"log/slog"
	"strings"
)

// =============================================================================
// TabularEvidence
// =============================================================================

// TabularEvidence asks the tabular analyst every sub-question.
//
// # Description
//
// A failed sub-question becomes a descriptive evidence line so the generator
// knows the data could not be read. When every sub-question fails the lines
// are kept and the step also returns an error wrapping
// ErrEvidenceUnavailable, which the engine records as a warning. Only an
// analyst that is not configured at all yields empty evidence.
//
// # Outputs
//
// Replaces TabularEvidence. On the tabular-only path it also sets Evidence,
// because that path skips the EvidenceFilter.
type TabularEvidence struct {
	analyst TabularAnalyst
	call    caller
	logger  *slog.Logger
}

// Run sets state.TabularEvidence.
func (t TabularEvidence) Run(ctx context.Context, state *ConversationState) error {
	if len(state.SubQuestions) == 0 {
		return invalidState(StepTabularFetch, "sub_questions", "is empty")
	}

	evidence := make([]string, 0, len(state.SubQuestions))
	var failures []error
	for _, q := range state.SubQuestions {
		if err := ctx.Err(); err != nil {
			return err
		}
		answer, err := t.ask(ctx, q)
		if err != nil {
			failures = append(failures, err)
			t.logger.Warn("tabular analyst failed for sub-question",
				"sub_question", q, "error", err)
			evidence = append(evidence, fmt.Sprintf("Session data for %q could not be analysed: %v", q, errors.Unwrap(err)))
			continue
		}
		evidence = append(evidence, answer)
	}

	var result error
	if len(failures) == len(state.SubQuestions) {
		if allNotConfigured(failures) {
			evidence = []string{}
		}
		result = fmt.Errorf("%s: %w: %w", StepTabularFetch, ErrEvidenceUnavailable, errors.Join(failures...))
	}

	state.TabularEvidence = evidence
	if state.Intent == IntentTabular {
		state.SemanticEvidence = []string{}
		state.Evidence = cloneStrings(evidence)
	}
	return result
}

// allNotConfigured reports whether every failure came from a placeholder
// collaborator.
func allNotConfigured(failures []error) bool {
	for _, err := range failures {
		if !errors.Is(err, errNotConfigured) {
			return false
		}
	}
	return true
}

func (t TabularEvidence) ask(ctx context.Context, q string) (string, error) {
	ctx, cancel := t.call.withTimeout(ctx)
	defer cancel()
	answer, err := t.analyst.Ask(ctx, q)
	if err != nil {
		return "", wrapCollaborator(CollaboratorTabular, "ask", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", wrapCollaborator(CollaboratorTabular, "ask", errors.New("empty analysis"))
	}
	return answer, nil
}

// =============================================================================
// SemanticEvidence
// =============================================================================

// SemanticEvidence searches the knowledge store for every sub-question.
//
// # Description
//
// Passages are grouped by sub-question in issue order and keep the store's
// ranking inside each group. A failed sub-question contributes nothing;
// when every sub-question fails the step returns an error wrapping
// ErrEvidenceUnavailable.
type SemanticEvidence struct {
	store  KnowledgeStore
	call   caller
	k      int
	logger *slog.Logger
}

// Run sets state.SemanticEvidence.
func (s SemanticEvidence) Run(ctx context.Context, state *ConversationState) error {
	if len(state.SubQuestions) == 0 {
		return invalidState(StepSemanticFetch, "sub_questions", "is empty")
	}

	passages := make([]string, 0, len(state.SubQuestions)*s.k)
	var failures []error
	for _, q := range state.SubQuestions {
		if err := ctx.Err(); err != nil {
			return err
		}
		found, err := s.search(ctx, q)
		if err != nil {
			failures = append(failures, err)
			s.logger.Warn("knowledge store failed for sub-question",
				"sub_question", q, "error", err)
			continue
		}
		if len(found) > s.k {
			found = found[:s.k]
		}
		for _, p := range found {
			if p = strings.TrimSpace(p); p != "" {
				passages = append(passages, p)
			}
		}
	}

	state.SemanticEvidence = passages
	if len(failures) == len(state.SubQuestions) {
		return fmt.Errorf("%s: %w: %w", StepSemanticFetch, ErrEvidenceUnavailable, errors.Join(failures...))
	}
	return nil
}

func (s SemanticEvidence) search(ctx context.Context, q string) ([]string, error) {
	ctx, cancel := s.call.withTimeout(ctx)
	defer cancel()
	found, err := s.store.Search(ctx, q, s.k)
	if err != nil {
		return nil, wrapCollaborator(CollaboratorKnowledge, "search", err)
	}
	return found, nil
}

// =============================================================================
// EvidenceFilter
// =============================================================================

// EvidenceFilter drops passages that share no content word with the
// question and merges the survivors after the tabular findings.
//
// # Description
//
// A content word is longer than minWordLen runes, compared case-insensitively.
// Tabular evidence is never filtered.
type EvidenceFilter struct {
	minWordLen int
}

// Filter returns the passages that overlap the question.
func (f EvidenceFilter) Filter(question string, passages []string) []string {
	keywords := f.contentWords(question)
	kept := make([]string, 0, len(passages))
	if len(keywords) == 0 {
		return kept
	}
	for _, p := range passages {
		for _, w := range tokenize(p) {
			if _, ok := keywords[w]; ok {
				kept = append(kept, p)
				break
			}
		}
	}
	return kept
}

func (f EvidenceFilter) contentWords(text string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range tokenize(text) {
		if len([]rune(w)) > f.minWordLen {
			words[w] = struct{}{}
		}
	}
	return words
}

// Run replaces SemanticEvidence with the filtered passages and rebuilds
// Evidence.
func (f EvidenceFilter) Run(_ context.Context, state *ConversationState) error {
	if strings.TrimSpace(state.StandaloneQuestion) == "" {
		return invalidState(StepFilter, "standalone_question", "is empty")
	}
	filtered := f.Filter(state.StandaloneQuestion, state.SemanticEvidence)
	merged := make([]string, 0, len(state.TabularEvidence)+len(filtered))
	merged = append(merged, state.TabularEvidence...)
	merged = append(merged, filtered...)

	state.SemanticEvidence = filtered
	state.Evidence = merged
	return nil
}
