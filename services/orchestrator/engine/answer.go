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
	"fmt"
	"strings"
	"unicode/utf8"
)

// =============================================================================
// AnswerGenerator
// =============================================================================

// AnswerGenerator produces the answer from the question and the evidence.
//
// # Description
//
// When retrieval was planned but left no evidence, the fixed
// InsufficientInformationAnswer is returned without calling the
// collaborator. The fallback intent plans no retrieval at all, so the
// collaborator answers from the question alone.
type AnswerGenerator struct {
	llm  Completer
	call caller
}

// Run sets state.Answer.
func (g AnswerGenerator) Run(ctx context.Context, state *ConversationState) error {
	question := strings.TrimSpace(state.StandaloneQuestion)
	if question == "" {
		return invalidState(StepGenerate, "standalone_question", "is empty")
	}

	var prompt string
	switch {
	case state.Intent == IntentFallback:
		prompt = fmt.Sprintf(directAnswerPrompt, question)
	case len(state.Evidence) == 0:
		state.Answer = InsufficientInformationAnswer
		return nil
	default:
		prompt = fmt.Sprintf(groundedAnswerPrompt, strings.Join(state.Evidence, "\n\n"), question)
	}

	answer, err := g.call.complete(ctx, g.llm, StepGenerate, prompt)
	if err != nil {
		return err
	}
	state.Answer = answer
	return nil
}

// =============================================================================
// AnswerQualityGate
// =============================================================================

// AnswerQualityGate is a shape check that catches degenerate generations.
//
// # Description
//
// An answer is rejected when it is shorter than minLen runes or when it
// echoes the question. It does not judge correctness.
type AnswerQualityGate struct {
	minLen int
}

// Accept reports whether answer passes the gate.
func (q AnswerQualityGate) Accept(answer, question string) bool {
	trimmed := strings.TrimSpace(answer)
	if utf8.RuneCountInString(trimmed) < q.minLen {
		return false
	}
	return !isEcho(trimmed, question)
}

// Run sets state.AnswerAccepted.
func (q AnswerQualityGate) Run(_ context.Context, state *ConversationState) error {
	state.AnswerAccepted = q.Accept(state.Answer, state.StandaloneQuestion)
	return nil
}

// echoOverlap is the share of tokens two texts must have in common, in both
// directions, to count as an echo.
const echoOverlap = 0.9

// isEcho reports whether answer is a near-verbatim copy of question.
func isEcho(answer, question string) bool {
	a := tokenize(answer)
	q := tokenize(question)
	if len(a) == 0 || len(q) == 0 {
		return false
	}
	if strings.Join(a, " ") == strings.Join(q, " ") {
		return true
	}
	return coverage(a, q) >= echoOverlap && coverage(q, a) >= echoOverlap
}

// coverage is the share of tokens in from that also appear in to.
func coverage(from, to []string) float64 {
	set := make(map[string]struct{}, len(to))
	for _, t := range to {
		set[t] = struct{}{}
	}
	hit := 0
	for _, t := range from {
		if _, ok := set[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(from))
}

// =============================================================================
// QueryRewriter
// =============================================================================

// QueryRewriter asks for a clearer question after a rejected answer.
type QueryRewriter struct {
	llm  Completer
	call caller
}

// Run replaces StandaloneQuestion and SubQuestions and increments
// RetryCount exactly once.
func (r QueryRewriter) Run(ctx context.Context, state *ConversationState) error {
	question := strings.TrimSpace(state.StandaloneQuestion)
	if question == "" {
		return invalidState(StepRewrite, "standalone_question", "is empty")
	}
	prompt := fmt.Sprintf(rewritePrompt, question, strings.TrimSpace(state.Answer))
	out, err := r.call.complete(ctx, r.llm, StepRewrite, prompt)
	if err != nil {
		return err
	}
	rewritten := firstLine(out)
	if rewritten == "" {
		rewritten = question
	}
	state.StandaloneQuestion = rewritten
	state.SubQuestions = []string{rewritten}
	state.RetryCount++
	return nil
}
