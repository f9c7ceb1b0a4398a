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
	"time"
)

// Step names used in errors, spans, logs and metric labels.
const (
	StepClassify      = "classify"
	StepSmallTalk     = "small_talk"
	StepContextualize = "contextualize"
	StepPlan          = "plan"
	StepTabularFetch  = "tabular_fetch"
	StepSemanticFetch = "semantic_fetch"
	StepFilter        = "filter"
	StepGenerate      = "generate"
	StepGrade         = "grade"
	StepRewrite       = "rewrite"
)

// caller applies the per-call deadline and converts failures.
type caller struct {
	timeout time.Duration
}

func (c caller) complete(ctx context.Context, llm Completer, op, prompt string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	text, err := llm.Complete(ctx, prompt)
	if err != nil {
		return "", wrapCollaborator(CollaboratorGeneration, op, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", wrapCollaborator(CollaboratorGeneration, op, ErrEmptyCompletion)
	}
	return text, nil
}

func (c caller) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// =============================================================================
// Classifier
// =============================================================================

// Classifier labels a turn as small talk or a domain question.
//
// # Description
//
// The last history entry must be a user message. A message is small talk
// only when it matches the small-talk lexicon and no domain keyword; every
// other message is a domain question.
type Classifier struct{}

// Classify returns the route for the latest user message.
func (Classifier) Classify(history []Message) (Route, error) {
	if len(history) == 0 {
		return RouteUnset, invalidState(StepClassify, "message_history", "is empty")
	}
	last := history[len(history)-1]
	if last.Role != RoleUser {
		return RouteUnset, invalidState(StepClassify, "message_history", "does not end with a user message")
	}
	if strings.TrimSpace(last.Content) == "" {
		return RouteUnset, invalidState(StepClassify, "message_history", "ends with an empty user message")
	}
	if smallTalkWords.matches(last.Content) &&
		!tabularWords.matches(last.Content) &&
		!semanticWords.matches(last.Content) {
		return RouteSmallTalk, nil
	}
	return RouteDomainQuestion, nil
}

// Run sets state.Route.
func (c Classifier) Run(_ context.Context, state *ConversationState) error {
	route, err := c.Classify(state.History)
	if err != nil {
		return err
	}
	state.Route = route
	return nil
}

// =============================================================================
// SmallTalkResponder
// =============================================================================

// SmallTalkResponder answers pleasantries from the conversation alone.
type SmallTalkResponder struct {
	llm    Completer
	call   caller
	window int
}

// Run sets state.Answer.
func (s SmallTalkResponder) Run(ctx context.Context, state *ConversationState) error {
	if len(state.History) == 0 {
		return invalidState(StepSmallTalk, "message_history", "is empty")
	}
	prompt := fmt.Sprintf(smallTalkPrompt, formatHistory(state.History, s.window))
	answer, err := s.call.complete(ctx, s.llm, StepSmallTalk, prompt)
	if err != nil {
		return err
	}
	state.Answer = answer
	return nil
}

// =============================================================================
// Contextualizer
// =============================================================================

// Contextualizer rewrites the latest question into a self-contained one.
//
// # Description
//
// Only the latest question is rewritten; earlier turns are disambiguation
// context. The collaborator output is reduced to its first non-empty line so
// the result is always a single question. On the first turn of a thread
// there is nothing to resolve and the raw question is used unchanged.
type Contextualizer struct {
	llm    Completer
	call   caller
	window int
}

// Run sets state.StandaloneQuestion.
func (c Contextualizer) Run(ctx context.Context, state *ConversationState) error {
	question := strings.TrimSpace(state.RawQuestion)
	if question == "" {
		return invalidState(StepContextualize, "raw_question", "is empty")
	}
	prior := state.History
	if n := len(prior); n > 0 && prior[n-1].Role == RoleUser && prior[n-1].Content == state.RawQuestion {
		prior = prior[:n-1]
	}
	if len(prior) == 0 {
		state.StandaloneQuestion = question
		return nil
	}

	prompt := fmt.Sprintf(contextualizePrompt, formatHistory(prior, c.window), question)
	out, err := c.call.complete(ctx, c.llm, StepContextualize, prompt)
	if err != nil {
		return err
	}
	standalone := firstLine(out)
	if standalone == "" {
		standalone = question
	}
	state.StandaloneQuestion = standalone
	return nil
}

// firstLine returns the first non-empty line with common labels and quotes
// removed.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, label := range []string{"standalone question:", "rewritten question:", "question:"} {
			if len(line) >= len(label) && strings.EqualFold(line[:len(label)], label) {
				line = strings.TrimSpace(line[len(label):])
			}
		}
		line = strings.Trim(line, "\"'` ")
		if line != "" {
			return line
		}
	}
	return ""
}

// =============================================================================
// QueryPlanner
// =============================================================================

// QueryPlanner picks the evidence sources and the sub-questions to issue.
//
// # Description
//
// Keyword families decide the intent: personal session data ⇒ tabular,
// domain knowledge ⇒ semantic, both ⇒ both, neither ⇒ fallback. The
// sub-question list is rebuilt from scratch on every pass.
type QueryPlanner struct{}

// Plan returns the intent and sub-questions for a standalone question.
func (QueryPlanner) Plan(question string) (Intent, []string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return IntentUnset, nil, invalidState(StepPlan, "standalone_question", "is empty")
	}
	tab := tabularWords.matches(question)
	sem := semanticWords.matches(question)

	var intent Intent
	switch {
	case tab && sem:
		intent = IntentBoth
	case tab:
		intent = IntentTabular
	case sem:
		intent = IntentSemantic
	default:
		intent = IntentFallback
	}
	if intent == IntentFallback {
		return intent, []string{}, nil
	}
	return intent, []string{question}, nil
}

// Run sets Intent and SubQuestions and clears the evidence of the previous
// pass.
func (p QueryPlanner) Run(_ context.Context, state *ConversationState) error {
	intent, subs, err := p.Plan(state.StandaloneQuestion)
	if err != nil {
		return err
	}
	state.Intent = intent
	state.SubQuestions = subs
	state.TabularEvidence = nil
	state.SemanticEvidence = nil
	state.Evidence = nil
	state.Answer = ""
	state.AnswerAccepted = false
	return nil
}
