// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine implements the conversational answering engine.
//
// A turn is driven through an explicit state machine:
//
//	Start → Classify → SmallTalk → End
//	                 → Contextualize → Plan → {TabularFetch, SemanticFetch, Generate}
//	TabularFetch → SemanticFetch (both) | Generate (tabular)
//	SemanticFetch → Filter → Generate → Grade → End | Rewrite → Plan
//
// The only cycle, Grade → Rewrite → Plan, is bounded by Config.MaxRetries,
// so a turn performs at most MaxRetries+1 generation passes.
//
// # Collaborators
//
// The engine owns no model, index or database. It calls a TabularAnalyst, a
// KnowledgeStore, a Completer and a MemoryStore, each behind a per-call
// timeout, and converts their failures into its own error taxonomy.
//
// # Thread Safety
//
// An Engine is safe for concurrent use. Turns for the same thread id are
// serialized; turns for different threads run in parallel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aeye.engine")

// =============================================================================
// Dependencies and Results
// =============================================================================

// Dependencies are the collaborators injected into an Engine.
//
// # Fields
//
//   - Completer: Required. Generation collaborator.
//   - Memory: Required. Per-thread conversation memory.
//   - Analyst: Optional. Nil makes every tabular fetch unavailable.
//   - Knowledge: Optional. Nil makes every semantic fetch unavailable.
//   - Logger: Optional. Defaults to slog.Default().
//   - Now: Optional clock for message timestamps.
type Dependencies struct {
	Completer Completer
	Memory    MemoryStore
	Analyst   TabularAnalyst
	Knowledge KnowledgeStore
	Logger    *slog.Logger
	Now       func() time.Time
}

// TurnResult describes how a turn ended.
type TurnResult struct {
	ThreadID             string        `json:"thread_id"`
	Answer               string        `json:"answer"`
	Route                Route         `json:"route"`
	Intent               Intent        `json:"intent"`
	StandaloneQuestion   string        `json:"standalone_question,omitempty"`
	RetryCount           int           `json:"retry_count"`
	Accepted             bool          `json:"accepted"`
	RetryBudgetExhausted bool          `json:"retry_budget_exhausted"`
	EvidenceCount        int           `json:"evidence_count"`
	Warnings             []string      `json:"warnings,omitempty"`
	Persisted            bool          `json:"persisted"`
	Duration             time.Duration `json:"duration"`
}

// errNotConfigured is returned by the placeholder collaborators.
var errNotConfigured = errors.New("collaborator not configured")

type unconfiguredAnalyst struct{}

func (unconfiguredAnalyst) Ask(context.Context, string) (string, error) {
	return "", errNotConfigured
}

type unconfiguredStore struct{}

func (unconfiguredStore) Search(context.Context, string, int) ([]string, error) {
	return nil, errNotConfigured
}

// =============================================================================
// Engine
// =============================================================================

// machineState tags the position of a turn in the state machine.
type machineState int

const (
	stateStart machineState = iota
	stateClassify
	stateSmallTalk
	stateContextualize
	statePlan
	stateTabularFetch
	stateSemanticFetch
	stateFilter
	stateGenerate
	stateGrade
	stateRewrite
	stateEnd
)

// step is one node of the state machine.
type step interface {
	Run(ctx context.Context, state *ConversationState) error
}

// Engine drives conversation turns.
type Engine struct {
	cfg    Config
	memory MemoryStore
	call   caller
	logger *slog.Logger
	now    func() time.Time
	locks  *threadLocks

	classifier     Classifier
	smallTalk      SmallTalkResponder
	contextualizer Contextualizer
	planner        QueryPlanner
	tabular        TabularEvidence
	semantic       SemanticEvidence
	filter         EvidenceFilter
	generator      AnswerGenerator
	gate           AnswerQualityGate
	rewriter       QueryRewriter
}

// New creates an Engine.
//
// # Description
//
// Applies configuration defaults, validates the result and wires every step
// to its collaborator.
//
// # Inputs
//
//   - cfg: Engine configuration. Zero values use defaults.
//   - deps: Collaborators. Completer and Memory are required.
//
// # Outputs
//
//   - *Engine: Ready-to-use engine.
//   - error: Non-nil if configuration is invalid or a required collaborator is missing.
func New(cfg Config, deps Dependencies) (*Engine, error) {
	cfg = applyConfigDefaults(cfg)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if deps.Completer == nil {
		return nil, errors.New("engine requires a generation collaborator")
	}
	if deps.Memory == nil {
		return nil, errors.New("engine requires a memory store")
	}
	if deps.Analyst == nil {
		deps.Analyst = unconfiguredAnalyst{}
	}
	if deps.Knowledge == nil {
		deps.Knowledge = unconfiguredStore{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	call := caller{timeout: cfg.CollaboratorTimeout}
	logger := deps.Logger.With("component", "engine")
	return &Engine{
		cfg:    cfg,
		memory: deps.Memory,
		call:   call,
		logger: logger,
		now:    deps.Now,
		locks:  newThreadLocks(),

		classifier:     Classifier{},
		smallTalk:      SmallTalkResponder{llm: deps.Completer, call: call, window: cfg.ContextWindow},
		contextualizer: Contextualizer{llm: deps.Completer, call: call, window: cfg.ContextWindow},
		planner:        QueryPlanner{},
		tabular:        TabularEvidence{analyst: deps.Analyst, call: call, logger: logger},
		semantic:       SemanticEvidence{store: deps.Knowledge, call: call, k: cfg.KRetrieval, logger: logger},
		filter:         EvidenceFilter{minWordLen: cfg.MinContentWordLen},
		generator:      AnswerGenerator{llm: deps.Completer, call: call},
		gate:           AnswerQualityGate{minLen: cfg.MinAnswerLen},
		rewriter:       QueryRewriter{llm: deps.Completer, call: call},
	}, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// HandleTurn answers one user message on a thread.
//
// # Description
//
// HandleTurn never fails. It returns the accepted answer, the last answer
// when the retry budget ran out, the insufficient-information apology when
// retrieval found nothing, or FailureAnswer when the turn aborted. An
// aborted turn persists nothing.
//
// # Inputs
//
//   - ctx: Cancelling ctx abandons the turn without persisting it.
//   - threadID: Opaque conversation identifier. Must not be empty or
//     padded with whitespace.
//   - userMessage: The user's utterance.
//
// # Outputs
//
//   - string: Text to show the user.
func (e *Engine) HandleTurn(ctx context.Context, threadID, userMessage string) string {
	result, err := e.RunTurn(ctx, threadID, userMessage)
	if err != nil {
		return FailureAnswer
	}
	return result.Answer
}

// RunTurn answers one user message and reports how the turn ended.
//
// # Description
//
// Loads or creates the thread's state, appends the message, drives the
// state machine to End and persists the state. Fatal failures return an
// error and a result whose Answer is FailureAnswer; nothing is persisted in
// that case. A panic in a collaborator is recovered and reported as
// ErrTurnPanicked. A failed save is not fatal: the answer is returned with
// Persisted=false and a warning.
//
// # Outputs
//
//   - *TurnResult: Always non-nil.
//   - error: InvalidStateError, CollaboratorError or a context error.
func (e *Engine) RunTurn(ctx context.Context, threadID, userMessage string) (result *TurnResult, err error) {
	start := e.now()
	result = &TurnResult{ThreadID: threadID, Answer: FailureAnswer}

	ctx, span := tracer.Start(ctx, "engine.RunTurn")
	defer span.End()
	span.SetAttributes(attribute.String("thread.id", threadID))

	if m := observability.DefaultMetrics; m != nil {
		m.TurnStarted()
		defer m.TurnEnded()
	}

	defer func() {
		result.Duration = e.now().Sub(start)
		e.finishTurn(span, result, err)
	}()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("recovered panic in turn",
				"thread_id", threadID,
				"panic", r,
				"stack", string(debug.Stack()))
			result = &TurnResult{ThreadID: threadID, Answer: FailureAnswer}
			err = fmt.Errorf("%w: %v", ErrTurnPanicked, r)
		}
	}()

	if threadID == "" {
		return result, invalidState("turn", "thread_id", "is empty")
	}
	if strings.TrimSpace(threadID) != threadID {
		return result, invalidState("turn", "thread_id", "has surrounding whitespace")
	}
	if strings.TrimSpace(userMessage) == "" {
		return result, invalidState("turn", "user_message", "is empty")
	}

	release, err := e.locks.acquire(ctx, threadID)
	if err != nil {
		return result, err
	}
	defer release()

	state, err := e.load(ctx, threadID)
	if err != nil {
		return result, err
	}
	state.beginTurn(userMessage, e.now())

	if err = e.drive(ctx, state, result); err != nil {
		return result, err
	}
	if err = ctx.Err(); err != nil {
		return result, err
	}

	state.finishTurn(e.now())
	result.Answer = state.Answer
	result.Route = state.Route
	result.Intent = state.Intent
	result.StandaloneQuestion = state.StandaloneQuestion
	result.RetryCount = state.RetryCount
	result.Accepted = state.AnswerAccepted
	result.EvidenceCount = len(state.Evidence)

	if saveErr := e.save(ctx, threadID, state); saveErr != nil {
		result.Warnings = append(result.Warnings, saveErr.Error())
		if m := observability.DefaultMetrics; m != nil {
			m.RecordMemorySaveFailure()
		}
		e.logger.Error("failed to persist conversation state",
			"thread_id", threadID, "error", saveErr)
		return result, nil
	}
	result.Persisted = true
	return result, nil
}

// load returns a working copy of the thread's state.
func (e *Engine) load(ctx context.Context, threadID string) (*ConversationState, error) {
	lctx, cancel := e.call.withTimeout(ctx)
	defer cancel()
	stored, err := e.memory.Load(lctx, threadID)
	if err != nil {
		err = wrapCollaborator(CollaboratorMemory, "load", err)
		e.recordCollaboratorError(err)
		return nil, err
	}
	if stored == nil {
		return NewConversationState(threadID), nil
	}
	state := stored.Clone()
	state.ThreadID = threadID
	return state, nil
}

func (e *Engine) save(ctx context.Context, threadID string, state *ConversationState) error {
	sctx, cancel := e.call.withTimeout(ctx)
	defer cancel()
	if err := e.memory.Save(sctx, threadID, state.Clone()); err != nil {
		err = wrapCollaborator(CollaboratorMemory, "save", err)
		e.recordCollaboratorError(err)
		return err
	}
	return nil
}

// drive runs the state machine from Start to End.
func (e *Engine) drive(ctx context.Context, state *ConversationState, result *TurnResult) error {
	limit := e.cfg.maxSteps()
	current := stateStart
	for steps := 0; current != stateEnd; steps++ {
		if steps > limit {
			return fmt.Errorf("state machine exceeded %d steps", limit)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := e.transition(ctx, current, state, result)
		if err != nil {
			return err
		}
		current = next
	}
	return nil
}

// transition executes the step for the current state and picks the next one.
func (e *Engine) transition(ctx context.Context, current machineState, state *ConversationState, result *TurnResult) (machineState, error) {
	switch current {
	case stateStart:
		return stateClassify, nil

	case stateClassify:
		if err := e.runStep(ctx, StepClassify, e.classifier, state); err != nil {
			return stateEnd, err
		}
		switch state.Route {
		case RouteSmallTalk:
			return stateSmallTalk, nil
		case RouteDomainQuestion:
			return stateContextualize, nil
		case RouteUnset:
		}
		return stateEnd, invalidState(StepClassify, "route", "was not set")

	case stateSmallTalk:
		if err := e.runStep(ctx, StepSmallTalk, e.smallTalk, state); err != nil {
			return stateEnd, err
		}
		state.AnswerAccepted = true
		return stateEnd, nil

	case stateContextualize:
		if err := e.runStep(ctx, StepContextualize, e.contextualizer, state); err != nil {
			return stateEnd, err
		}
		return statePlan, nil

	case statePlan:
		if err := e.runStep(ctx, StepPlan, e.planner, state); err != nil {
			return stateEnd, err
		}
		switch state.Intent {
		case IntentTabular, IntentBoth:
			return stateTabularFetch, nil
		case IntentSemantic:
			return stateSemanticFetch, nil
		case IntentFallback:
			return stateGenerate, nil
		case IntentUnset:
		}
		return stateEnd, invalidState(StepPlan, "intent", "was not set")

	case stateTabularFetch:
		if err := e.runEvidenceStep(ctx, StepTabularFetch, e.tabular, state, result); err != nil {
			return stateEnd, err
		}
		switch state.Intent {
		case IntentBoth:
			return stateSemanticFetch, nil
		case IntentTabular:
			return stateGenerate, nil
		case IntentSemantic, IntentFallback, IntentUnset:
		}
		return stateEnd, invalidState(StepTabularFetch, "intent", "does not use tabular evidence")

	case stateSemanticFetch:
		if err := e.runEvidenceStep(ctx, StepSemanticFetch, e.semantic, state, result); err != nil {
			return stateEnd, err
		}
		return stateFilter, nil

	case stateFilter:
		if err := e.runStep(ctx, StepFilter, e.filter, state); err != nil {
			return stateEnd, err
		}
		return stateGenerate, nil

	case stateGenerate:
		if err := e.runStep(ctx, StepGenerate, e.generator, state); err != nil {
			return stateEnd, err
		}
		return stateGrade, nil

	case stateGrade:
		if err := e.runStep(ctx, StepGrade, e.gate, state); err != nil {
			return stateEnd, err
		}
		if state.AnswerAccepted {
			return stateEnd, nil
		}
		if state.RetryCount >= e.cfg.MaxRetries {
			result.RetryBudgetExhausted = true
			e.logger.Info("retry budget exhausted, returning last answer",
				"thread_id", state.ThreadID, "retries", state.RetryCount)
			return stateEnd, nil
		}
		return stateRewrite, nil

	case stateRewrite:
		if err := e.runStep(ctx, StepRewrite, e.rewriter, state); err != nil {
			return stateEnd, err
		}
		return statePlan, nil

	case stateEnd:
		return stateEnd, nil
	}
	return stateEnd, fmt.Errorf("unknown machine state %d", int(current))
}

// runEvidenceStep runs an evidence step and absorbs ErrEvidenceUnavailable.
func (e *Engine) runEvidenceStep(ctx context.Context, name string, s step, state *ConversationState, result *TurnResult) error {
	err := e.runStep(ctx, name, s, state)
	if err != nil && errors.Is(err, ErrEvidenceUnavailable) {
		result.Warnings = append(result.Warnings, err.Error())
		e.logger.Warn("evidence unavailable, continuing with remaining evidence",
			"thread_id", state.ThreadID, "step", name, "error", err)
		return nil
	}
	return err
}

// runStep wraps a step with a span, timing and logging.
func (e *Engine) runStep(ctx context.Context, name string, s step, state *ConversationState) error {
	ctx, span := tracer.Start(ctx, "engine."+name)
	defer span.End()

	started := time.Now()
	err := s.Run(ctx, state)
	elapsed := time.Since(started)

	result := "ok"
	if err != nil {
		result = errorKind(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.recordCollaboratorError(err)
	}
	if m := observability.DefaultMetrics; m != nil {
		m.ObserveStep(name, elapsed.Seconds(), result)
	}
	e.logger.Debug("engine step finished",
		"thread_id", state.ThreadID,
		"step", name,
		"result", result,
		"intent", state.Intent.String(),
		"retry_count", state.RetryCount,
		"duration_ms", elapsed.Milliseconds(),
	)
	return err
}

func (e *Engine) recordCollaboratorError(err error) {
	var ce *CollaboratorError
	if !errors.As(err, &ce) {
		return
	}
	if m := observability.DefaultMetrics; m != nil {
		m.RecordCollaboratorError(ce.Collaborator, errorKind(ce))
	}
}

// finishTurn logs and records the outcome of a turn.
func (e *Engine) finishTurn(span trace.Span, result *TurnResult, err error) {
	outcome := observability.OutcomeAccepted
	switch {
	case err != nil:
		outcome = observability.OutcomeFailed
	case result.RetryBudgetExhausted:
		outcome = observability.OutcomeExhausted
	}

	span.SetAttributes(
		attribute.String("turn.route", result.Route.String()),
		attribute.String("turn.intent", result.Intent.String()),
		attribute.Int("turn.retries", result.RetryCount),
		attribute.String("turn.outcome", string(outcome)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if m := observability.DefaultMetrics; m != nil {
		m.RecordTurn(result.Route.String(), outcome)
		if err == nil && result.Route == RouteDomainQuestion {
			m.RecordRetries(result.RetryCount)
		}
	}

	if err != nil {
		e.logger.Error("turn aborted",
			"thread_id", result.ThreadID,
			"kind", errorKind(err),
			"error", err,
			"duration_ms", result.Duration.Milliseconds(),
		)
		return
	}
	e.logger.Info("turn finished",
		"thread_id", result.ThreadID,
		"route", result.Route.String(),
		"intent", result.Intent.String(),
		"retries", result.RetryCount,
		"accepted", result.Accepted,
		"exhausted", result.RetryBudgetExhausted,
		"persisted", result.Persisted,
		"duration_ms", result.Duration.Milliseconds(),
	)
}
