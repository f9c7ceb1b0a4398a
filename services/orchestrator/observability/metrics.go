// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for the conversational engine
// and its HTTP surface. Metrics include:
//   - Turn counters (by route and outcome)
//   - Step latency histograms
//   - Retry distribution per turn
//   - Collaborator error counters
//   - Active turn gauge
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aeye"

// Subsystem for engine metrics
const engineSubsystem = "engine"

// Subsystem for transport metrics
const httpSubsystem = "http"

// EngineMetrics holds all Prometheus metrics for conversation turns.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring the state
// machine and the collaborators it calls. Initialize once at startup via
// InitMetrics().
//
// # Fields
//
//   - TurnsTotal: Counter of turns by route and outcome
//   - StepDurationSeconds: Histogram of step latency by step and result
//   - RetriesPerTurn: Histogram of rewrite cycles per finished turn
//   - CollaboratorErrorsTotal: Counter of collaborator failures
//   - ActiveTurns: Gauge of turns in flight
//   - MemorySaveFailuresTotal: Counter of turns whose state was not saved
//   - RequestsTotal: Counter of transport requests by endpoint and status
//
// # Thread Safety
//
// All operations are thread-safe.
type EngineMetrics struct {
	// TurnsTotal counts finished turns.
	// Labels: route (small_talk, domain_question, unset), outcome (accepted, exhausted, failed)
	TurnsTotal *prometheus.CounterVec

	// StepDurationSeconds measures each state machine step.
	// Labels: step, result (ok, invalid_state, timeout, collaborator, ...)
	StepDurationSeconds *prometheus.HistogramVec

	// RetriesPerTurn records RetryCount at the end of domain turns.
	RetriesPerTurn prometheus.Histogram

	// CollaboratorErrorsTotal counts failures by collaborator and kind.
	// Labels: collaborator (tabular, knowledge, generation, memory), kind
	CollaboratorErrorsTotal *prometheus.CounterVec

	// ActiveTurns tracks turns currently executing.
	ActiveTurns prometheus.Gauge

	// MemorySaveFailuresTotal counts turns answered but not persisted.
	MemorySaveFailuresTotal prometheus.Counter

	// RequestsTotal counts transport requests.
	// Labels: endpoint (chat, chat_ws, thread_history, session_ingest), status (success, error)
	RequestsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of EngineMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *EngineMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics with the default registry.
// Should be called once at application startup.
//
// # Outputs
//
//   - *EngineMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *EngineMetrics {
	DefaultMetrics = NewEngineMetrics(promauto.With(prometheus.DefaultRegisterer))
	return DefaultMetrics
}

// NewEngineMetrics builds the metric set on the given factory.
//
// # Inputs
//
//   - factory: promauto factory bound to a registry. Tests pass a factory
//     bound to prometheus.NewRegistry() to stay isolated.
func NewEngineMetrics(factory promauto.Factory) *EngineMetrics {
	return &EngineMetrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "turns_total",
				Help:      "Total number of conversation turns by route and outcome",
			},
			[]string{"route", "outcome"},
		),

		StepDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "step_duration_seconds",
				Help:      "Duration of state machine steps in seconds",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"step", "result"},
		),

		RetriesPerTurn: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "retries_per_turn",
				Help:      "Rewrite cycles used by domain turns",
				Buckets:   []float64{0, 1, 2, 3, 5, 8},
			},
		),

		CollaboratorErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "collaborator_errors_total",
				Help:      "Total collaborator failures by collaborator and kind",
			},
			[]string{"collaborator", "kind"},
		),

		ActiveTurns: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "active_turns",
				Help:      "Number of turns currently executing",
			},
		),

		MemorySaveFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "memory_save_failures_total",
				Help:      "Turns answered whose state could not be persisted",
			},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "requests_total",
				Help:      "Total number of transport requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
	}
}

// =============================================================================
// Outcomes and Endpoints
// =============================================================================

// Outcome is the terminal result of a turn.
type Outcome string

const (
	// OutcomeAccepted means the turn ended with an accepted answer.
	OutcomeAccepted Outcome = "accepted"

	// OutcomeExhausted means the retry budget ran out and the last answer was returned.
	OutcomeExhausted Outcome = "exhausted"

	// OutcomeFailed means the turn aborted and the caller received the apology.
	OutcomeFailed Outcome = "failed"
)

// Endpoint represents a transport endpoint for metrics labeling.
type Endpoint string

const (
	EndpointChat          Endpoint = "chat"
	EndpointChatWS        Endpoint = "chat_ws"
	EndpointThreadHistory Endpoint = "thread_history"
	EndpointSessionIngest Endpoint = "session_ingest"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordTurn records a finished turn.
func (m *EngineMetrics) RecordTurn(route string, outcome Outcome) {
	m.TurnsTotal.WithLabelValues(route, string(outcome)).Inc()
}

// ObserveStep records one step execution.
//
// # Inputs
//
//   - step: Step name.
//   - seconds: Wall time spent in the step.
//   - result: "ok" or an error kind.
func (m *EngineMetrics) ObserveStep(step string, seconds float64, result string) {
	m.StepDurationSeconds.WithLabelValues(step, result).Observe(seconds)
}

// RecordRetries records the retry count of a finished domain turn.
func (m *EngineMetrics) RecordRetries(retries int) {
	m.RetriesPerTurn.Observe(float64(retries))
}

// RecordCollaboratorError increments the collaborator error counter.
func (m *EngineMetrics) RecordCollaboratorError(collaborator, kind string) {
	m.CollaboratorErrorsTotal.WithLabelValues(collaborator, kind).Inc()
}

// TurnStarted increments the active turn gauge.
func (m *EngineMetrics) TurnStarted() {
	m.ActiveTurns.Inc()
}

// TurnEnded decrements the active turn gauge.
func (m *EngineMetrics) TurnEnded() {
	m.ActiveTurns.Dec()
}

// RecordMemorySaveFailure increments the save failure counter.
func (m *EngineMetrics) RecordMemorySaveFailure() {
	m.MemorySaveFailuresTotal.Inc()
}

// RecordRequest records a completed transport request.
func (m *EngineMetrics) RecordRequest(endpoint Endpoint, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}
