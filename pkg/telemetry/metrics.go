// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the OTel instruments shared by the AEye HTTP surface and
// its backing stores.
//
// Description:
//
//	All metrics use the "aeye_" prefix. Engine-level turn metrics live in
//	the observability package on the Prometheus client; these cover
//	transport and dependency health.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks requests in flight.
	HTTPActiveRequests metric.Int64UpDownCounter

	// WebSocketSessions tracks open chat sockets.
	WebSocketSessions metric.Int64UpDownCounter

	// SessionsIngestedTotal counts health sessions written to the log store.
	SessionsIngestedTotal metric.Int64Counter

	// KnowledgeCircuitState reports the Weaviate breaker (0=closed, 1=open, 2=half-open).
	KnowledgeCircuitState metric.Int64ObservableGauge
}

// NewMetrics registers every instrument on meter.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The instruments.
//	error - Non-nil if metric registration fails.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"aeye_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"aeye_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"aeye_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	m.WebSocketSessions, err = meter.Int64UpDownCounter(
		"aeye_websocket_sessions",
		metric.WithDescription("Open chat websocket sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create websocket_sessions: %w", err)
	}

	m.SessionsIngestedTotal, err = meter.Int64Counter(
		"aeye_health_sessions_ingested_total",
		metric.WithDescription("Health monitoring sessions written to the log store"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create health_sessions_ingested_total: %w", err)
	}

	return m, nil
}

// RegisterKnowledgeCircuitState registers a callback for the knowledge
// store's circuit breaker gauge. stateFunc is called on every collection.
func (m *Metrics) RegisterKnowledgeCircuitState(meter metric.Meter, stateFunc func() int64) (metric.Registration, error) {
	var err error
	m.KnowledgeCircuitState, err = meter.Int64ObservableGauge(
		"aeye_knowledge_circuit_state",
		metric.WithDescription("Knowledge store circuit breaker state (0=closed, 1=open, 2=half-open)"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create knowledge_circuit_state: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.KnowledgeCircuitState, stateFunc())
		return nil
	}, m.KnowledgeCircuitState)
}
