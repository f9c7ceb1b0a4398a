// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/config"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/engine"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/handlers"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/healthlog"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

const greeting = "Hello! I can help with questions about your eye health."

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Server.GinMode = "test"
	cfg.HealthLog.Backend = config.HealthLogNone
	cfg.Memory.Backend = config.MemoryInProcess
	cfg.Telemetry.MetricExporter = "none"
	return cfg
}

func testOptions() *Options {
	return &Options{
		Completer: engine.CompleterFunc(func(context.Context, string) (string, error) {
			return greeting, nil
		}),
		SkipTelemetry: true,
	}
}

func newTestService(t *testing.T, cfg config.Config, opts *Options) *service {
	t.Helper()
	svc, err := New(context.Background(), cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc.(*service)
}

func postChat(t *testing.T, h http.Handler, threadID, message string) handlers.ChatResponse {
	t.Helper()
	body, err := json.Marshal(handlers.ChatRequest{ThreadID: threadID, Message: message})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp handlers.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// =============================================================================
// Construction Tests
// =============================================================================

// TestNew_ServesChatEndToEnd verifies a small-talk turn through the router
// and that the thread history endpoint sees it.
func TestNew_ServesChatEndToEnd(t *testing.T) {
	// Arrange
	svc := newTestService(t, testConfig(), testOptions())

	// Act
	resp := postChat(t, svc.Router(), "thread-1", "hello")

	// Assert
	assert.Equal(t, greeting, resp.Answer)
	assert.Equal(t, "small_talk", resp.Route)

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/threads/thread-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var thread handlers.ThreadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &thread))
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, engine.RoleUser, thread.Messages[0].Role)
	assert.Equal(t, greeting, thread.Messages[1].Content)
}

// TestNew_EngineAccessor verifies in-process chat uses the same memory.
func TestNew_EngineAccessor(t *testing.T) {
	svc := newTestService(t, testConfig(), testOptions())

	answer := svc.Engine().HandleTurn(context.Background(), "cli", "thanks")
	assert.Equal(t, greeting, answer)

	state, err := svc.memory.Load(context.Background(), "cli")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Len(t, state.History, 2)
}

func TestNew_UnknownLLMBackend(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.Backend = "bogus"

	_, err := New(context.Background(), cfg, &Options{SkipTelemetry: true})
	assert.Error(t, err)
}

func TestNew_BadgerMemory(t *testing.T) {
	cfg := testConfig()
	cfg.Memory.Backend = config.MemoryBadger
	cfg.Memory.Badger.Path = t.TempDir()
	cfg.Memory.Badger.MinOpenFiles = 0
	cfg.Memory.Badger.GCInterval = 0

	svc := newTestService(t, cfg, testOptions())
	postChat(t, svc.Router(), "persisted", "hi")

	ids, err := svc.memory.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"persisted"}, ids)
}

func TestNew_CSVHealthLog(t *testing.T) {
	cfg := testConfig()
	cfg.HealthLog.Backend = config.HealthLogCSV
	cfg.HealthLog.CSVPath = t.TempDir() + "/summary.csv"
	cfg.HealthLog.Timezone = "UTC"

	svc := newTestService(t, cfg, testOptions())

	assert.NotContains(t, svc.readiness, "health_log")
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/health/sessions", nil))
	assert.Equal(t, http.StatusNotFound, w.Code, "csv backend accepts no ingest")
}

func TestNew_InfluxHealthLogRegistersIngestAndReadiness(t *testing.T) {
	cfg := testConfig()
	cfg.HealthLog.Backend = config.HealthLogInflux
	cfg.HealthLog.Influx.URL = "http://127.0.0.1:1"
	cfg.HealthLog.Influx.Org = "aeye"
	cfg.HealthLog.Influx.Bucket = "sessions"

	svc := newTestService(t, cfg, testOptions())

	assert.Contains(t, svc.readiness, "health_log")
	found := false
	for _, r := range svc.Router().Routes() {
		if r.Method == http.MethodPost && r.Path == "/v1/health/sessions" {
			found = true
		}
	}
	assert.True(t, found)
}

type recordingSink struct {
	sessions []healthlog.Session
}

func (r *recordingSink) WriteSessions(_ context.Context, s []healthlog.Session) error {
	r.sessions = append(r.sessions, s...)
	return nil
}

func TestNew_InjectedSessionSink(t *testing.T) {
	sink := &recordingSink{}
	opts := testOptions()
	opts.Sessions = sink
	svc := newTestService(t, testConfig(), opts)

	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	body, err := json.Marshal(map[string]interface{}{
		"sessions": []healthlog.Session{{
			ID:              "s1",
			Start:           start,
			End:             start.Add(20 * time.Minute),
			DurationMinutes: 20,
			AvgEAR:          0.3,
			AvgDistanceCM:   60,
		}},
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/health/sessions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Len(t, sink.sessions, 1)
}

func TestClose_Idempotent(t *testing.T) {
	svc, err := New(context.Background(), testConfig(), testOptions())
	require.NoError(t, err)

	assert.NoError(t, svc.Close())
	assert.NoError(t, svc.Close())
}

// =============================================================================
// Run Tests
// =============================================================================

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// TestRun_GracefulShutdown verifies Run serves until its context is
// cancelled and then returns cleanly.
func TestRun_GracefulShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Port = freePort(t)
	cfg.Server.ShutdownTimeout = 2 * time.Second
	svc := newTestService(t, cfg, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
