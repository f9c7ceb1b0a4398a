// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/engine"
)

// clearEnv blanks every variable applyEnv reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AEYE_CONFIG", "AEYE_PORT", "GIN_MODE", "AEYE_API_TOKEN", "AEYE_LOG_LEVEL",
		"LLM_BACKEND_TYPE", "AEYE_LLM_MODEL", "AEYE_LLM_URL",
		"WEAVIATE_SERVICE_URL", "AEYE_DOCS_DIR",
		"INFLUXDB_URL", "INFLUXDB_TOKEN", "INFLUXDB_ORG", "INFLUXDB_BUCKET",
		"AEYE_SESSIONS_CSV", "AEYE_MEMORY_BACKEND", "AEYE_MEMORY_PATH",
		"AEYE_MAX_RETRIES", "AEYE_K_RETRIEVAL",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_TRACES_EXPORTER", "OTEL_METRICS_EXPORTER",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aeye.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 12210, cfg.Server.Port)
	assert.Equal(t, "ollama", cfg.LLM.Backend)
	assert.False(t, cfg.Knowledge.Enabled)
	assert.Equal(t, HealthLogCSV, cfg.HealthLog.Backend)
	assert.Equal(t, MemoryInProcess, cfg.Memory.Backend)
	assert.Equal(t, engine.DefaultConfig(), cfg.EngineSettings())
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
server:
  port: 8088
  gin_mode: debug
llm:
  backend: openai
  model: gpt-4o-mini
  requests_per_second: 2.5
knowledge:
  enabled: true
  weaviate:
    url: http://weaviate:8080
    class: EyeHealthChunk
health_log:
  backend: influx
  influx:
    url: http://influxdb:8086
    org: aeye
    bucket: sessions
memory:
  backend: badger
  ttl: 48h
  badger:
    path: /var/lib/aeye
engine:
  max_retries: 1
  k_retrieval: 5
  collaborator_timeout: 10s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.GinMode)
	assert.Equal(t, "openai", cfg.LLM.Backend)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.InDelta(t, 2.5, cfg.LLM.RequestsPerSecond, 1e-9)
	assert.True(t, cfg.Knowledge.Enabled)
	assert.Equal(t, "http://weaviate:8080", cfg.Knowledge.Weaviate.URL)
	assert.Equal(t, "sessions", cfg.HealthLog.Influx.Bucket)
	assert.Equal(t, 48*time.Hour, cfg.Memory.TTL)
	assert.Equal(t, "/var/lib/aeye", cfg.Memory.Badger.Path)

	es := cfg.EngineSettings()
	assert.Equal(t, 1, es.MaxRetries)
	assert.Equal(t, 5, es.KRetrieval)
	assert.Equal(t, 10*time.Second, es.CollaboratorTimeout)
	// Untouched keys keep their defaults.
	assert.Equal(t, engine.DefaultMinAnswerLen, es.MinAnswerLen)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "server:\n  port: 8088\n")
	t.Setenv("AEYE_PORT", "9000")
	t.Setenv("WEAVIATE_SERVICE_URL", "'http://weaviate:8080'")
	t.Setenv("INFLUXDB_URL", "http://influx:8086")
	t.Setenv("INFLUXDB_ORG", "aeye")
	t.Setenv("INFLUXDB_BUCKET", "sessions")
	t.Setenv("AEYE_MAX_RETRIES", "0")
	t.Setenv("AEYE_API_TOKEN", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Knowledge.Enabled, "a weaviate url enables retrieval")
	assert.Equal(t, "http://weaviate:8080", cfg.Knowledge.Weaviate.URL, "quotes are trimmed")
	assert.Equal(t, HealthLogInflux, cfg.HealthLog.Backend)
	assert.Equal(t, 0, cfg.Engine.MaxRetries, "zero retries is a legal budget")
	assert.Equal(t, "s3cret", cfg.Server.APIToken)
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("AEYE_CONFIG", writeFile(t, "engine:\n  k_retrieval: 7\n"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Engine.KRetrieval)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "negative retries", yaml: "engine:\n  max_retries: -1\n"},
		{name: "zero k", yaml: "engine:\n  k_retrieval: 0\n"},
		{name: "zero timeout", yaml: "engine:\n  collaborator_timeout: 0s\n"},
		{name: "unknown llm backend", yaml: "llm:\n  backend: gemini\n"},
		{name: "bad port", yaml: "server:\n  port: 70000\n"},
		{name: "bad memory backend", yaml: "memory:\n  backend: redis\n"},
		{name: "knowledge without url", yaml: "knowledge:\n  enabled: true\n"},
		{name: "influx without bucket", yaml: "health_log:\n  backend: influx\n  influx:\n    url: http://x:8086\n    org: o\n"},
		{name: "csv without path", yaml: "health_log:\n  backend: csv\n  csv_path: \"\"\n"},
		{name: "bad timezone", yaml: "health_log:\n  timezone: Mars/Olympus\n"},
		{name: "badger without path", yaml: "memory:\n  backend: badger\n  badger:\n    path: \"\"\n"},
		{name: "malformed yaml", yaml: "server: [\n"},
		{name: "non-numeric env", yaml: "", env: map[string]string{"AEYE_PORT": "eighty"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeFile(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestWriteDefault_RoundTrips(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "aeye.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Engine, cfg.Engine)
	assert.Equal(t, Default().Memory.TTL, cfg.Memory.TTL)
}

func TestCompleterOptions(t *testing.T) {
	cfg := Default()
	cfg.LLM.RequestsPerSecond = 3
	cfg.LLM.MaxTokens = 0

	opts := cfg.CompleterOptions()
	require.NotNil(t, opts.Params.Temperature)
	assert.InDelta(t, 0.2, *opts.Params.Temperature, 1e-6)
	assert.Nil(t, opts.Params.MaxTokens)
	assert.InDelta(t, 3.0, opts.RequestsPerSecond, 1e-9)
	assert.Equal(t, 3, opts.MaxAttempts)
}

func TestEmbedderSettings(t *testing.T) {
	cfg := Default()
	cfg.LLM.Backend = "anthropic"
	assert.Equal(t, "anthropic", cfg.EmbedderSettings().Backend)

	cfg.LLM.EmbeddingBackend = "ollama"
	assert.Equal(t, "ollama", cfg.EmbedderSettings().Backend)
}

func TestHealthLogLocation(t *testing.T) {
	loc, err := HealthLogConfig{Timezone: "Asia/Ho_Chi_Minh"}.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Ho_Chi_Minh", loc.String())

	loc, err = HealthLogConfig{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}
