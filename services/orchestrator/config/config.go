// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the orchestrator configuration.
//
// # Description
//
// Configuration comes from three layers, later layers winning:
//
//  1. Defaults (Default)
//  2. An optional YAML file
//  3. Environment variables (AEYE_*, plus the provider keys the llm
//     package reads itself)
//
// The result is validated with go-playground/validator before any
// component is built. Sections for optional backends are only validated
// when that backend is selected.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AEyeAssistant/pkg/telemetry"
	"github.com/AleutianAI/AEyeAssistant/services/llm"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/engine"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/healthlog"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/knowledge"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/storage/badger"
)

// Health log backends.
const (
	HealthLogInflux = "influx"
	HealthLogCSV    = "csv"
	HealthLogNone   = "none"
)

// Memory backends.
const (
	MemoryInProcess = "memory"
	MemoryBadger    = "badger"
)

var validate = validator.New()

// Config is the complete orchestrator configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	LLM       LLMConfig        `yaml:"llm"`
	Knowledge KnowledgeConfig  `yaml:"knowledge"`
	HealthLog HealthLogConfig  `yaml:"health_log"`
	Memory    MemoryConfig     `yaml:"memory"`
	Engine    EngineConfig     `yaml:"engine"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	GinMode         string        `yaml:"gin_mode" validate:"oneof=debug release test"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	// AllowedOrigins lists websocket origins. Empty accepts any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// APIToken, when set, is required as a bearer token on /v1 routes.
	APIToken string `yaml:"api_token,omitempty"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// LLMConfig selects the generation backend and how it is called.
type LLMConfig struct {
	llm.Config `yaml:",inline"`

	// RequestsPerSecond caps the sustained call rate. Zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
	MaxAttempts       int     `yaml:"max_attempts" validate:"gte=0"`
	Temperature       float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens         int     `yaml:"max_tokens" validate:"gte=0"`

	// EmbeddingBackend defaults to Backend. Only openai and ollama embed.
	EmbeddingBackend string `yaml:"embedding_backend" validate:"omitempty,oneof=openai ollama"`
}

// KnowledgeConfig configures the Weaviate knowledge store.
type KnowledgeConfig struct {
	// Enabled turns semantic retrieval on. When false every semantic
	// fetch reports unavailable evidence.
	Enabled bool `yaml:"enabled"`

	Weaviate knowledge.ClientConfig `yaml:"weaviate" validate:"-"`

	// MinCertainty drops weaker matches. Zero keeps everything.
	MinCertainty float32 `yaml:"min_certainty" validate:"gte=0,lte=1"`

	// DocsDir is indexed by "aeye index-docs" and watched when WatchDocs
	// is set.
	DocsDir   string `yaml:"docs_dir"`
	WatchDocs bool   `yaml:"watch_docs"`
}

// HealthLogConfig configures where monitoring sessions are read from.
type HealthLogConfig struct {
	Backend  string                 `yaml:"backend" validate:"oneof=influx csv none"`
	Influx   healthlog.InfluxConfig `yaml:"influx" validate:"-"`
	CSVPath  string                 `yaml:"csv_path"`
	Timezone string                 `yaml:"timezone"`
}

// MemoryConfig configures conversation memory.
type MemoryConfig struct {
	Backend string        `yaml:"backend" validate:"oneof=memory badger"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
	Badger  badger.Config `yaml:"badger" validate:"-"`
}

// EngineConfig holds the conversation engine's tuning knobs.
type EngineConfig struct {
	MaxRetries          int           `yaml:"max_retries" validate:"gte=0"`
	KRetrieval          int           `yaml:"k_retrieval" validate:"gte=1"`
	CollaboratorTimeout time.Duration `yaml:"collaborator_timeout" validate:"gt=0"`
	MinAnswerLen        int           `yaml:"min_answer_len" validate:"gte=1"`
	MinContentWordLen   int           `yaml:"min_content_word_len" validate:"gte=0"`
	ContextWindow       int           `yaml:"context_window" validate:"gte=1"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	badgerCfg := badger.DefaultConfig()
	badgerCfg.Path = "./data/conversations"

	tel := telemetry.DefaultConfig()
	tel.TraceExporter = "none"

	return Config{
		Server: ServerConfig{
			Port:            12210,
			GinMode:         "release",
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: true},
		LLM: LLMConfig{
			Config:      llm.Config{Backend: llm.BackendOllama, Timeout: 2 * time.Minute},
			Burst:       1,
			MaxAttempts: 3,
			Temperature: 0.2,
			MaxTokens:   1024,
		},
		Knowledge: KnowledgeConfig{
			Weaviate: knowledge.DefaultClientConfig(),
			DocsDir:  "./docs",
		},
		HealthLog: HealthLogConfig{
			Backend: HealthLogCSV,
			Influx: healthlog.InfluxConfig{
				Measurement: healthlog.DefaultMeasurement,
				Timeout:     10 * time.Second,
				MaxAttempts: 3,
			},
			CSVPath:  "./data/summary.csv",
			Timezone: "Local",
		},
		Memory: MemoryConfig{
			Backend: MemoryInProcess,
			TTL:     7 * 24 * time.Hour,
			Badger:  badgerCfg,
		},
		Engine: EngineConfig{
			MaxRetries:          engine.DefaultMaxRetries,
			KRetrieval:          engine.DefaultKRetrieval,
			CollaboratorTimeout: engine.DefaultCollaboratorTimeout,
			MinAnswerLen:        engine.DefaultMinAnswerLen,
			MinContentWordLen:   engine.DefaultMinContentWordLen,
			ContextWindow:       engine.DefaultContextWindow,
		},
		Telemetry: tel,
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
//
// # Inputs
//
//   - path: YAML file. Empty uses AEYE_CONFIG, and no file at all when that
//     is also unset.
//
// # Outputs
//
//   - Config: Validated configuration.
//   - error: Non-nil if the file cannot be read or parsed, or validation fails.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("AEYE_CONFIG")
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// WriteDefault writes the default configuration as YAML, creating parent
// directories.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks field constraints and the sections of selected backends.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	var errs []error
	if c.Knowledge.Enabled {
		if err := validate.Struct(c.Knowledge.Weaviate); err != nil {
			errs = append(errs, fmt.Errorf("knowledge.weaviate: %w", err))
		}
	}
	switch c.HealthLog.Backend {
	case HealthLogInflux:
		if err := validate.Struct(c.HealthLog.Influx); err != nil {
			errs = append(errs, fmt.Errorf("health_log.influx: %w", err))
		}
	case HealthLogCSV:
		if c.HealthLog.CSVPath == "" {
			errs = append(errs, errors.New("health_log.csv_path is required for the csv backend"))
		}
	}
	if _, err := c.HealthLog.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Memory.Backend == MemoryBadger {
		if err := validate.Struct(c.Memory.Badger); err != nil {
			errs = append(errs, fmt.Errorf("memory.badger: %w", err))
		}
		if !c.Memory.Badger.InMemory && c.Memory.Badger.Path == "" {
			errs = append(errs, errors.New("memory.badger.path is required unless in_memory is set"))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Location resolves Timezone. Empty and "Local" mean the process zone.
func (h HealthLogConfig) Location() (*time.Location, error) {
	if h.Timezone == "" || h.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		return nil, fmt.Errorf("health_log.timezone: %w", err)
	}
	return loc, nil
}

// EngineSettings converts the engine section to engine.Config.
func (c *Config) EngineSettings() engine.Config {
	return engine.Config{
		MaxRetries:          c.Engine.MaxRetries,
		KRetrieval:          c.Engine.KRetrieval,
		CollaboratorTimeout: c.Engine.CollaboratorTimeout,
		MinAnswerLen:        c.Engine.MinAnswerLen,
		MinContentWordLen:   c.Engine.MinContentWordLen,
		ContextWindow:       c.Engine.ContextWindow,
	}
}

// CompleterOptions converts the llm section to llm.CompleterOptions.
func (c *Config) CompleterOptions() llm.CompleterOptions {
	temp := c.LLM.Temperature
	maxTokens := c.LLM.MaxTokens
	params := llm.GenerationParams{Temperature: &temp}
	if maxTokens > 0 {
		params.MaxTokens = &maxTokens
	}
	return llm.CompleterOptions{
		Params:            params,
		RequestsPerSecond: c.LLM.RequestsPerSecond,
		Burst:             c.LLM.Burst,
		MaxAttempts:       c.LLM.MaxAttempts,
	}
}

// EmbedderSettings returns the llm.Config used for embeddings.
func (c *Config) EmbedderSettings() llm.Config {
	cfg := c.LLM.Config
	if c.LLM.EmbeddingBackend != "" {
		cfg.Backend = c.LLM.EmbeddingBackend
	}
	return cfg
}

// =============================================================================
// Environment overrides
// =============================================================================

func (c *Config) applyEnv() error {
	var err error
	c.Server.Port, err = getEnvInt("AEYE_PORT", c.Server.Port)
	if err != nil {
		return err
	}
	c.Server.GinMode = getEnvString("GIN_MODE", c.Server.GinMode)
	c.Server.APIToken = getEnvString("AEYE_API_TOKEN", c.Server.APIToken)
	c.Logging.Level = getEnvString("AEYE_LOG_LEVEL", c.Logging.Level)

	c.LLM.Backend = getEnvString("LLM_BACKEND_TYPE", c.LLM.Backend)
	c.LLM.Model = getEnvString("AEYE_LLM_MODEL", c.LLM.Model)
	c.LLM.BaseURL = getEnvString("AEYE_LLM_URL", c.LLM.BaseURL)

	if v := getEnvString("WEAVIATE_SERVICE_URL", ""); v != "" {
		c.Knowledge.Weaviate.URL = v
		c.Knowledge.Enabled = true
	}
	c.Knowledge.DocsDir = getEnvString("AEYE_DOCS_DIR", c.Knowledge.DocsDir)

	if v := getEnvString("INFLUXDB_URL", ""); v != "" {
		c.HealthLog.Influx.URL = v
		c.HealthLog.Backend = HealthLogInflux
	}
	c.HealthLog.Influx.Token = getEnvString("INFLUXDB_TOKEN", c.HealthLog.Influx.Token)
	c.HealthLog.Influx.Org = getEnvString("INFLUXDB_ORG", c.HealthLog.Influx.Org)
	c.HealthLog.Influx.Bucket = getEnvString("INFLUXDB_BUCKET", c.HealthLog.Influx.Bucket)
	c.HealthLog.CSVPath = getEnvString("AEYE_SESSIONS_CSV", c.HealthLog.CSVPath)

	c.Memory.Backend = getEnvString("AEYE_MEMORY_BACKEND", c.Memory.Backend)
	c.Memory.Badger.Path = getEnvString("AEYE_MEMORY_PATH", c.Memory.Badger.Path)

	c.Engine.MaxRetries, err = getEnvInt("AEYE_MAX_RETRIES", c.Engine.MaxRetries)
	if err != nil {
		return err
	}
	c.Engine.KRetrieval, err = getEnvInt("AEYE_K_RETRIEVAL", c.Engine.KRetrieval)
	if err != nil {
		return err
	}

	c.Telemetry.OTLPEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.TraceExporter = getEnvString("OTEL_TRACES_EXPORTER", c.Telemetry.TraceExporter)
	c.Telemetry.MetricExporter = getEnvString("OTEL_METRICS_EXPORTER", c.Telemetry.MetricExporter)
	return nil
}

// getEnvString returns the trimmed value of key, or fallback when unset.
func getEnvString(key, fallback string) string {
	if v := strings.Trim(os.Getenv(key), "\"' "); v != "" {
		return v
	}
	return fallback
}

// getEnvInt parses key as an integer, or returns fallback when unset.
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
