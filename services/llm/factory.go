// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides generation and embedding backends.
//
// # Description
//
// Backends implement LLMClient (and ChatClient where the provider has a
// chat endpoint). OpenAI and Ollama also implement Embedder. Completer
// adapts any LLMClient to the single-prompt contract the conversation engine
// consumes, adding rate limiting and retries.
package llm

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aeye.llm")

// Backend names accepted by New.
const (
	BackendOpenAI    = "openai"
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
	BackendLlamaCpp  = "llamacpp"
)

const defaultSystemPrompt = "You are a helpful eye-health assistant."

// Config selects and tunes a backend.
//
// # Fields
//
//   - Backend: openai, ollama, anthropic or llamacpp.
//   - Model: Generation model. Empty uses the backend's env var or default.
//   - EmbeddingModel: Embedding model for backends that embed.
//   - BaseURL: Server URL override.
//   - Timeout: HTTP client timeout.
//   - SystemPrompt: Persona for chat backends.
type Config struct {
	Backend        string        `yaml:"backend" validate:"omitempty,oneof=openai ollama anthropic llamacpp"`
	Model          string        `yaml:"model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	BaseURL        string        `yaml:"base_url" validate:"omitempty,url"`
	Timeout        time.Duration `yaml:"timeout"`
	SystemPrompt   string        `yaml:"system_prompt"`
}

// New creates the generation client named by cfg.Backend.
func New(cfg Config) (LLMClient, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendOpenAI:
		return NewOpenAIClient(cfg)
	case BackendOllama, "":
		return NewOllamaClient(cfg)
	case BackendAnthropic:
		return NewAnthropicClient(cfg)
	case BackendLlamaCpp:
		return NewLocalLlamaCppClient(cfg)
	}
	return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
}

// NewEmbedder creates the embedding client named by cfg.Backend. Only
// openai and ollama can embed.
func NewEmbedder(cfg Config) (Embedder, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendOpenAI:
		return NewOpenAIClient(cfg)
	case BackendOllama, "":
		return NewOllamaClient(cfg)
	}
	return nil, fmt.Errorf("llm backend %q cannot embed", cfg.Backend)
}

// StatusError is returned when a backend answers with a non-200 status.
type StatusError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Backend, e.StatusCode, e.Body)
}

// Retryable reports whether the status is a transient gateway failure.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
