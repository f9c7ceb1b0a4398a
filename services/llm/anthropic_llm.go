package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

const (
	anthropicAPIVersion   = "2023-06-01"
	defaultAnthropicURL   = "https://api.anthropic.com/v1/messages"
	defaultAnthropicModel = "claude-3-5-sonnet-20240620"
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    []systemBlock      `json:"system,omitempty"` // Top-level system prompt
	MaxTokens int                `json:"max_tokens"`

	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	StopSeqs    []string `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // Must be "ephemeral"
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// --- Client Implementation ---

type AnthropicClient struct {
	httpClient   *http.Client
	apiKey       APIKey
	model        string
	url          string
	systemPrompt string
}

// NewAnthropicClient reads ANTHROPIC_API_KEY (or the anthropic_api_key
// secret) and CLAUDE_MODEL when cfg leaves them empty.
func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	apiKey, err := loadAPIKey("ANTHROPIC_API_KEY", "anthropic_api_key")
	if err != nil {
		slog.Warn("Anthropic API Key is missing.")
		return nil, err
	}

	model := firstNonEmpty(cfg.Model, os.Getenv("CLAUDE_MODEL"))
	if model == "" {
		model = defaultAnthropicModel
		slog.Info("CLAUDE_MODEL not set, defaulting to", "model", model)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &AnthropicClient{
		httpClient:   &http.Client{Timeout: timeout},
		apiKey:       apiKey,
		model:        model,
		url:          firstNonEmpty(cfg.BaseURL, defaultAnthropicURL),
		systemPrompt: firstNonEmpty(cfg.SystemPrompt, os.Getenv("SYSTEM_ROLE_PROMPT_PERSONA"), defaultSystemPrompt),
	}, nil
}

// Generate implements the LLMClient interface
func (a *AnthropicClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return a.Chat(ctx, []Message{{Role: "user", Content: prompt}}, params)
}

// Chat implements the ChatClient interface. A "system" message replaces the
// configured system prompt.
func (a *AnthropicClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "AnthropicClient.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", a.model))

	apiMessages := make([]anthropicMessage, 0, len(messages))
	systemPrompt := a.systemPrompt
	for _, msg := range messages {
		if strings.EqualFold(msg.Role, "system") {
			systemPrompt = msg.Content
			continue
		}
		apiMessages = append(apiMessages, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}

	var systemBlocks []systemBlock
	if systemPrompt != "" {
		block := systemBlock{Type: "text", Text: systemPrompt}
		if len(systemPrompt) > 1024 {
			block.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		systemBlocks = append(systemBlocks, block)
	}

	reqPayload := anthropicRequest{
		Model:       a.model,
		Messages:    apiMessages,
		System:      systemBlocks,
		MaxTokens:   4096,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		TopK:        params.TopK,
		StopSeqs:    params.Stop,
	}
	if params.MaxTokens != nil {
		reqPayload.MaxTokens = *params.MaxTokens
	}

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if err := a.apiKey.Use(func(k string) error {
		req.Header.Set("x-api-key", k)
		return nil
	}); err != nil {
		return "", err
	}
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	slog.Debug("Sending REST request to Anthropic", "model", a.model)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		recordSpanError(span, err)
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		recordSpanError(span, err)
		return "", fmt.Errorf("failed to read Anthropic response: %w", err)
	}
	slog.Debug("Raw Anthropic Response", "status", resp.StatusCode, "body_length", len(bodyBytes))

	if resp.StatusCode != http.StatusOK {
		statusErr := &StatusError{Backend: "anthropic", StatusCode: resp.StatusCode, Body: string(bodyBytes)}
		recordSpanError(span, statusErr)
		return "", statusErr
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("anthropic API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	var finalText strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			finalText.WriteString(block.Text)
		}
	}
	if finalText.Len() == 0 {
		return "", fmt.Errorf("received content but no text block found")
	}
	return finalText.String(), nil
}

var _ ChatClient = (*AnthropicClient)(nil)
