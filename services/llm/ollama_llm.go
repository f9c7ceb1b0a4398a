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
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultOllamaModel          = "llama3.1"
	defaultOllamaEmbeddingModel = "nomic-embed-text"
)

type OllamaClient struct {
	httpClient     *http.Client
	baseURL        string
	model          string
	embeddingModel string
}

// Ollama API request structure
type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []Message              `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message   Message `json:"message"`
	CreatedAt string  `json:"created_at"`
	Done      bool    `json:"done"`
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaClient builds a client for a local Ollama server.
//
// Empty fields in cfg fall back to OLLAMA_BASE_URL, OLLAMA_MODEL and
// OLLAMA_EMBEDDING_MODEL.
func NewOllamaClient(cfg Config) (*OllamaClient, error) {
	baseURL := firstNonEmpty(cfg.BaseURL, os.Getenv("OLLAMA_BASE_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("OLLAMA_BASE_URL environment variable not set")
	}
	model := firstNonEmpty(cfg.Model, os.Getenv("OLLAMA_MODEL"))
	if model == "" {
		slog.Warn("OLLAMA_MODEL not set, defaulting to " + defaultOllamaModel)
		model = defaultOllamaModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL, "default_model", model)
	return &OllamaClient{
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        baseURL,
		model:          model,
		embeddingModel: firstNonEmpty(cfg.EmbeddingModel, os.Getenv("OLLAMA_EMBEDDING_MODEL"), defaultOllamaEmbeddingModel),
	}, nil
}

// buildOptions fills the sampling options Ollama expects, with the
// assistant's conservative defaults.
func (o *OllamaClient) buildOptions(params GenerationParams) map[string]interface{} {
	options := map[string]interface{}{
		"temperature": float32(0.2),
		"top_k":       20,
		"top_p":       float32(0.9),
		"num_predict": 8192,
	}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	return options
}

// Generate implements the LLMClient interface
func (o *OllamaClient) Generate(ctx context.Context, prompt string,
	params GenerationParams) (string, error) {

	ctx, span := tracer.Start(ctx, "OllamaClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))
	slog.Debug("Generating text via Ollama", "model", o.model)

	payload := ollamaGenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Stream:  false,
		Options: o.buildOptions(params),
	}
	var ollamaResp ollamaGenerateResponse
	if err := o.post(ctx, span, "/api/generate", payload, &ollamaResp); err != nil {
		return "", err
	}
	slog.Debug("Received response from Ollama")
	return ollamaResp.Response, nil
}

// Chat sends a message list to /api/chat.
func (o *OllamaClient) Chat(ctx context.Context, messages []Message,
	params GenerationParams) (string, error) {

	ctx, span := tracer.Start(ctx, "OllamaClient.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))
	span.SetAttributes(attribute.Int("llm.num_messages", len(messages)))

	payload := ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   false,
		Options:  o.buildOptions(params),
	}
	var ollamaResp ollamaChatResponse
	if err := o.post(ctx, span, "/api/chat", payload, &ollamaResp); err != nil {
		return "", err
	}
	if ollamaResp.Message.Role != "assistant" {
		slog.Warn("Ollama chat response message role was not 'assistant'", "role", ollamaResp.Message.Role)
	}
	return ollamaResp.Message.Content, nil
}

// Embed implements the Embedder interface using /api/embed.
func (o *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "OllamaClient.Embed")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.embedding_model", o.embeddingModel),
		attribute.Int("llm.num_inputs", len(texts)),
	)

	var resp ollamaEmbedResponse
	if err := o.post(ctx, span, "/api/embed", ollamaEmbedRequest{Model: o.embeddingModel, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// post sends payload as JSON and decodes a 200 response into out.
func (o *OllamaClient) post(ctx context.Context, span trace.Span, path string, payload, out interface{}) error {
	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to marshal request to Ollama: %w", err)
	}

	// Use NewRequestWithContext to respect context cancellation/timeout
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to create request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		recordSpanError(span, err)
		slog.Error("Ollama API call failed", "path", path, "error", err)
		return fmt.Errorf("ollama API call failed: %w", err)
	}
	defer resp.Body.Close()

	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to read response body from Ollama: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := &StatusError{Backend: "ollama", StatusCode: resp.StatusCode, Body: string(respBodyBytes)}
		if resp.StatusCode == http.StatusNotFound {
			var errResp struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(respBodyBytes, &errResp) == nil && strings.Contains(errResp.Error, "model") && strings.Contains(errResp.Error, "not found") {
				slog.Warn("Ollama model not found", "model", o.model)
				err.Body = fmt.Sprintf("model not found. Please run: 'ollama pull %s'", o.model)
			}
		}
		recordSpanError(span, err)
		slog.Error("Ollama returned an error", "status_code", resp.StatusCode, "response", string(respBodyBytes))
		return err
	}

	if err := json.Unmarshal(respBodyBytes, out); err != nil {
		recordSpanError(span, err)
		slog.Error("Failed to parse JSON response from Ollama", "error", err, "response", string(respBodyBytes))
		return fmt.Errorf("failed to parse Ollama response: %w", err)
	}
	return nil
}

var (
	_ ChatClient = (*OllamaClient)(nil)
	_ Embedder   = (*OllamaClient)(nil)
)
