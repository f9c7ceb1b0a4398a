package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel          = "gpt-4o-mini"
	defaultOpenAIEmbeddingModel = "text-embedding-3-small"
)

type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel string
	systemPrompt   string
}

// NewOpenAIClient builds a client for the OpenAI API or any compatible server.
//
// Empty fields in cfg fall back to OPENAI_MODEL, OPENAI_BASE_URL and
// OPENAI_EMBEDDING_MODEL. The key comes from OPENAI_API_KEY or the
// openai_api_key secret.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	key, err := loadAPIKey("OPENAI_API_KEY", "openai_api_key")
	if err != nil {
		slog.Error("OPENAI_API_KEY environment variable not set and secret not found")
		return nil, err
	}

	model := firstNonEmpty(cfg.Model, os.Getenv("OPENAI_MODEL"))
	if model == "" {
		model = defaultOpenAIModel
		slog.Warn("OPENAI_MODEL not set, defaulting to " + defaultOpenAIModel)
	}
	embeddingModel := firstNonEmpty(cfg.EmbeddingModel, os.Getenv("OPENAI_EMBEDDING_MODEL"), defaultOpenAIEmbeddingModel)
	baseURL := firstNonEmpty(cfg.BaseURL, os.Getenv("OPENAI_BASE_URL"))

	var client *openai.Client
	err = key.Use(func(k string) error {
		oc := openai.DefaultConfig(k)
		if baseURL != "" {
			oc.BaseURL = baseURL
		}
		client = openai.NewClientWithConfig(oc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Initializing OpenAI client", "model", model, "embedding_model", embeddingModel)
	return &OpenAIClient{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		systemPrompt:   firstNonEmpty(cfg.SystemPrompt, os.Getenv("SYSTEM_ROLE_PROMPT_PERSONA"), defaultSystemPrompt),
	}, nil
}

// Generate implements the LLMClient interface
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return o.Chat(ctx, []Message{{Role: openai.ChatMessageRoleUser, Content: prompt}}, params)
}

// Chat sends the messages after the configured system prompt.
func (o *OpenAIClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Chat")
	defer span.End()

	slog.Debug("Generating text via OpenAI", "model", o.model)
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)+1),
	}
	req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: o.systemPrompt})
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		recordSpanError(span, err)
		slog.Error("OpenAI API call failed", "error", err)
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices or empty content")
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// Embed implements the Embedder interface.
func (o *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "OpenAIClient.Embed")
	defer span.End()

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(o.embeddingModel),
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("OpenAI embedding call failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("OpenAI returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

var (
	_ ChatClient = (*OpenAIClient)(nil)
	_ Embedder   = (*OpenAIClient)(nil)
)
