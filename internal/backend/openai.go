package backend

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"NexusChat/internal/session"

	"github.com/samber/lo"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
)

// OpenAI talks to the Chat Completions API or any compatible endpoint.
type OpenAI struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAI creates a client. An empty baseURL keeps the library default.
func NewOpenAI(apiKey, baseURL string, httpClient *http.Client, logger *slog.Logger) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		logger: logger,
	}
}

// Complete calls the OpenAI API
func (o *OpenAI) Complete(ctx context.Context, req Request) (Completion, error) {
	ctx, span := tracer.Start(ctx, "openai_api_call")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", req.Model))

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: lo.Map(req.Messages, func(m session.Message, _ int) openai.ChatCompletionMessage {
			return openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
		}),
	})
	if err != nil {
		span.RecordError(err)
		return Completion{}, openAIError(err)
	}

	o.logger.Debug("openai completion", "model", resp.Model, "choices", len(resp.Choices))

	return Completion{
		Model: resp.Model,
		Candidates: lo.Map(resp.Choices, func(c openai.ChatCompletionChoice, _ int) Candidate {
			return Candidate{Text: c.Message.Content}
		}),
		Usage: Usage{
			PromptTokens:     int64(resp.Usage.PromptTokens),
			CompletionTokens: int64(resp.Usage.CompletionTokens),
			TotalTokens:      int64(resp.Usage.TotalTokens),
		},
	}, nil
}

func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Code: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &StatusError{Code: reqErr.HTTPStatusCode, Err: err}
	}
	return &StatusError{Err: err}
}
