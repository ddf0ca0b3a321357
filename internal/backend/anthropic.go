package backend

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"NexusChat/internal/session"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
)

const anthropicMaxTokens = 1024

// Anthropic talks to the Messages API.
type Anthropic struct {
	client anthropic.Client
	logger *slog.Logger
}

// NewAnthropic creates a client with SDK retries disabled; the caller owns
// the retry policy.
func NewAnthropic(apiKey, baseURL string, httpClient *http.Client, logger *slog.Logger) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		logger: logger,
	}
}

// Complete calls the Anthropic API
func (a *Anthropic) Complete(ctx context.Context, req Request) (Completion, error) {
	ctx, span := tracer.Start(ctx, "anthropic_api_call")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", req.Model))

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: anthropicMaxTokens,
		Messages:  lo.Map(req.Messages, toAnthropicMessage),
	})
	if err != nil {
		span.RecordError(err)
		return Completion{}, anthropicError(err)
	}

	a.logger.Debug("anthropic completion", "model", msg.Model, "stop_reason", msg.StopReason)

	var candidates []Candidate
	for _, block := range msg.Content {
		if block.Type == "text" {
			candidates = append(candidates, Candidate{Text: block.Text})
		}
	}

	return Completion{
		Model:      string(msg.Model),
		Candidates: candidates,
		Usage: Usage{
			PromptTokens:     msg.Usage.InputTokens,
			CompletionTokens: msg.Usage.OutputTokens,
			TotalTokens:      msg.Usage.InputTokens + msg.Usage.OutputTokens,
		},
	}, nil
}

func toAnthropicMessage(m session.Message, _ int) anthropic.MessageParam {
	if m.Role == session.RoleAssistant {
		return anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content))
	}
	return anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content))
}

func anthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &StatusError{Code: apiErr.StatusCode, Err: err}
	}
	return &StatusError{Err: err}
}
