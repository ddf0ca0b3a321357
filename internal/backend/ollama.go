package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"NexusChat/internal/session"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
)

// OllamaRequest represents the request body for Ollama API
type OllamaRequest struct {
	Model    string              `json:"model"`
	Messages []map[string]string `json:"messages"`
	Stream   bool                `json:"stream"`
}

// OllamaResponse represents the response from Ollama API
type OllamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool  `json:"done"`
	PromptEvalCount int64 `json:"prompt_eval_count"`
	EvalCount       int64 `json:"eval_count"`
}

// OllamaTagsResponse represents the response from Ollama /api/tags endpoint
type OllamaTagsResponse struct {
	Models []OllamaModel `json:"models"`
}

// OllamaModel represents a single model in the Ollama tags response
type OllamaModel struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

// Ollama talks to a local Ollama server over plain HTTP.
type Ollama struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewOllama(baseURL string, httpClient *http.Client, logger *slog.Logger) *Ollama {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Complete calls the Ollama API
func (o *Ollama) Complete(ctx context.Context, req Request) (Completion, error) {
	ctx, span := tracer.Start(ctx, "ollama_api_call")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", req.Model))

	reqBody := OllamaRequest{
		Model: req.Model,
		Messages: lo.Map(req.Messages, func(m session.Message, _ int) map[string]string {
			return map[string]string{"role": m.Role, "content": m.Content}
		}),
		Stream: false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	var apiResp OllamaResponse
	if err := o.do(ctx, http.MethodPost, "/api/chat", jsonData, &apiResp); err != nil {
		span.RecordError(err)
		return Completion{}, err
	}

	o.logger.Debug("ollama completion", "model", apiResp.Model, "done", apiResp.Done)

	return Completion{
		Model:      apiResp.Model,
		Candidates: []Candidate{{Text: apiResp.Message.Content}},
		Usage: Usage{
			PromptTokens:     apiResp.PromptEvalCount,
			CompletionTokens: apiResp.EvalCount,
			TotalTokens:      apiResp.PromptEvalCount + apiResp.EvalCount,
		},
	}, nil
}

// ListModels fetches the list of available Ollama models
func (o *Ollama) ListModels(ctx context.Context) ([]OllamaModel, error) {
	var tagsResp OllamaTagsResponse
	if err := o.do(ctx, http.MethodGet, "/api/tags", nil, &tagsResp); err != nil {
		return nil, err
	}
	return tagsResp.Models, nil
}

func (o *Ollama) do(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("content-type", "application/json")
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return &StatusError{Err: fmt.Errorf("failed to send request (is Ollama running?): %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &StatusError{Code: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return &StatusError{
			Code: resp.StatusCode,
			Err:  fmt.Errorf("API error: %s - %s", resp.Status, string(respBody)),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
