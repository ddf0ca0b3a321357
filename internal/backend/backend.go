//go:generate go run go.uber.org/mock/mockgen -source=backend.go -destination=../mocks/mock_completer.go -package=mocks

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"NexusChat/internal/config"
	"NexusChat/internal/session"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("NexusChat/backend")

// Completer turns a conversation context into candidate replies.
type Completer interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// Request is one completion call. Messages are sent in order.
type Request struct {
	Model    string
	Messages []session.Message
}

// Candidate is one generated reply.
type Candidate struct {
	Text string
}

// Usage reports token accounting when the service returns it.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Completion is the service response.
type Completion struct {
	Model      string
	Candidates []Candidate
	Usage      Usage
}

// ErrNoCandidates is returned when a completion carries no reply.
var ErrNoCandidates = errors.New("completion service returned no candidates")

// FirstText returns the text of the first candidate.
func (c Completion) FirstText() (string, error) {
	if len(c.Candidates) == 0 {
		return "", ErrNoCandidates
	}
	return c.Candidates[0].Text, nil
}

// StatusError carries the HTTP status of a failed call. Code is 0 for
// transport failures that never produced a response.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("API error: %d %s", e.Code, http.StatusText(e.Code))
	}
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err is a 429 from the completion service.
func IsRateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusTooManyRequests
}

// New builds the completer for cfg.Backend.
func New(cfg config.Config, logger *slog.Logger) (Completer, error) {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	switch cfg.Backend {
	case config.BackendOpenAI:
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, httpClient, logger), nil
	case config.BackendGrok:
		return NewOpenAI(cfg.GrokAPIKey, cfg.GrokBaseURL, httpClient, logger), nil
	case config.BackendAnthropic:
		return NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicURL, httpClient, logger), nil
	case config.BackendOllama:
		return NewOllama(cfg.OllamaURL, httpClient, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}
