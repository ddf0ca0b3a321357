package backend_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"NexusChat/internal/backend"
	"NexusChat/internal/config"
	"NexusChat/internal/session"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var history = []session.Message{
	{Role: session.RoleUser, Content: "hi"},
	{Role: session.RoleAssistant, Content: "hello"},
	{Role: session.RoleUser, Content: "how are you?"},
}

// captured holds the last request body seen by a fake service.
type captured struct {
	path string
	body map[string]any
}

func fakeService(t *testing.T, status int, respBody string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			got.path = r.URL.Path
			b, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(b, &got.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, respBody)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sentRoles(t *testing.T, got *captured) []string {
	t.Helper()
	msgs, ok := got.body["messages"].([]any)
	require.True(t, ok, "request has no messages array")
	var roles []string
	for _, m := range msgs {
		roles = append(roles, m.(map[string]any)["role"].(string))
	}
	return roles
}

func TestOpenAI_Complete(t *testing.T) {
	got := &captured{}
	srv := fakeService(t, http.StatusOK, `{
		"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o",
		"choices":[
			{"index":0,"message":{"role":"assistant","content":"first"},"finish_reason":"stop"},
			{"index":1,"message":{"role":"assistant","content":"second"},"finish_reason":"stop"}
		],
		"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}
	}`, got)

	c := backend.NewOpenAI("test-key", srv.URL+"/v1", srv.Client(), discardLogger())
	out, err := c.Complete(context.Background(), backend.Request{Model: "gpt-4o", Messages: history})
	require.NoError(t, err)

	text, err := out.FirstText()
	require.NoError(t, err)
	require.Equal(t, "first", text)
	require.Len(t, out.Candidates, 2)
	require.Equal(t, int64(7), out.Usage.TotalTokens)

	require.Equal(t, "/v1/chat/completions", got.path)
	require.Equal(t, "gpt-4o", got.body["model"])
	require.Equal(t, []string{"user", "assistant", "user"}, sentRoles(t, got))
}

func TestOpenAI_RateLimited(t *testing.T) {
	srv := fakeService(t, http.StatusTooManyRequests,
		`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, nil)

	c := backend.NewOpenAI("test-key", srv.URL+"/v1", srv.Client(), discardLogger())
	_, err := c.Complete(context.Background(), backend.Request{Model: "gpt-4o", Messages: history})
	require.Error(t, err)
	require.True(t, backend.IsRateLimited(err))
	require.Contains(t, err.Error(), "Rate limit reached")
}

func TestOpenAI_OtherFailure(t *testing.T) {
	srv := fakeService(t, http.StatusUnauthorized,
		`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`, nil)

	c := backend.NewOpenAI("bad-key", srv.URL+"/v1", srv.Client(), discardLogger())
	_, err := c.Complete(context.Background(), backend.Request{Model: "gpt-4o", Messages: history})
	require.Error(t, err)
	require.False(t, backend.IsRateLimited(err))

	var se *backend.StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusUnauthorized, se.Code)
}

func TestAnthropic_Complete(t *testing.T) {
	got := &captured{}
	srv := fakeService(t, http.StatusOK, `{
		"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-20250514",
		"content":[{"type":"text","text":"hi there"}],
		"stop_reason":"end_turn","stop_sequence":null,
		"usage":{"input_tokens":3,"output_tokens":2}
	}`, got)

	c := backend.NewAnthropic("test-key", srv.URL+"/", srv.Client(), discardLogger())
	out, err := c.Complete(context.Background(), backend.Request{Model: "claude-sonnet-4-20250514", Messages: history})
	require.NoError(t, err)

	text, err := out.FirstText()
	require.NoError(t, err)
	require.Equal(t, "hi there", text)
	require.Equal(t, int64(5), out.Usage.TotalTokens)
	require.Equal(t, "/v1/messages", got.path)
	require.Equal(t, []string{"user", "assistant", "user"}, sentRoles(t, got))
}

func TestAnthropic_RateLimitedIsNotRetriedBySDK(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	t.Cleanup(srv.Close)

	c := backend.NewAnthropic("test-key", srv.URL+"/", srv.Client(), discardLogger())
	_, err := c.Complete(context.Background(), backend.Request{Model: "claude", Messages: history})
	require.Error(t, err)
	require.True(t, backend.IsRateLimited(err))
	require.Equal(t, 1, calls)
}

func TestOllama_Complete(t *testing.T) {
	got := &captured{}
	srv := fakeService(t, http.StatusOK, `{
		"model":"llama3:latest","created_at":"2024-01-01T00:00:00Z",
		"message":{"role":"assistant","content":"local reply"},
		"done":true,"prompt_eval_count":4,"eval_count":3
	}`, got)

	c := backend.NewOllama(srv.URL+"/", srv.Client(), discardLogger())
	out, err := c.Complete(context.Background(), backend.Request{Model: "llama3:latest", Messages: history})
	require.NoError(t, err)

	text, err := out.FirstText()
	require.NoError(t, err)
	require.Equal(t, "local reply", text)
	require.Equal(t, int64(7), out.Usage.TotalTokens)
	require.Equal(t, "/api/chat", got.path)
	require.Equal(t, false, got.body["stream"])
	require.Equal(t, []string{"user", "assistant", "user"}, sentRoles(t, got))
}

func TestOllama_StatusErrors(t *testing.T) {
	srv := fakeService(t, http.StatusTooManyRequests, `busy`, nil)
	c := backend.NewOllama(srv.URL, srv.Client(), discardLogger())

	_, err := c.Complete(context.Background(), backend.Request{Model: "llama3", Messages: history})
	require.True(t, backend.IsRateLimited(err))
	require.Contains(t, err.Error(), "busy")

	srv500 := fakeService(t, http.StatusInternalServerError, `boom`, nil)
	c = backend.NewOllama(srv500.URL, srv500.Client(), discardLogger())
	_, err = c.Complete(context.Background(), backend.Request{Model: "llama3", Messages: history})
	require.Error(t, err)
	require.False(t, backend.IsRateLimited(err))
}

func TestOllama_ListModels(t *testing.T) {
	srv := fakeService(t, http.StatusOK,
		`{"models":[{"name":"llama3:latest","size":4661224676},{"name":"mistral:7b","size":4109865159}]}`, nil)
	c := backend.NewOllama(srv.URL, srv.Client(), discardLogger())

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	require.Equal(t, "llama3:latest", models[0].Name)
}

func TestCompletion_FirstTextEmpty(t *testing.T) {
	_, err := backend.Completion{}.FirstText()
	require.ErrorIs(t, err, backend.ErrNoCandidates)
}

func TestIsRateLimited(t *testing.T) {
	require.True(t, backend.IsRateLimited(&backend.StatusError{Code: 429}))
	require.True(t, backend.IsRateLimited(errors.Join(errors.New("ctx"), &backend.StatusError{Code: 429})))
	require.False(t, backend.IsRateLimited(&backend.StatusError{Code: 500}))
	require.False(t, backend.IsRateLimited(errors.New("429")))
	require.False(t, backend.IsRateLimited(nil))
}

func TestStatusError_Message(t *testing.T) {
	require.Equal(t, "API error: 429 Too Many Requests", (&backend.StatusError{Code: 429}).Error())
	require.Equal(t, "boom", (&backend.StatusError{Code: 500, Err: errors.New("boom")}).Error())
}

func TestNew(t *testing.T) {
	base := config.Config{HTTPTimeout: time.Second, OllamaURL: "http://localhost:11434"}

	for _, name := range config.Backends {
		cfg := base
		cfg.Backend = name
		c, err := backend.New(cfg, discardLogger())
		require.NoError(t, err, name)
		require.NotNil(t, c, name)
	}

	cfg := base
	cfg.Backend = "gemini"
	_, err := backend.New(cfg, discardLogger())
	require.ErrorContains(t, err, "unknown backend")
}
