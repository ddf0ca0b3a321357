package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"NexusChat/internal/backend"
	"NexusChat/internal/session"
	"NexusChat/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// RetryPolicy bounds the attempts made for one turn.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy is three attempts with a fixed two second wait.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 2 * time.Second}

// Sleeper waits d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recorder receives turns and failures for archiving. *store.Archive
// satisfies it.
type Recorder interface {
	RecordTurn(ctx context.Context, sessionID string, msg session.Message, contextDigest string) error
	RecordFailure(ctx context.Context, sessionID string, f store.Failure) error
}

// Controller submits user turns to the completion service.
type Controller struct {
	session *session.Session
	logger  *slog.Logger
	tracer  trace.Tracer

	mu        sync.RWMutex
	completer backend.Completer
	model     string

	policy   RetryPolicy
	sleep    Sleeper
	now      func() time.Time
	recorder Recorder
	notify   func(Event)

	loading atomic.Bool

	attempts    metric.Int64Counter
	rateLimited metric.Int64Counter
	failures    metric.Int64Counter
	duration    metric.Float64Histogram
	contextSize metric.Int64Histogram
	usage       map[string]metric.Int64Counter
}

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.logger = l } }

func WithTracer(t trace.Tracer) Option { return func(c *Controller) { c.tracer = t } }

// WithMeter creates the turn instruments on m.
func WithMeter(m metric.Meter) Option {
	return func(c *Controller) { c.initInstruments(m) }
}

func WithRetryPolicy(p RetryPolicy) Option { return func(c *Controller) { c.policy = p } }

func WithSleeper(s Sleeper) Option { return func(c *Controller) { c.sleep = s } }

func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

func WithRecorder(r Recorder) Option { return func(c *Controller) { c.recorder = r } }

// WithNotifier registers fn to receive every controller event. fn must not block.
func WithNotifier(fn func(Event)) Option { return func(c *Controller) { c.notify = fn } }

// NewController binds a session to a completer and model.
func NewController(sess *session.Session, completer backend.Completer, model string, opts ...Option) *Controller {
	c := &Controller{
		session:   sess,
		completer: completer,
		model:     model,
		logger:    slog.Default(),
		tracer:    otel.Tracer("NexusChat/chatbot"),
		policy:    DefaultRetryPolicy,
		sleep:     sleepContext,
		now:       time.Now,
		notify:    func(Event) {},
	}
	c.initInstruments(otel.Meter("NexusChat/chatbot"))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) initInstruments(m metric.Meter) {
	c.attempts, _ = m.Int64Counter("chat.turn.attempts",
		metric.WithDescription("Completion attempts made"))
	c.rateLimited, _ = m.Int64Counter("chat.turn.rate_limited",
		metric.WithDescription("Completion attempts rejected with 429"))
	c.failures, _ = m.Int64Counter("chat.turn.failures",
		metric.WithDescription("Turns that ended in an error"))
	c.duration, _ = m.Float64Histogram("http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"))
	c.contextSize, _ = m.Int64Histogram("chat.context.messages",
		metric.WithDescription("Messages sent as context per turn"))
	c.usage = make(map[string]metric.Int64Counter, 3)
	for _, key := range []string{"prompt_tokens", "completion_tokens", "total_tokens"} {
		c.usage[key], _ = m.Int64Counter("llm.usage."+key,
			metric.WithDescription("LLM usage metric: "+key))
	}
}

func (c *Controller) recordUsage(ctx context.Context, u backend.Usage) {
	c.usage["prompt_tokens"].Add(ctx, u.PromptTokens)
	c.usage["completion_tokens"].Add(ctx, u.CompletionTokens)
	c.usage["total_tokens"].Add(ctx, u.TotalTokens)
}

// Session returns the bound session.
func (c *Controller) Session() *session.Session { return c.session }

// Loading reports whether a submission is in flight. It is advisory only.
func (c *Controller) Loading() bool { return c.loading.Load() }

// Model returns the model used for new turns.
func (c *Controller) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// Backend returns the name of the backend used for new turns.
func (c *Controller) Backend() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.Backend
}

// SetCompleter switches the backend used by later turns.
func (c *Controller) SetCompleter(name string, completer backend.Completer, model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completer = completer
	c.model = model
	c.session.Backend = name
	c.logger.Info("switched backend", "backend", name, "model", model)
}

// SetModel changes the model used by later turns.
func (c *Controller) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = model
}

// Reset clears the conversation.
func (c *Controller) Reset() {
	c.session.Conversation.Reset()
	c.logger.Info("conversation reset", "session_id", c.session.ID)
	c.notify(Event{Type: EventReset})
}

func (c *Controller) setLoading(v bool) {
	c.loading.Store(v)
	c.notify(Event{Type: EventLoading, Loading: v})
}

// Submit appends input as a user turn, asks the completion service for a
// reply and appends it. Rate-limited attempts are retried under the policy;
// every other failure ends the turn. On failure no assistant turn is added
// and the user turn stays in the log. A reply that arrives after Reset is
// discarded with ErrConversationReset.
func (c *Controller) Submit(ctx context.Context, input string) (session.Message, error) {
	if strings.TrimSpace(input) == "" {
		return session.Message{}, ErrEmptyInput
	}

	c.setLoading(true)
	defer c.setLoading(false)

	c.mu.RLock()
	completer, model, backendName := c.completer, c.model, c.session.Backend
	c.mu.RUnlock()

	ctx, span := c.tracer.Start(ctx, "submit_turn", trace.WithAttributes(
		attribute.String("session.id", c.session.ID),
		attribute.String("llm.backend", backendName),
		attribute.String("llm.model", model),
	))
	defer span.End()

	user := session.NewMessage(session.RoleUser, input, c.now())
	history, generation := c.session.Conversation.Append(user)
	c.notify(Event{Type: EventUserTurn, Message: &user})

	digest := session.Fingerprint(history)
	span.SetAttributes(
		attribute.Int("chat.context.messages", len(history)),
		attribute.String("chat.context.digest", digest),
	)
	c.contextSize.Record(ctx, int64(len(history)))
	c.logger.Debug("submitting turn", "session_id", c.session.ID, "context_messages", len(history))
	c.record(ctx, user, digest)

	completion, attempts, turnErr := c.complete(ctx, completer, backend.Request{Model: model, Messages: history})
	if turnErr != nil {
		return session.Message{}, c.fail(ctx, span, turnErr)
	}

	text, err := completion.FirstText()
	if err != nil {
		return session.Message{}, c.fail(ctx, span, &TurnError{Kind: KindRequestFailed, Attempts: attempts, Err: err})
	}

	c.recordUsage(ctx, completion.Usage)

	reply := session.NewMessage(session.RoleAssistant, text, c.now())
	if !c.session.Conversation.AppendIf(generation, reply) {
		return session.Message{}, c.fail(ctx, span, &TurnError{Kind: KindConversationReset, Attempts: attempts, Err: ErrConversationReset})
	}
	c.notify(Event{Type: EventAssistantTurn, Message: &reply})
	c.record(ctx, reply, digest)
	c.logger.Info("turn completed",
		"session_id", c.session.ID, "attempts", attempts, "model", completion.Model)

	return reply, nil
}

func (c *Controller) fail(ctx context.Context, span trace.Span, turnErr *TurnError) error {
	kind := turnErr.Kind.String()

	span.RecordError(turnErr)
	span.SetStatus(codes.Error, kind)
	c.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	c.logger.Error("turn failed",
		"session_id", c.session.ID, "kind", kind, "attempts", turnErr.Attempts, "error", turnErr.Err)
	c.notify(Event{Type: EventError, Error: turnErr.Error()})

	if c.recorder != nil {
		f := store.Failure{Kind: kind, Message: turnErr.Error(), Attempts: turnErr.Attempts, OccurredAt: c.now()}
		if err := c.recorder.RecordFailure(ctx, c.session.ID, f); err != nil {
			c.logger.Warn("failed to archive failure", "error", err)
		}
	}
	return turnErr
}

// complete runs the retry loop. Every attempt sends the same request.
func (c *Controller) complete(ctx context.Context, completer backend.Completer, req backend.Request) (backend.Completion, int, *TurnError) {
	var lastErr error

	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		completion, err := c.attempt(ctx, completer, req, attempt)
		if err == nil {
			return completion, attempt, nil
		}

		if !backend.IsRateLimited(err) {
			return backend.Completion{}, attempt, &TurnError{Kind: KindRequestFailed, Attempts: attempt, Err: err}
		}

		lastErr = err
		c.rateLimited.Add(ctx, 1)
		c.logger.Warn("rate limited",
			"session_id", c.session.ID, "attempt", attempt, "max_attempts", c.policy.MaxAttempts, "error", err)

		if attempt == c.policy.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, c.policy.Backoff); err != nil {
			return backend.Completion{}, attempt, &TurnError{
				Kind: KindRequestFailed, Attempts: attempt, Err: fmt.Errorf("retry wait interrupted: %w", err),
			}
		}
	}

	return backend.Completion{}, c.policy.MaxAttempts, &TurnError{
		Kind:     KindQuotaExceeded,
		Attempts: c.policy.MaxAttempts,
		Err:      errors.Join(ErrQuotaExceeded, lastErr),
	}
}

func (c *Controller) attempt(ctx context.Context, completer backend.Completer, req backend.Request, n int) (backend.Completion, error) {
	ctx, span := c.tracer.Start(ctx, "completion_attempt", trace.WithAttributes(attribute.Int("attempt", n)))
	defer span.End()

	c.attempts.Add(ctx, 1)
	start := time.Now()
	completion, err := completer.Complete(ctx, req)
	c.duration.Record(ctx, float64(time.Since(start).Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return completion, err
}

func (c *Controller) record(ctx context.Context, msg session.Message, digest string) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordTurn(ctx, c.session.ID, msg, digest); err != nil {
		c.logger.Warn("failed to archive turn", "error", err)
	}
}
