package web

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"NexusChat/internal/chatbot"
	"NexusChat/internal/session"

	"github.com/gin-gonic/gin"
)

//go:embed static/index.html
var indexHTML []byte

const shutdownTimeout = 5 * time.Second

// EventConnected is the first event a websocket client receives.
const EventConnected chatbot.EventType = "connected"

type submitRequest struct {
	Content string `json:"content"`
}

type conversationResponse struct {
	SessionID string            `json:"session_id"`
	Backend   string            `json:"backend"`
	Model     string            `json:"model"`
	Loading   bool              `json:"loading"`
	Messages  []session.Message `json:"messages"`
}

// Server is the browser front end.
type Server struct {
	controller *chatbot.Controller
	hub        *Hub
	logger     *slog.Logger
	engine     *gin.Engine
	addr       string

	// lifetime bounds turns in flight; cancelled when Serve's ctx ends.
	lifetime context.Context
}

// NewServer wires the routes. hub should be the notifier of controller.
func NewServer(addr string, controller *chatbot.Controller, hub *Hub, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		controller: controller,
		hub:        hub,
		logger:     logger,
		engine:     gin.New(),
		addr:       addr,
		lifetime:   context.Background(),
	}

	s.engine.Use(gin.Recovery(), s.requestLogger())

	s.engine.GET("/", s.handleIndex)
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/ws", s.handleWebSocket)

	api := s.engine.Group("/api")
	api.GET("/conversation", s.handleConversation)
	api.POST("/messages", s.handleSubmit)
	api.POST("/reset", s.handleReset)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("web server failed: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. Turns in flight are cancelled along with ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.lifetime = ctx

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("failed to shutdown web server: %w", err)
		}
		s.logger.Warn("shutdown deadline reached, closing remaining connections")
		_ = srv.Close()
	}
	s.logger.Info("web server stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleConversation(c *gin.Context) {
	sess := s.controller.Session()
	c.JSON(http.StatusOK, conversationResponse{
		SessionID: sess.ID,
		Backend:   s.controller.Backend(),
		Model:     s.controller.Model(),
		Loading:   s.controller.Loading(),
		Messages:  sess.Conversation.Snapshot(),
	})
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	// A closed tab must not abort a turn in flight, but shutdown does.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()
	stop := context.AfterFunc(s.lifetime, cancel)
	defer stop()

	msg, err := s.controller.Submit(ctx, req.Content)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (s *Server) handleReset(c *gin.Context) {
	s.controller.Reset()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	s.hub.serve(c.Writer, c.Request, chatbot.Event{Type: EventConnected, Loading: s.controller.Loading()})
}

func statusFor(err error) int {
	if errors.Is(err, chatbot.ErrEmptyInput) {
		return http.StatusBadRequest
	}
	if errors.Is(err, chatbot.ErrConversationReset) {
		return http.StatusConflict
	}
	var turnErr *chatbot.TurnError
	if errors.As(err, &turnErr) && turnErr.Kind == chatbot.KindQuotaExceeded {
		return http.StatusTooManyRequests
	}
	return http.StatusBadGateway
}
