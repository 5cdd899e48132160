// Package server exposes the rules assistant over HTTP: a chat endpoint,
// conversation management, and health. The MCP transport mounts alongside
// the REST routes.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/bull/ultirules/internal/chat"
	"github.com/bull/ultirules/internal/store"
)

// Responder runs the conversational pipeline for one message.
type Responder interface {
	Respond(ctx context.Context, conversationID, message string) (*chat.Reply, error)
}

// HistoryStore reads conversation state for the REST surface.
type HistoryStore interface {
	CreateConversation(ctx context.Context) (string, error)
	ConversationExists(ctx context.Context, id string) (bool, error)
	History(ctx context.Context, conversationID string, limit int) ([]store.Message, error)
}

// HealthChecker reports backend liveness.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server is the HTTP layer.
type Server struct {
	echo      *echo.Echo
	responder Responder
	history   HistoryStore
	health    HealthChecker
	logger    *zap.Logger
}

// New builds the server and registers routes. mcpHandler is optional; when
// non-nil it is mounted at /mcp.
func New(responder Responder, history HistoryStore, health HealthChecker, mcpHandler http.Handler, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:      e,
		responder: responder,
		history:   history,
		health:    health,
		logger:    logger,
	}

	e.POST("/chat", s.handleChat)
	e.POST("/conversations", s.handleCreateConversation)
	e.GET("/conversations/:id/history", s.handleHistory)
	e.GET("/health", s.handleHealth)
	if mcpHandler != nil {
		e.Any("/mcp", echo.WrapHandler(mcpHandler))
	}

	return s
}

// Start listens on addr and blocks.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type chatResponse struct {
	ConversationID string   `json:"conversation_id"`
	Answer         string   `json:"answer"`
	CitedRules     []string `json:"cited_rules"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	reply, err := s.responder.Respond(c.Request().Context(), req.ConversationID, req.Message)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		s.logger.Error("chat failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to answer")
	}

	cited := reply.RetrievedRules
	if cited == nil {
		cited = []string{}
	}
	return c.JSON(http.StatusOK, chatResponse{
		ConversationID: reply.ConversationID,
		Answer:         reply.Answer,
		CitedRules:     cited,
	})
}

type conversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

func (s *Server) handleCreateConversation(c echo.Context) error {
	id, err := s.history.CreateConversation(c.Request().Context())
	if err != nil {
		s.logger.Error("create conversation failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create conversation")
	}
	return c.JSON(http.StatusCreated, conversationResponse{ConversationID: id})
}

type historyMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleHistory(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	exists, err := s.history.ConversationExists(ctx, id)
	if err != nil {
		s.logger.Error("history lookup failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load history")
	}
	if !exists {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}

	msgs, err := s.history.History(ctx, id, 0)
	if err != nil {
		s.logger.Error("history load failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load history")
	}

	out := make([]historyMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, historyMessage{Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"conversation_id": id,
		"messages":        out,
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.health != nil {
		if err := s.health.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
