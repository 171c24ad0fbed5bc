// Package api exposes the analysis pipeline over HTTP: analyze and clarify
// endpoints, session inspection, a health probe, and a WebSocket stream of
// progress events.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finsight-ai/finsight/pkg/events"
	"github.com/finsight-ai/finsight/pkg/mcp"
	"github.com/finsight-ai/finsight/pkg/services"
	"github.com/finsight-ai/finsight/pkg/session"
	"github.com/finsight-ai/finsight/pkg/store"
)

// AnalysisAPI is the service edge the handlers call. Satisfied by
// *services.AnalysisService.
type AnalysisAPI interface {
	Analyze(ctx context.Context, req *services.AnalyzeRequest) (*services.Response, error)
	Clarify(ctx context.Context, req *services.ClarifyRequest) (*services.Response, error)
	GetSession(id string) (*session.Session, error)
	DeleteSession(ctx context.Context, id string) error
	SessionHistory(ctx context.Context, id string, limit int) ([]store.ChatMessage, error)
	DatabaseHealthy(ctx context.Context) error
}

// MCPHealth is the MCP monitor edge. Satisfied by *mcp.HealthMonitor.
type MCPHealth interface {
	GetStatuses() map[string]*mcp.HealthStatus
	IsHealthy() bool
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	svc       AnalysisAPI
	bus       *events.Bus
	mcpHealth MCPHealth
	logger    *slog.Logger
}

// NewServer builds the API server. bus and mcpHealth may be nil.
func NewServer(svc AnalysisAPI, bus *events.Bus, mcpHealth MCPHealth) *Server {
	return &Server{
		svc:       svc,
		bus:       bus,
		mcpHealth: mcpHealth,
		logger:    slog.Default(),
	}
}

// Handler returns the routed gin engine.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger))

	router.GET("/ws", s.handleWS)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/analyze", s.handleAnalyze)
		v1.POST("/analyze/clarify", s.handleClarify)
		v1.GET("/sessions/:id", s.handleGetSession)
		v1.DELETE("/sessions/:id", s.handleDeleteSession)
		v1.GET("/sessions/:id/history", s.handleSessionHistory)
		v1.GET("/health", s.handleHealth)
	}
	return router
}
