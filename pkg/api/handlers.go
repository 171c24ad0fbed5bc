package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finsight-ai/finsight/pkg/services"
)

const healthCheckTimeout = 5 * time.Second

// handleAnalyze handles POST /api/v1/analyze.
func (s *Server) handleAnalyze(c *gin.Context) {
	var req services.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":   false,
			"timestamp": time.Now().UTC(),
			"error":     errorBody{Code: services.CodeInvalidRequest, Message: err.Error()},
		})
		return
	}

	resp, err := s.svc.Analyze(c.Request.Context(), &req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleClarify handles POST /api/v1/analyze/clarify.
func (s *Server) handleClarify(c *gin.Context) {
	var req services.ClarifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":   false,
			"timestamp": time.Now().UTC(),
			"error":     errorBody{Code: services.CodeInvalidRequest, Message: err.Error()},
		})
		return
	}

	resp, err := s.svc.Clarify(c.Request.Context(), &req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleGetSession handles GET /api/v1/sessions/:id.
func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.svc.GetSession(c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// handleDeleteSession handles DELETE /api/v1/sessions/:id.
func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.svc.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// handleSessionHistory handles GET /api/v1/sessions/:id/history.
func (s *Server) handleSessionHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	messages, err := s.svc.SessionHistory(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": c.Param("id"),
		"messages":   messages,
	})
}

// handleHealth handles GET /api/v1/health.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	healthy := true
	dbStatus := "ok"
	if err := s.svc.DatabaseHealthy(ctx); err != nil {
		healthy = false
		dbStatus = err.Error()
	}

	body := gin.H{"database": dbStatus}
	if s.mcpHealth != nil {
		body["mcp_servers"] = s.mcpHealth.GetStatuses()
		if !s.mcpHealth.IsHealthy() {
			healthy = false
		}
	}

	status := http.StatusOK
	body["status"] = "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
	}
	c.JSON(status, body)
}
