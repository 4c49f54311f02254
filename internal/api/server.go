package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/onpardev/mymcp/api/internal/api/middleware"
	"github.com/onpardev/mymcp/api/internal/models"
	"go.uber.org/zap"
)

const heartbeatInterval = 30 * time.Second

type ServerHandler struct {
	servers ServerService
	events  EventSource
	logger  *zap.Logger
}

func NewServerHandler(servers ServerService, events EventSource, logger *zap.Logger) *ServerHandler {
	return &ServerHandler{
		servers: servers,
		events:  events,
		logger:  logger,
	}
}

// CreateServer provisions a new MCP server for the user
func (h *ServerHandler) CreateServer(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req models.CreateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.IdempotencyKey = strings.TrimSpace(c.GetHeader("Idempotency-Key"))

	server, err := h.servers.ProvisionServer(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, h.logger, err, zap.String("user_id", userID.String()))
		return
	}

	c.JSON(http.StatusCreated, server)
}

// ListServers returns the user's servers, newest first
func (h *ServerHandler) ListServers(c *gin.Context) {
	userID := middleware.GetUserID(c)

	list, err := h.servers.ListServers(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err, zap.String("user_id", userID.String()))
		return
	}

	c.JSON(http.StatusOK, list)
}

// GetServer returns a single server
func (h *ServerHandler) GetServer(c *gin.Context) {
	userID := middleware.GetUserID(c)
	serverID, ok := serverIDParam(c)
	if !ok {
		return
	}

	server, err := h.servers.GetServer(c.Request.Context(), userID, serverID)
	if err != nil {
		respondError(c, h.logger, err, zap.String("user_id", userID.String()), zap.String("server_id", serverID.String()))
		return
	}

	c.JSON(http.StatusOK, server)
}

// UpdateServer renames a server or changes its description
func (h *ServerHandler) UpdateServer(c *gin.Context) {
	userID := middleware.GetUserID(c)
	serverID, ok := serverIDParam(c)
	if !ok {
		return
	}

	var req models.UpdateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	server, err := h.servers.UpdateServer(c.Request.Context(), userID, serverID, &req)
	if err != nil {
		respondError(c, h.logger, err, zap.String("user_id", userID.String()), zap.String("server_id", serverID.String()))
		return
	}

	c.JSON(http.StatusOK, server)
}

// StartServer starts a stopped server again. Credentials are not stored,
// so the body carries them anew.
func (h *ServerHandler) StartServer(c *gin.Context) {
	userID := middleware.GetUserID(c)
	serverID, ok := serverIDParam(c)
	if !ok {
		return
	}

	var req models.StartServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	server, err := h.servers.StartServer(c.Request.Context(), userID, serverID, &req)
	if err != nil {
		respondError(c, h.logger, err, zap.String("user_id", userID.String()), zap.String("server_id", serverID.String()))
		return
	}

	c.JSON(http.StatusOK, server)
}

// StopServer stops a server's container
func (h *ServerHandler) StopServer(c *gin.Context) {
	userID := middleware.GetUserID(c)
	serverID, ok := serverIDParam(c)
	if !ok {
		return
	}

	server, err := h.servers.StopServer(c.Request.Context(), userID, serverID)
	if err != nil {
		respondError(c, h.logger, err, zap.String("user_id", userID.String()), zap.String("server_id", serverID.String()))
		return
	}

	c.JSON(http.StatusOK, server)
}

// GetServerHealth reports container health
func (h *ServerHandler) GetServerHealth(c *gin.Context) {
	userID := middleware.GetUserID(c)
	serverID, ok := serverIDParam(c)
	if !ok {
		return
	}

	health, err := h.servers.GetServerHealth(c.Request.Context(), userID, serverID)
	if err != nil {
		respondError(c, h.logger, err, zap.String("user_id", userID.String()), zap.String("server_id", serverID.String()))
		return
	}

	c.JSON(http.StatusOK, health)
}

// DeleteServer stops and removes a server
func (h *ServerHandler) DeleteServer(c *gin.Context) {
	userID := middleware.GetUserID(c)
	serverID, ok := serverIDParam(c)
	if !ok {
		return
	}

	if err := h.servers.DeleteServer(c.Request.Context(), userID, serverID); err != nil {
		respondError(c, h.logger, err, zap.String("user_id", userID.String()), zap.String("server_id", serverID.String()))
		return
	}

	c.Status(http.StatusNoContent)
}

// StreamStatus streams status updates for all of the user's servers via SSE
func (h *ServerHandler) StreamStatus(c *gin.Context) {
	userID := middleware.GetUserID(c)

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe before reading the initial state so no change falls in between
	eventCh, unsubscribe := h.events.Subscribe(userID)
	defer unsubscribe()

	list, err := h.servers.ListServers(ctx, userID)
	if err != nil {
		h.logger.Error("failed to list servers for stream", zap.String("user_id", userID.String()), zap.Error(err))
		c.SSEvent("error", gin.H{"message": "failed to get servers"})
		c.Writer.Flush()
		return
	}

	initial := make([]gin.H, len(list.Servers))
	for i, server := range list.Servers {
		initial[i] = gin.H{
			"server_id":      server.ID,
			"status":         server.Status,
			"status_message": server.StatusMessage,
		}
	}

	c.SSEvent("connected", gin.H{
		"servers":   initial,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	h.logger.Debug("status streaming started", zap.String("user_id", userID.String()))

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("status streaming ended", zap.String("user_id", userID.String()))
			return

		case event, ok := <-eventCh:
			if !ok {
				return
			}
			c.SSEvent(string(event.Kind), event)
			c.Writer.Flush()

		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"timestamp": time.Now().UTC().Format(time.RFC3339)})
			c.Writer.Flush()
		}
	}
}

func serverIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server ID"})
		return uuid.Nil, false
	}
	return id, true
}
