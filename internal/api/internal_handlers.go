package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/onpardev/mymcp/api/internal/models"
	"go.uber.org/zap"
)

// InternalHandler handles calls from the MCP gateway and the billing system
type InternalHandler struct {
	servers       ServerService
	subscriptions SubscriptionService
	usage         UsageService
	logger        *zap.Logger
}

func NewInternalHandler(servers ServerService, subscriptions SubscriptionService, usage UsageService, logger *zap.Logger) *InternalHandler {
	return &InternalHandler{
		servers:       servers,
		subscriptions: subscriptions,
		usage:         usage,
		logger:        logger,
	}
}

// RecordRequestRequest describes one billable call proxied to a server
type RecordRequestRequest struct {
	Endpoint string `json:"endpoint" binding:"required,max=255"`
	Method   string `json:"method" binding:"required,max=10"`
}

// RecordRequest charges one request against the owner's quota.
// Answers 403 when the quota is used up so the gateway can reject the call.
func (h *InternalHandler) RecordRequest(c *gin.Context) {
	serverID, ok := serverIDParam(c)
	if !ok {
		return
	}

	var req RecordRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	server, err := h.servers.FindServer(ctx, serverID)
	if err != nil {
		respondError(c, h.logger, err, zap.String("server_id", serverID.String()))
		return
	}

	usage, err := h.usage.ChargeRequest(ctx, server.UserID, serverID, req.Endpoint, req.Method)
	if err != nil {
		respondError(c, h.logger, err, zap.String("user_id", server.UserID.String()), zap.String("server_id", serverID.String()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"allowed":       true,
		"request_count": usage.RequestCount,
	})
}

// SubscriptionStatusRequest is a status change pushed by the billing system
type SubscriptionStatusRequest struct {
	Status models.SubscriptionStatus `json:"status" binding:"required"`
}

// UpdateSubscriptionStatus applies a billing status change
func (h *InternalHandler) UpdateSubscriptionStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription ID"})
		return
	}

	var req SubscriptionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sub, err := h.subscriptions.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		respondError(c, h.logger, err, zap.String("subscription_id", id.String()))
		return
	}

	c.JSON(http.StatusOK, sub.ToResponse(sub.UpdatedAt))
}
