package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/onpardev/mymcp/api/internal/api/middleware"
	"go.uber.org/zap"
)

// AccountHandler serves the caller's profile, plan and usage
type AccountHandler struct {
	subscriptions SubscriptionService
	usage         UsageService
	logger        *zap.Logger
}

func NewAccountHandler(subscriptions SubscriptionService, usage UsageService, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		subscriptions: subscriptions,
		usage:         usage,
		logger:        logger,
	}
}

// GetProfile returns the authenticated user
func (h *AccountHandler) GetProfile(c *gin.Context) {
	user := middleware.GetUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, user.ToResponse())
}

// GetSubscription returns the user's current subscription
func (h *AccountHandler) GetSubscription(c *gin.Context) {
	userID := middleware.GetUserID(c)

	sub, err := h.subscriptions.Current(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err, zap.String("user_id", userID.String()))
		return
	}

	c.JSON(http.StatusOK, sub)
}

// GetUsage returns this month's request count against the plan limit
func (h *AccountHandler) GetUsage(c *gin.Context) {
	userID := middleware.GetUserID(c)

	usage, err := h.usage.CurrentUsage(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err, zap.String("user_id", userID.String()))
		return
	}

	c.JSON(http.StatusOK, usage)
}

// ListPlans returns the public plan catalog
func (h *AccountHandler) ListPlans(c *gin.Context) {
	plans, err := h.subscriptions.ListPlans(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"plans": plans})
}
