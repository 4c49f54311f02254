package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/onpardev/mymcp/api/internal/api/middleware"
	"github.com/onpardev/mymcp/api/internal/models"
	"go.uber.org/zap"
)

type AdminHandler struct {
	admin  AdminService
	logger *zap.Logger
}

func NewAdminHandler(admin AdminService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, logger: logger}
}

// ListUsers returns all users with their server counts
func (h *AdminHandler) ListUsers(c *gin.Context) {
	list, err := h.admin.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, zap.String("user_id", middleware.GetUserID(c).String()))
		return
	}

	c.JSON(http.StatusOK, list)
}

type SetRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// SetRole grants or revokes the admin role
func (h *AdminHandler) SetRole(c *gin.Context) {
	actorID := middleware.GetUserID(c)
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID"})
		return
	}

	var req SetRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	role, err := models.ParseUserRole(req.Role)
	if err != nil {
		respondError(c, h.logger, err, zap.String("user_id", userID.String()))
		return
	}

	user, err := h.admin.SetRole(c.Request.Context(), actorID, userID, role)
	if err != nil {
		respondError(c, h.logger, err, zap.String("actor_id", actorID.String()), zap.String("user_id", userID.String()))
		return
	}

	c.JSON(http.StatusOK, user.ToResponse())
}
