package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/onpardev/mymcp/api/internal/models"
	"go.uber.org/zap"
)

// statusFor maps a service error kind to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicate), errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrOrchestrator):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as JSON. Internal failures are logged and hidden.
func respondError(c *gin.Context, logger *zap.Logger, err error, fields ...zap.Field) {
	status := statusFor(err)

	switch status {
	case http.StatusInternalServerError:
		logger.Error("request failed", append(fields, zap.String("path", c.FullPath()), zap.Error(err))...)
		c.JSON(status, gin.H{"error": "internal error"})
	case http.StatusBadGateway:
		c.JSON(status, gin.H{"error": "container orchestrator unavailable, try again", "retryable": true})
	default:
		c.JSON(status, gin.H{"error": err.Error()})
	}
}
