package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/onpardev/mymcp/api/config"
	"github.com/onpardev/mymcp/api/internal/api/middleware"
	"github.com/onpardev/mymcp/api/internal/models"
	"github.com/onpardev/mymcp/api/internal/services/broadcast"
	"go.uber.org/zap"
)

// ServerService is the server lifecycle used by the HTTP layer
type ServerService interface {
	ProvisionServer(ctx context.Context, userID uuid.UUID, req *models.CreateServerRequest) (*models.ServerInstance, error)
	StartServer(ctx context.Context, userID, serverID uuid.UUID, req *models.StartServerRequest) (*models.ServerInstance, error)
	UpdateServer(ctx context.Context, userID, serverID uuid.UUID, req *models.UpdateServerRequest) (*models.ServerInstance, error)
	StopServer(ctx context.Context, userID, serverID uuid.UUID) (*models.ServerInstance, error)
	GetServerHealth(ctx context.Context, userID, serverID uuid.UUID) (*models.ServerHealthResponse, error)
	DeleteServer(ctx context.Context, userID, serverID uuid.UUID) error
	ListServers(ctx context.Context, userID uuid.UUID) (*models.ServerListResponse, error)
	GetServer(ctx context.Context, userID, serverID uuid.UUID) (*models.ServerInstance, error)
	FindServer(ctx context.Context, serverID uuid.UUID) (*models.ServerInstance, error)
}

// SubscriptionService reads and changes subscriptions
type SubscriptionService interface {
	Current(ctx context.Context, userID uuid.UUID) (*models.SubscriptionResponse, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.SubscriptionStatus) (*models.Subscription, error)
	ListPlans(ctx context.Context) ([]models.PlanResponse, error)
}

// UsageService meters billable requests
type UsageService interface {
	CurrentUsage(ctx context.Context, userID uuid.UUID) (*models.UsageResponse, error)
	ChargeRequest(ctx context.Context, userID, serverID uuid.UUID, endpoint, method string) (*models.UserUsage, error)
}

// AdminService manages users on behalf of an admin
type AdminService interface {
	ListUsers(ctx context.Context) (*models.UserListResponse, error)
	SetRole(ctx context.Context, actorID, userID uuid.UUID, role models.UserRole) (*models.User, error)
}

// EventSource streams server events of one user
type EventSource interface {
	Subscribe(userID uuid.UUID) (<-chan broadcast.StatusEvent, func())
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Services bundles what the handlers call into
type Services struct {
	Auth          middleware.Authenticator
	Servers       ServerService
	Subscriptions SubscriptionService
	Usage         UsageService
	Admin         AdminService
	Events        EventSource
	Database      HealthChecker
}

type Handlers struct {
	Config          *config.Config
	auth            middleware.Authenticator
	database        HealthChecker
	logger          *zap.Logger
	ServerHandler   *ServerHandler
	AccountHandler  *AccountHandler
	InternalHandler *InternalHandler
	AdminHandler    *AdminHandler
}

func NewHandlers(cfg *config.Config, svc Services, logger *zap.Logger) *Handlers {
	return &Handlers{
		Config:          cfg,
		auth:            svc.Auth,
		database:        svc.Database,
		logger:          logger,
		ServerHandler:   NewServerHandler(svc.Servers, svc.Events, logger),
		AccountHandler:  NewAccountHandler(svc.Subscriptions, svc.Usage, logger),
		InternalHandler: NewInternalHandler(svc.Servers, svc.Subscriptions, svc.Usage, logger),
		AdminHandler:    NewAdminHandler(svc.Admin, logger),
	}
}

// RegisterRoutes registers all API routes
func (h *Handlers) RegisterRoutes(r *gin.Engine) {
	if len(h.Config.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     h.Config.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", "Idempotency-Key"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")

	// Public
	v1.GET("/plans", h.AccountHandler.ListPlans)

	protected := v1.Group("")
	protected.Use(middleware.AuthMiddleware(h.auth, h.logger))
	{
		protected.GET("/me", h.AccountHandler.GetProfile)
		protected.GET("/me/subscription", h.AccountHandler.GetSubscription)
		protected.GET("/me/usage", h.AccountHandler.GetUsage)

		protected.GET("/servers", h.ServerHandler.ListServers)
		protected.POST("/servers", h.ServerHandler.CreateServer)
		protected.GET("/servers/events", h.ServerHandler.StreamStatus)
		protected.GET("/servers/:id", h.ServerHandler.GetServer)
		protected.PATCH("/servers/:id", h.ServerHandler.UpdateServer)
		protected.POST("/servers/:id/start", h.ServerHandler.StartServer)
		protected.POST("/servers/:id/stop", h.ServerHandler.StopServer)
		protected.GET("/servers/:id/health", h.ServerHandler.GetServerHealth)
		protected.DELETE("/servers/:id", h.ServerHandler.DeleteServer)

		admin := protected.Group("/admin")
		admin.Use(middleware.RequireAdmin())
		admin.GET("/users", h.AdminHandler.ListUsers)
		admin.PUT("/users/:id/role", h.AdminHandler.SetRole)
	}

	internal := r.Group("/internal")
	internal.Use(middleware.InternalTokenMiddleware(h.Config.InternalAPIToken))
	{
		internal.POST("/servers/:id/requests", h.InternalHandler.RecordRequest)
		internal.POST("/subscriptions/:id/status", h.InternalHandler.UpdateSubscriptionStatus)
	}
}

// Health reports liveness and database reachability
func (h *Handlers) Health(c *gin.Context) {
	if h.database != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.database.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
