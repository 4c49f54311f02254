package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/onpardev/mymcp/api/internal/database"
	"github.com/onpardev/mymcp/api/internal/models"
	"github.com/onpardev/mymcp/api/internal/services/broadcast"
	"github.com/onpardev/mymcp/api/internal/services/orchestrator"
	"github.com/onpardev/mymcp/api/internal/services/templates"
	"go.uber.org/zap"
)

// Repository is the persistence used by the provisioning workflow
type Repository interface {
	GetActiveSubscription(ctx context.Context, userID uuid.UUID, now time.Time) (*models.Subscription, error)
	CountServersByUser(ctx context.Context, userID uuid.UUID) (int, error)
	UpsertTemplate(ctx context.Context, tmpl *models.McpServerTemplate) (*models.McpServerTemplate, error)
	UpsertContainerSpec(ctx context.Context, spec *models.ContainerSpec) (*models.ContainerSpec, error)
	GetContainerSpec(ctx context.Context, id uuid.UUID) (*models.ContainerSpec, error)
	// ReserveServer inserts params only if check accepts the user's record
	// count, serialised per user
	ReserveServer(ctx context.Context, params *database.CreateServerParams, check func(count int) error) (*models.ServerInstance, error)
	GetServerByID(ctx context.Context, id uuid.UUID) (*models.ServerInstance, error)
	GetServerByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*models.ServerInstance, error)
	ListServersByUser(ctx context.Context, userID uuid.UUID) ([]models.ServerInstance, error)
	UpdateServer(ctx context.Context, server *models.ServerInstance) error
	DeleteServer(ctx context.Context, id uuid.UUID) (bool, error)
}

// UsageRecorder charges billable actions
type UsageRecorder interface {
	TrackServerCreation(ctx context.Context, userID, serverID uuid.UUID) (*models.UserUsage, error)
}

// Publisher receives server lifecycle events
type Publisher interface {
	Publish(userID uuid.UUID, event broadcast.StatusEvent)
}

// Service runs the server lifecycle: create, start, stop, health, update and delete
type Service struct {
	repo         Repository
	usage        UsageRecorder
	orchestrator orchestrator.Orchestrator
	catalog      *templates.Catalog
	events       Publisher
	logger       *zap.Logger
	Now          func() time.Time
}

func NewService(
	repo Repository,
	usage UsageRecorder,
	orch orchestrator.Orchestrator,
	catalog *templates.Catalog,
	events Publisher,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:         repo,
		usage:        usage,
		orchestrator: orch,
		catalog:      catalog,
		events:       events,
		logger:       logger,
		Now:          time.Now,
	}
}

// ProvisionServer validates the request, checks the user's entitlement,
// starts a container and records the new server. A server whose container
// reported a failure is still returned without error.
//
// The record is reserved before the container starts, under a per-user
// lock, so concurrent creations cannot pass the plan's server limit. A failed
// start removes the reservation again.
func (s *Service) ProvisionServer(ctx context.Context, userID uuid.UUID, req *models.CreateServerRequest) (*models.ServerInstance, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	serverType, err := s.catalog.Lookup(req.ServerType)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.repo.GetServerByIdempotencyKey(ctx, userID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.logger.Info("returning server for repeated idempotency key",
				zap.String("user_id", userID.String()),
				zap.String("server_id", existing.ID.String()))
			return existing, nil
		}
	}

	sub, err := s.activeSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	tmplIn := serverType.Template
	tmpl, err := s.repo.UpsertTemplate(ctx, &tmplIn)
	if err != nil {
		return nil, err
	}
	specIn := serverType.Container
	spec, err := s.repo.UpsertContainerSpec(ctx, &specIn)
	if err != nil {
		return nil, err
	}

	server, err := s.repo.ReserveServer(ctx, &database.CreateServerParams{
		ID:              uuid.New(),
		UserID:          userID,
		Name:            req.Name,
		Description:     nonEmpty(req.Description),
		ServerType:      serverType.Key,
		TemplateID:      tmpl.ID,
		ContainerSpecID: spec.ID,
		Status:          models.ServerStatusStarting,
		IdempotencyKey:  optional(req.IdempotencyKey),
	}, s.serverLimit(sub, 0))
	if err != nil {
		if req.IdempotencyKey != "" && (errors.Is(err, models.ErrDuplicate) || errors.Is(err, models.ErrQuotaExceeded)) {
			// A concurrent retry with the same key got the reservation
			existing, lookupErr := s.repo.GetServerByIdempotencyKey(ctx, userID, req.IdempotencyKey)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	creds := templates.Credentials{Token: req.Token, Repository: req.Repository}
	result, err := s.orchestrator.StartContainer(ctx, startRequest(server, serverType, spec, creds))
	if err != nil {
		s.logger.Error("failed to start container",
			zap.String("operation", "provision"),
			zap.String("user_id", userID.String()),
			zap.String("server_id", server.ID.String()),
			zap.Error(err))
		s.discardContainer(ctx, userID, server.ID, timedOutInstance(err))
		s.releaseReservation(ctx, server)
		return nil, orchestratorError(err)
	}

	now := s.Now()
	applyStart(server, result, now)

	if err := s.repo.UpdateServer(ctx, server); err != nil {
		s.discardContainer(ctx, userID, server.ID, result.InstanceID)
		s.releaseReservation(ctx, server)
		return nil, err
	}

	if _, err := s.usage.TrackServerCreation(ctx, userID, server.ID); err != nil {
		// The server exists either way; the missed charge needs an operator
		s.logger.Error("failed to track server creation",
			zap.String("operation", "provision"),
			zap.String("user_id", userID.String()),
			zap.String("server_id", server.ID.String()),
			zap.Error(err))
	}

	s.events.Publish(userID, broadcast.NewEvent(broadcast.EventCreated, server, now))

	s.logger.Info("server provisioned",
		zap.String("user_id", userID.String()),
		zap.String("server_id", server.ID.String()),
		zap.String("server_type", string(server.ServerType)),
		zap.String("container_id", result.InstanceID),
		zap.String("status", string(server.Status)))

	return server, nil
}

// StartServer starts the container of a stopped server again. Running and
// starting servers are returned as they are. On failure the stored status is
// left as it was.
func (s *Service) StartServer(ctx context.Context, userID, serverID uuid.UUID, req *models.StartServerRequest) (*models.ServerInstance, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	server, err := s.ownedServer(ctx, userID, serverID)
	if err != nil {
		return nil, err
	}

	switch server.Status {
	case models.ServerStatusStopped:
	case models.ServerStatusStarting, models.ServerStatusRunning:
		return server, nil
	default:
		return nil, fmt.Errorf("%w: server is %s, stop it before starting", models.ErrConflict, server.Status)
	}

	sub, err := s.activeSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	count, err := s.repo.CountServersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	// The server already holds one of the counted records
	if err := s.serverLimit(sub, 1)(count); err != nil {
		return nil, err
	}

	serverType, err := s.catalog.Lookup(server.ServerType)
	if err != nil {
		return nil, fmt.Errorf("%w: server type %s is no longer offered", models.ErrConfiguration, server.ServerType)
	}
	spec, err := s.repo.GetContainerSpec(ctx, server.ContainerSpecID)
	if err != nil {
		return nil, err
	}
	if spec == nil {
		return nil, fmt.Errorf("%w: container spec %s of server %s is missing", models.ErrConfiguration, server.ContainerSpecID, serverID)
	}

	creds := templates.Credentials{Token: req.Token, Repository: req.Repository}
	result, err := s.orchestrator.StartContainer(ctx, startRequest(server, serverType, spec, creds))
	if err != nil {
		s.logger.Error("failed to start container",
			zap.String("operation", "start"),
			zap.String("user_id", userID.String()),
			zap.String("server_id", serverID.String()),
			zap.Error(err))
		s.discardContainer(ctx, userID, serverID, timedOutInstance(err))
		return nil, orchestratorError(err)
	}

	now := s.Now()
	applyStart(server, result, now)

	if err := s.repo.UpdateServer(ctx, server); err != nil {
		s.discardContainer(ctx, userID, serverID, result.InstanceID)
		return nil, err
	}

	s.events.Publish(userID, broadcast.NewEvent(broadcast.EventStatus, server, now))
	s.logger.Info("server started",
		zap.String("user_id", userID.String()),
		zap.String("server_id", serverID.String()),
		zap.String("container_id", result.InstanceID),
		zap.String("status", string(server.Status)))

	return server, nil
}

func startRequest(server *models.ServerInstance, serverType *templates.ServerType, spec *models.ContainerSpec, creds templates.Credentials) orchestrator.StartRequest {
	return orchestrator.StartRequest{
		Image:   spec.ImageRef(),
		Env:     serverType.Environment(creds),
		Secrets: serverType.Secrets(creds),
		Labels: map[string]string{
			orchestrator.LabelServerType: string(serverType.Key),
			orchestrator.LabelServerID:   server.ID.String(),
			orchestrator.LabelUserID:     server.UserID.String(),
		},
		Port:          spec.Port,
		CPUMillicores: spec.CPULimitMillicores,
		MemoryMB:      spec.MemoryLimitMB,
	}
}

// applyStart records a container launch on the server
func applyStart(server *models.ServerInstance, result *orchestrator.StartResult, now time.Time) {
	server.Status = orchestrator.MapStatus(result.Status)
	server.StatusMessage = optional(result.Message)
	server.ContainerInstanceID = optional(result.InstanceID)
	server.Address = optional(result.Address)
	if server.Status == models.ServerStatusStarting || server.Status == models.ServerStatusRunning {
		server.LastStartedAt = &now
	}
}

func (s *Service) activeSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.GetActiveSubscription(ctx, userID, s.Now())
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("%w: no active subscription", models.ErrQuotaExceeded)
	}
	return sub, nil
}

// serverLimit checks a record count against the plan, ignoring the first
// `own` records that belong to the server being acted on
func (s *Service) serverLimit(sub *models.Subscription, own int) func(count int) error {
	return func(count int) error {
		if !sub.CanCreateServer(count-own, s.Now()) {
			return fmt.Errorf("%w: server limit reached for %s plan", models.ErrQuotaExceeded, sub.Plan.Tier)
		}
		return nil
	}
}

// timedOutInstance names the container a timed out start may have left
// behind. Backends with deterministic ids report it on the error.
func timedOutInstance(err error) string {
	var oerr *orchestrator.Error
	if errors.As(err, &oerr) && oerr.Timeout() {
		return oerr.InstanceID
	}
	return ""
}

// discardContainer stops a container that never got a server record
func (s *Service) discardContainer(ctx context.Context, userID, serverID uuid.UUID, instanceID string) {
	if instanceID == "" {
		return
	}
	if err := s.orchestrator.StopContainer(context.WithoutCancel(ctx), instanceID); err != nil {
		s.logger.Error("failed to stop unrecorded container",
			zap.String("user_id", userID.String()),
			zap.String("server_id", serverID.String()),
			zap.String("container_id", instanceID),
			zap.Error(err))
	}
}

// releaseReservation deletes a reserved record whose container never started
func (s *Service) releaseReservation(ctx context.Context, server *models.ServerInstance) {
	if _, err := s.repo.DeleteServer(context.WithoutCancel(ctx), server.ID); err != nil {
		s.logger.Error("failed to release server reservation",
			zap.String("user_id", server.UserID.String()),
			zap.String("server_id", server.ID.String()),
			zap.Error(err))
	}
}

// UpdateServer changes a server's name or description
func (s *Service) UpdateServer(ctx context.Context, userID, serverID uuid.UUID, req *models.UpdateServerRequest) (*models.ServerInstance, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	server, err := s.ownedServer(ctx, userID, serverID)
	if err != nil {
		return nil, err
	}

	req.Apply(server)
	if err := s.repo.UpdateServer(ctx, server); err != nil {
		return nil, err
	}

	s.logger.Info("server updated",
		zap.String("user_id", userID.String()),
		zap.String("server_id", serverID.String()))

	return server, nil
}

// StopServer stops the server's container and marks it stopped. On failure
// the stored status is left as it was.
func (s *Service) StopServer(ctx context.Context, userID, serverID uuid.UUID) (*models.ServerInstance, error) {
	server, err := s.ownedServer(ctx, userID, serverID)
	if err != nil {
		return nil, err
	}

	if server.Status == models.ServerStatusStopped {
		return server, nil
	}

	if server.HasLiveContainer() {
		if err := s.orchestrator.StopContainer(ctx, *server.ContainerInstanceID); err != nil {
			s.logger.Error("failed to stop container",
				zap.String("operation", "stop"),
				zap.String("user_id", userID.String()),
				zap.String("server_id", serverID.String()),
				zap.String("container_id", *server.ContainerInstanceID),
				zap.Error(err))
			return nil, orchestratorError(err)
		}
	}

	now := s.Now()
	server.Status = models.ServerStatusStopped
	server.StatusMessage = nil
	server.Address = nil
	server.LastStoppedAt = &now

	if err := s.repo.UpdateServer(ctx, server); err != nil {
		return nil, err
	}

	s.events.Publish(userID, broadcast.NewEvent(broadcast.EventStatus, server, now))
	s.logger.Info("server stopped",
		zap.String("user_id", userID.String()),
		zap.String("server_id", serverID.String()))

	return server, nil
}

// GetServerHealth asks the orchestrator for the container state. Servers
// without a live container are answered from the stored status.
func (s *Service) GetServerHealth(ctx context.Context, userID, serverID uuid.UUID) (*models.ServerHealthResponse, error) {
	server, err := s.ownedServer(ctx, userID, serverID)
	if err != nil {
		return nil, err
	}

	if !server.HasLiveContainer() {
		return &models.ServerHealthResponse{
			IsHealthy:    false,
			Status:       server.Status,
			LastChecked:  s.Now(),
			ErrorMessage: server.StatusMessage,
		}, nil
	}

	health, err := s.orchestrator.GetHealth(ctx, *server.ContainerInstanceID)
	if err != nil {
		s.logger.Error("failed to check container health",
			zap.String("operation", "health"),
			zap.String("user_id", userID.String()),
			zap.String("server_id", serverID.String()),
			zap.String("container_id", *server.ContainerInstanceID),
			zap.Error(err))
		return nil, orchestratorError(err)
	}

	status := orchestrator.MapStatus(health.Status)
	checked := health.CheckedAt
	if checked.IsZero() {
		checked = s.Now()
	}

	return &models.ServerHealthResponse{
		IsHealthy:    health.IsHealthy && status == models.ServerStatusRunning,
		Status:       status,
		LastChecked:  checked,
		ErrorMessage: optional(health.Message),
	}, nil
}

// DeleteServer removes a server, stopping its container first when one may
// still exist. A failed stop aborts the delete.
func (s *Service) DeleteServer(ctx context.Context, userID, serverID uuid.UUID) error {
	server, err := s.ownedServer(ctx, userID, serverID)
	if err != nil {
		return err
	}

	if server.HasLiveContainer() {
		if err := s.orchestrator.StopContainer(ctx, *server.ContainerInstanceID); err != nil {
			s.logger.Error("failed to stop container before delete",
				zap.String("operation", "delete"),
				zap.String("user_id", userID.String()),
				zap.String("server_id", serverID.String()),
				zap.String("container_id", *server.ContainerInstanceID),
				zap.Error(err))
			return orchestratorError(err)
		}

		// Keep the record truthful should the delete below fail
		now := s.Now()
		server.Status = models.ServerStatusStopped
		server.StatusMessage = nil
		server.Address = nil
		server.LastStoppedAt = &now
		if err := s.repo.UpdateServer(ctx, server); err != nil {
			return err
		}
	}

	deleted, err := s.repo.DeleteServer(ctx, serverID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("server %s: %w", serverID, models.ErrNotFound)
	}

	server.Status = models.ServerStatusStopped
	s.events.Publish(userID, broadcast.NewEvent(broadcast.EventDeleted, server, s.Now()))
	s.logger.Info("server deleted",
		zap.String("user_id", userID.String()),
		zap.String("server_id", serverID.String()))

	return nil
}

// ListServers returns the user's servers, newest first
func (s *Service) ListServers(ctx context.Context, userID uuid.UUID) (*models.ServerListResponse, error) {
	servers, err := s.repo.ListServersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if servers == nil {
		servers = []models.ServerInstance{}
	}
	return &models.ServerListResponse{Servers: servers, Total: len(servers)}, nil
}

// GetServer returns one of the user's servers
func (s *Service) GetServer(ctx context.Context, userID, serverID uuid.UUID) (*models.ServerInstance, error) {
	return s.ownedServer(ctx, userID, serverID)
}

// FindServer returns a server regardless of owner, for trusted internal callers
func (s *Service) FindServer(ctx context.Context, serverID uuid.UUID) (*models.ServerInstance, error) {
	server, err := s.repo.GetServerByID(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if server == nil {
		return nil, fmt.Errorf("server %s: %w", serverID, models.ErrNotFound)
	}
	return server, nil
}

// ownedServer hides servers of other users behind ErrNotFound
func (s *Service) ownedServer(ctx context.Context, userID, serverID uuid.UUID) (*models.ServerInstance, error) {
	server, err := s.repo.GetServerByID(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if server == nil || server.UserID != userID {
		return nil, fmt.Errorf("server %s: %w", serverID, models.ErrNotFound)
	}
	return server, nil
}

func orchestratorError(err error) error {
	if errors.Is(err, models.ErrOrchestrator) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrOrchestrator, err)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
