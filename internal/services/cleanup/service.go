package cleanup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/onpardev/mymcp/api/internal/models"
	"github.com/onpardev/mymcp/api/internal/services/broadcast"
	"github.com/onpardev/mymcp/api/internal/services/orchestrator"
	"go.uber.org/zap"
)

// Config holds configuration for the cleanup service
type Config struct {
	// Interval is how often to run cleanup (default: 1 hour)
	Interval time.Duration
	// FailedRetention is how long a failed server keeps its container
	FailedRetention time.Duration
	// LogRetention is how long request logs are kept; zero keeps them forever
	LogRetention time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Interval:        1 * time.Hour,
		FailedRetention: 1 * time.Hour,
		LogRetention:    90 * 24 * time.Hour,
	}
}

// Store is the persistence the cleanup service needs
type Store interface {
	GetServersByStatus(ctx context.Context, statuses ...models.ServerStatus) ([]models.ServerInstance, error)
	TransitionServerStatus(ctx context.Context, id uuid.UUID, from, to models.ServerStatus, message *string) (bool, error)
	PruneRequestLogs(ctx context.Context, before time.Time) (int64, error)
}

// Publisher receives status changes made by cleanup
type Publisher interface {
	Publish(userID uuid.UUID, event broadcast.StatusEvent)
}

// Service releases containers of servers left in the failed state and
// prunes old request logs
type Service struct {
	store        Store
	orchestrator orchestrator.Orchestrator
	events       Publisher
	config       Config
	logger       *zap.Logger
	stopCh       chan struct{}
	Now          func() time.Time
}

// NewService creates a new cleanup service
func NewService(store Store, orch orchestrator.Orchestrator, events Publisher, config Config, logger *zap.Logger) *Service {
	return &Service{
		store:        store,
		orchestrator: orch,
		events:       events,
		config:       config,
		logger:       logger,
		stopCh:       make(chan struct{}),
		Now:          time.Now,
	}
}

// Start begins the cleanup service
func (s *Service) Start(ctx context.Context) {
	// Run initial cleanup
	s.RunOnce(ctx)

	go func() {
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.RunOnce(ctx)
			case <-s.stopCh:
				s.logger.Info("cleanup service stopped")
				return
			case <-ctx.Done():
				s.logger.Info("cleanup service context cancelled")
				return
			}
		}
	}()

	s.logger.Info("cleanup service started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("failed_retention", s.config.FailedRetention),
		zap.Duration("log_retention", s.config.LogRetention),
	)
}

// Stop stops the cleanup service
func (s *Service) Stop() {
	close(s.stopCh)
}

// RunOnce performs one cleanup cycle and returns the number of servers released
func (s *Service) RunOnce(ctx context.Context) int {
	released := s.releaseFailedServers(ctx)
	s.pruneRequestLogs(ctx)
	return released
}

// releaseFailedServers stops the containers of servers that stayed failed
// past the retention period
func (s *Service) releaseFailedServers(ctx context.Context) int {
	servers, err := s.store.GetServersByStatus(ctx, models.ServerStatusFailed)
	if err != nil {
		s.logger.Error("failed to get failed servers for cleanup", zap.Error(err))
		return 0
	}

	cutoff := s.Now().Add(-s.config.FailedRetention)
	successCount := 0
	failureCount := 0

	for i := range servers {
		server := &servers[i]
		if !server.HasLiveContainer() || server.UpdatedAt.After(cutoff) {
			continue
		}
		serverID := server.ID.String()

		// Step 1: Atomically claim the server (failed -> stopping)
		claimed, err := s.store.TransitionServerStatus(ctx, server.ID,
			models.ServerStatusFailed, models.ServerStatusStopping, server.StatusMessage)
		if err != nil {
			s.logger.Error("failed to transition to stopping",
				zap.String("server_id", serverID),
				zap.Error(err),
			)
			failureCount++
			continue
		}
		if !claimed {
			s.logger.Debug("server no longer failed, skipping",
				zap.String("server_id", serverID),
			)
			continue
		}

		// Step 2: Release the container
		if err := s.orchestrator.StopContainer(ctx, *server.ContainerInstanceID); err != nil {
			s.logger.Error("failed to stop container, reverting to failed",
				zap.String("server_id", serverID),
				zap.String("container_id", *server.ContainerInstanceID),
				zap.Error(err),
			)
			// Revert so the next cycle retries
			if _, err := s.store.TransitionServerStatus(ctx, server.ID,
				models.ServerStatusStopping, models.ServerStatusFailed, server.StatusMessage); err != nil {
				s.logger.Error("failed to revert to failed", zap.String("server_id", serverID), zap.Error(err))
			}
			failureCount++
			continue
		}

		// Step 3: Record the stop; the failure reason stays visible
		done, err := s.store.TransitionServerStatus(ctx, server.ID,
			models.ServerStatusStopping, models.ServerStatusStopped, server.StatusMessage)
		if err != nil || !done {
			s.logger.Error("failed to mark server stopped",
				zap.String("server_id", serverID),
				zap.Error(err),
			)
			failureCount++
			continue
		}

		server.Status = models.ServerStatusStopped
		s.events.Publish(server.UserID, broadcast.NewEvent(broadcast.EventStatus, server, s.Now()))

		s.logger.Info("released failed server",
			zap.String("server_id", serverID),
			zap.String("user_id", server.UserID.String()),
		)
		successCount++
	}

	if successCount > 0 || failureCount > 0 {
		s.logger.Info("cleanup cycle complete",
			zap.Int("succeeded", successCount),
			zap.Int("failed", failureCount),
		)
	}

	return successCount
}

func (s *Service) pruneRequestLogs(ctx context.Context) {
	if s.config.LogRetention <= 0 {
		return
	}

	deleted, err := s.store.PruneRequestLogs(ctx, s.Now().Add(-s.config.LogRetention))
	if err != nil {
		s.logger.Error("failed to prune request logs", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("pruned request logs", zap.Int64("deleted", deleted))
	}
}
