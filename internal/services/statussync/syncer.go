package statussync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/onpardev/mymcp/api/internal/models"
	"github.com/onpardev/mymcp/api/internal/services/broadcast"
	"github.com/onpardev/mymcp/api/internal/services/orchestrator"
	"go.uber.org/zap"
)

// Store is the persistence the syncer reads and updates
type Store interface {
	GetServersByStatus(ctx context.Context, statuses ...models.ServerStatus) ([]models.ServerInstance, error)
	TransitionServerStatus(ctx context.Context, id uuid.UUID, from, to models.ServerStatus, message *string) (bool, error)
}

// Publisher receives status changes found by the syncer
type Publisher interface {
	Publish(userID uuid.UUID, event broadcast.StatusEvent)
}

// polledStatuses are the states the orchestrator can still move a server out of
var polledStatuses = []models.ServerStatus{
	models.ServerStatusStarting,
	models.ServerStatusRunning,
	models.ServerStatusUnknown,
}

// Syncer polls container health and writes changed statuses back
type Syncer struct {
	store        Store
	orchestrator orchestrator.Orchestrator
	events       Publisher
	logger       *zap.Logger
	interval     time.Duration
	ticker       *time.Ticker
	done         chan struct{}
	Now          func() time.Time
}

func NewSyncer(store Store, orch orchestrator.Orchestrator, events Publisher, logger *zap.Logger, interval time.Duration) *Syncer {
	return &Syncer{
		store:        store,
		orchestrator: orch,
		events:       events,
		logger:       logger,
		interval:     interval,
		done:         make(chan struct{}),
		Now:          time.Now,
	}
}

// Start begins the sync loop
func (s *Syncer) Start(ctx context.Context) {
	s.ticker = time.NewTicker(s.interval)
	go s.loop(ctx)
	s.logger.Info("Status sync started", zap.Duration("interval", s.interval))
}

// Stop ends the sync loop
func (s *Syncer) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.done)
	s.logger.Info("Status sync stopped")
}

func (s *Syncer) loop(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce checks every polled server once and returns how many changed
func (s *Syncer) SyncOnce(ctx context.Context) int {
	startTime := s.Now()

	servers, err := s.store.GetServersByStatus(ctx, polledStatuses...)
	if err != nil {
		s.logger.Error("failed to get servers to sync", zap.Error(err))
		return 0
	}
	if len(servers) == 0 {
		return 0
	}

	changed := 0
	for i := range servers {
		if s.syncServer(ctx, &servers[i]) {
			changed++
		}
	}

	s.logger.Debug("status sync cycle complete",
		zap.Int("checked", len(servers)),
		zap.Int("changed", changed),
		zap.Duration("duration", s.Now().Sub(startTime)))

	return changed
}

func (s *Syncer) syncServer(ctx context.Context, server *models.ServerInstance) bool {
	if server.ContainerInstanceID == nil || *server.ContainerInstanceID == "" {
		return false
	}

	health, err := s.orchestrator.GetHealth(ctx, *server.ContainerInstanceID)
	if err != nil {
		// Transient; the next cycle tries again
		s.logger.Warn("failed to get container health",
			zap.String("server_id", server.ID.String()),
			zap.String("container_id", *server.ContainerInstanceID),
			zap.Error(err))
		return false
	}

	status := orchestrator.MapStatus(health.Status)
	if status == server.Status {
		return false
	}

	var message *string
	if health.Message != "" {
		message = &health.Message
	}

	ok, err := s.store.TransitionServerStatus(ctx, server.ID, server.Status, status, message)
	if err != nil {
		s.logger.Error("failed to update server status",
			zap.String("server_id", server.ID.String()),
			zap.Error(err))
		return false
	}
	if !ok {
		// A user action changed the server since it was read
		return false
	}

	s.logger.Info("server status changed",
		zap.String("server_id", server.ID.String()),
		zap.String("user_id", server.UserID.String()),
		zap.String("from", string(server.Status)),
		zap.String("to", string(status)))

	server.Status = status
	server.StatusMessage = message
	s.events.Publish(server.UserID, broadcast.NewEvent(broadcast.EventStatus, server, s.Now()))
	return true
}
