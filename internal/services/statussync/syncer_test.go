package statussync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/onpardev/mymcp/api/internal/models"
	"github.com/onpardev/mymcp/api/internal/services/broadcast"
	"github.com/onpardev/mymcp/api/internal/services/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu      sync.Mutex
	servers map[uuid.UUID]*models.ServerInstance
	// racing changes the status between read and transition
	racing map[uuid.UUID]models.ServerStatus
}

func (f *fakeStore) GetServersByStatus(_ context.Context, statuses ...models.ServerStatus) ([]models.ServerInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ServerInstance
	for _, s := range f.servers {
		for _, st := range statuses {
			if s.Status == st {
				out = append(out, *s)
			}
		}
	}
	for id, st := range f.racing {
		f.servers[id].Status = st
	}
	return out, nil
}

func (f *fakeStore) TransitionServerStatus(_ context.Context, id uuid.UUID, from, to models.ServerStatus, msg *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.servers[id]
	if !ok || s.Status != from {
		return false, nil
	}
	s.Status = to
	s.StatusMessage = msg
	return true, nil
}

// scriptedOrchestrator reports a fixed health per container id
type scriptedOrchestrator struct {
	orchestrator.Mock
	health map[string]orchestrator.ContainerStatus
	fail   map[string]bool
}

func (o *scriptedOrchestrator) GetHealth(_ context.Context, id string) (*orchestrator.HealthResult, error) {
	if o.fail[id] {
		return nil, &orchestrator.Error{Op: "health", InstanceID: id, Err: errors.New("api unavailable")}
	}
	st := o.health[id]
	res := &orchestrator.HealthResult{Status: st, IsHealthy: st == orchestrator.ContainerRunning}
	if st == orchestrator.ContainerFailed {
		res.Message = "CrashLoopBackOff"
	}
	return res, nil
}

func server(status models.ServerStatus, containerID string) *models.ServerInstance {
	s := &models.ServerInstance{ID: uuid.New(), UserID: uuid.New(), Status: status}
	if containerID != "" {
		s.ContainerInstanceID = &containerID
	}
	return s
}

func TestSyncOnce(t *testing.T) {
	starting := server(models.ServerStatusStarting, "c-start")
	crashed := server(models.ServerStatusRunning, "c-crash")
	steady := server(models.ServerStatusRunning, "c-steady")
	flaky := server(models.ServerStatusUnknown, "c-flaky")
	noContainer := server(models.ServerStatusStarting, "")
	stopped := server(models.ServerStatusStopped, "c-stopped")

	store := &fakeStore{servers: map[uuid.UUID]*models.ServerInstance{}}
	for _, s := range []*models.ServerInstance{starting, crashed, steady, flaky, noContainer, stopped} {
		store.servers[s.ID] = s
	}

	orch := &scriptedOrchestrator{
		health: map[string]orchestrator.ContainerStatus{
			"c-start":   orchestrator.ContainerRunning,
			"c-crash":   orchestrator.ContainerFailed,
			"c-steady":  orchestrator.ContainerRunning,
			"c-stopped": orchestrator.ContainerRunning,
		},
		fail: map[string]bool{"c-flaky": true},
	}

	hub := broadcast.NewHub(zap.NewNop())
	defer hub.Close()
	events, cancel := hub.Subscribe(crashed.UserID)
	defer cancel()

	syncer := NewSyncer(store, orch, hub, zap.NewNop(), time.Minute)
	changed := syncer.SyncOnce(context.Background())
	assert.Equal(t, 2, changed)

	assert.Equal(t, models.ServerStatusRunning, store.servers[starting.ID].Status)
	assert.Equal(t, models.ServerStatusFailed, store.servers[crashed.ID].Status)
	require.NotNil(t, store.servers[crashed.ID].StatusMessage)
	assert.Equal(t, "CrashLoopBackOff", *store.servers[crashed.ID].StatusMessage)
	assert.Equal(t, models.ServerStatusUnknown, store.servers[flaky.ID].Status, "health errors leave the status alone")
	assert.Equal(t, models.ServerStatusStopped, store.servers[stopped.ID].Status, "stopped servers are not polled")

	select {
	case ev := <-events:
		assert.Equal(t, broadcast.EventStatus, ev.Kind)
		assert.Equal(t, crashed.ID, ev.ServerID)
		assert.Equal(t, models.ServerStatusFailed, ev.Status)
	default:
		t.Fatal("status change should be published")
	}
}

func TestSyncOnce_LosesRaceToUserAction(t *testing.T) {
	s := server(models.ServerStatusRunning, "c-1")
	store := &fakeStore{
		servers: map[uuid.UUID]*models.ServerInstance{s.ID: s},
		racing:  map[uuid.UUID]models.ServerStatus{s.ID: models.ServerStatusStopped},
	}
	orch := &scriptedOrchestrator{health: map[string]orchestrator.ContainerStatus{"c-1": orchestrator.ContainerFailed}}

	hub := broadcast.NewHub(zap.NewNop())
	defer hub.Close()

	syncer := NewSyncer(store, orch, hub, zap.NewNop(), time.Minute)
	assert.Equal(t, 0, syncer.SyncOnce(context.Background()))
	assert.Equal(t, models.ServerStatusStopped, store.servers[s.ID].Status, "the stop wins")
}

func TestStartStop(t *testing.T) {
	s := server(models.ServerStatusStarting, "c-1")
	store := &fakeStore{servers: map[uuid.UUID]*models.ServerInstance{s.ID: s}}
	orch := &scriptedOrchestrator{health: map[string]orchestrator.ContainerStatus{"c-1": orchestrator.ContainerRunning}}

	hub := broadcast.NewHub(zap.NewNop())
	defer hub.Close()

	syncer := NewSyncer(store, orch, hub, zap.NewNop(), 10*time.Millisecond)
	syncer.Start(context.Background())
	defer syncer.Stop()

	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.servers[s.ID].Status == models.ServerStatusRunning
	}, time.Second, 10*time.Millisecond)
}
