package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mock is an in-memory orchestrator for local development. Containers start
// Running immediately on 127.0.0.1:8080.
type Mock struct {
	mu         sync.Mutex
	containers map[string]ContainerStatus
	now        func() time.Time
}

func NewMock() *Mock {
	return &Mock{
		containers: make(map[string]ContainerStatus),
		now:        time.Now,
	}
}

func (m *Mock) StartContainer(ctx context.Context, req StartRequest) (*StartResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapError("start", "", err)
	}
	if req.Image == "" {
		return nil, wrapError("start", "", errors.New("image is required"))
	}

	id := "mock-container-" + strings.ReplaceAll(uuid.NewString(), "-", "")

	m.mu.Lock()
	m.containers[id] = ContainerRunning
	m.mu.Unlock()

	return &StartResult{
		InstanceID: id,
		Status:     ContainerRunning,
		Address:    "127.0.0.1:8080",
	}, nil
}

func (m *Mock) StopContainer(ctx context.Context, instanceID string) error {
	if err := ctx.Err(); err != nil {
		return wrapError("stop", instanceID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Unknown ids are accepted so stop stays idempotent across restarts
	m.containers[instanceID] = ContainerStopped
	return nil
}

func (m *Mock) GetHealth(ctx context.Context, instanceID string) (*HealthResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapError("health", instanceID, err)
	}

	m.mu.Lock()
	status, ok := m.containers[instanceID]
	m.mu.Unlock()

	if !ok {
		// Containers started before a restart are assumed alive
		status = ContainerRunning
	}

	res := &HealthResult{
		IsHealthy: status == ContainerRunning,
		Status:    status,
		CheckedAt: m.now(),
	}
	if res.IsHealthy {
		res.Address = "127.0.0.1:8080"
	}
	return res, nil
}
