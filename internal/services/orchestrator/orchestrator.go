// Package orchestrator starts, stops and health-checks the compute units that
// back server instances. Callers only ever see an opaque instance id.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/onpardev/mymcp/api/internal/models"
)

// ContainerStatus is the runtime state reported by an orchestrator
type ContainerStatus string

const (
	ContainerStarting ContainerStatus = "Starting"
	ContainerRunning  ContainerStatus = "Running"
	ContainerStopping ContainerStatus = "Stopping"
	ContainerStopped  ContainerStatus = "Stopped"
	ContainerFailed   ContainerStatus = "Failed"
	// ContainerDegraded is reported when the container runs but does not answer
	ContainerDegraded ContainerStatus = "Degraded"
)

// Label keys attached to every container
const (
	LabelServerType = "mcp.server.type"
	LabelServerID   = "mcp.server.id"
	LabelUserID     = "mcp.user.id"
)

// StartRequest describes the container to launch
type StartRequest struct {
	Image         string
	Env           map[string]string
	// Secrets are environment variables backends must not store in plain text
	Secrets       map[string]string
	Labels        map[string]string
	Port          int
	CPUMillicores int
	MemoryMB      int
}

// StartResult is what the orchestrator reports after launching
type StartResult struct {
	InstanceID string
	Status     ContainerStatus
	Address    string
	Message    string
}

// HealthResult is a point-in-time view of a container
type HealthResult struct {
	IsHealthy bool
	Status    ContainerStatus
	Address   string
	CheckedAt time.Time
	Message   string
}

// Orchestrator is the container runtime boundary. Every method may be slow or
// fail; failures are returned as *Error.
type Orchestrator interface {
	StartContainer(ctx context.Context, req StartRequest) (*StartResult, error)
	StopContainer(ctx context.Context, instanceID string) error
	GetHealth(ctx context.Context, instanceID string) (*HealthResult, error)
}

// MapStatus translates a container status into a server status
func MapStatus(status ContainerStatus) models.ServerStatus {
	switch status {
	case ContainerStarting:
		return models.ServerStatusStarting
	case ContainerRunning:
		return models.ServerStatusRunning
	case ContainerStopping:
		return models.ServerStatusStopping
	case ContainerStopped:
		return models.ServerStatusStopped
	case ContainerFailed:
		return models.ServerStatusFailed
	default:
		return models.ServerStatusUnknown
	}
}

// Error is a failed or timed out orchestrator call. It matches models.ErrOrchestrator.
type Error struct {
	Op         string
	InstanceID string
	Err        error
}

func (e *Error) Error() string {
	if e.InstanceID == "" {
		return fmt.Sprintf("orchestrator %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("orchestrator %s %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == models.ErrOrchestrator }

// Timeout reports whether the call ran out of time
func (e *Error) Timeout() bool { return errors.Is(e.Err, context.DeadlineExceeded) }

func wrapError(op, instanceID string, err error) error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return err
	}
	return &Error{Op: op, InstanceID: instanceID, Err: err}
}
