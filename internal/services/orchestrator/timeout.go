package orchestrator

import (
	"context"
	"time"
)

type timeoutOrchestrator struct {
	next    Orchestrator
	timeout time.Duration
}

// WithTimeout bounds every call to next. A timeout surfaces as *Error.
func WithTimeout(next Orchestrator, timeout time.Duration) Orchestrator {
	if timeout <= 0 {
		return next
	}
	return &timeoutOrchestrator{next: next, timeout: timeout}
}

func (t *timeoutOrchestrator) StartContainer(ctx context.Context, req StartRequest) (*StartResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	res, err := t.next.StartContainer(ctx, req)
	if err != nil {
		return nil, wrapError("start", "", err)
	}
	return res, nil
}

func (t *timeoutOrchestrator) StopContainer(ctx context.Context, instanceID string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	return wrapError("stop", instanceID, t.next.StopContainer(ctx, instanceID))
}

func (t *timeoutOrchestrator) GetHealth(ctx context.Context, instanceID string) (*HealthResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	res, err := t.next.GetHealth(ctx, instanceID)
	if err != nil {
		return nil, wrapError("health", instanceID, err)
	}
	return res, nil
}
