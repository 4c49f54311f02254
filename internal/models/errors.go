package models

import "errors"

// Error kinds shared by the services. Callers match them with errors.Is.
var (
	// ErrValidation marks malformed or incomplete input
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing entity or one owned by another user
	ErrNotFound = errors.New("not found")
	// ErrQuotaExceeded marks a failed entitlement check
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrOrchestrator marks a failed or timed out container operation
	ErrOrchestrator = errors.New("orchestrator failure")
	// ErrConfiguration marks a violated internal invariant
	ErrConfiguration = errors.New("configuration error")
	// ErrUnauthorized marks a missing or invalid identity
	ErrUnauthorized = errors.New("unauthorized")
)

// ErrDuplicate marks an insert that collided with an existing natural key
var ErrDuplicate = errors.New("already exists")

// ErrConflict marks an operation the entity's current state does not allow
var ErrConflict = errors.New("conflict")
