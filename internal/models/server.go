package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ServerInstance represents a provisioned MCP server
type ServerInstance struct {
	ID                  uuid.UUID    `json:"id"`
	UserID              uuid.UUID    `json:"user_id"`
	Name                string       `json:"name"`
	Description         *string      `json:"description,omitempty"`
	ServerType          ServerType   `json:"server_type"`
	TemplateID          uuid.UUID    `json:"template_id"`
	ContainerSpecID     uuid.UUID    `json:"container_spec_id"`
	Status              ServerStatus `json:"status"`
	StatusMessage       *string      `json:"status_message,omitempty"`
	ContainerInstanceID *string      `json:"container_instance_id,omitempty"`
	Address             *string      `json:"address,omitempty"`
	IdempotencyKey      *string      `json:"-"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
	LastStartedAt       *time.Time   `json:"last_started_at,omitempty"`
	LastStoppedAt       *time.Time   `json:"last_stopped_at,omitempty"`
}

// HasLiveContainer reports whether orchestrator-side resources may still exist
func (s *ServerInstance) HasLiveContainer() bool {
	return s.ContainerInstanceID != nil && *s.ContainerInstanceID != "" && s.Status != ServerStatusStopped
}

// Server lifecycle status constants
type ServerStatus string

const (
	ServerStatusStopped  ServerStatus = "stopped"
	ServerStatusStarting ServerStatus = "starting"
	ServerStatusRunning  ServerStatus = "running"
	ServerStatusStopping ServerStatus = "stopping"
	ServerStatusFailed   ServerStatus = "failed"
	ServerStatusUnknown  ServerStatus = "unknown"
)

// IsActive reports whether the server is between start and stop
func (s ServerStatus) IsActive() bool {
	switch s {
	case ServerStatusStarting, ServerStatusRunning, ServerStatusStopping:
		return true
	}
	return false
}

// ServerType names an entry of the server-type catalog
type ServerType string

const (
	ServerTypeGitHub ServerType = "github"
)

// CreateServerRequest is the payload for provisioning a new server
type CreateServerRequest struct {
	Name        string     `json:"name" validate:"required,max=128"`
	Description *string    `json:"description,omitempty" validate:"omitempty,max=512"`
	Token       string     `json:"token" validate:"required"`
	Repository  *string    `json:"repository,omitempty" validate:"omitempty,max=256"`
	ServerType  ServerType `json:"server_type,omitempty"`
	// IdempotencyKey deduplicates retried creations of the same user
	IdempotencyKey string `json:"-" validate:"omitempty,max=128"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names rather than Go ones
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Normalize trims user supplied text so blank values fail validation
func (r *CreateServerRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Token = strings.TrimSpace(r.Token)
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	r.ServerType = ServerType(strings.ToLower(strings.TrimSpace(string(r.ServerType))))
	if r.Description != nil {
		d := strings.TrimSpace(*r.Description)
		r.Description = &d
	}
	if r.Repository != nil {
		repo := strings.TrimSpace(*r.Repository)
		r.Repository = &repo
	}
}

// Validate checks the request and returns an error wrapping ErrValidation
func (r *CreateServerRequest) Validate() error {
	return validationError(validate.Struct(r))
}

// StartServerRequest carries the credentials for starting a stopped server.
// Credentials are never stored, so each start supplies them again.
type StartServerRequest struct {
	Token      string  `json:"token" validate:"required"`
	Repository *string `json:"repository,omitempty" validate:"omitempty,max=256"`
}

func (r *StartServerRequest) Normalize() {
	r.Token = strings.TrimSpace(r.Token)
	if r.Repository != nil {
		repo := strings.TrimSpace(*r.Repository)
		r.Repository = &repo
	}
}

func (r *StartServerRequest) Validate() error {
	return validationError(validate.Struct(r))
}

// UpdateServerRequest renames or redescribes a server. Nil fields are left
// as they are; an empty description clears it.
type UpdateServerRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,max=128"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=512"`
}

func (r *UpdateServerRequest) Normalize() {
	if r.Name != nil {
		name := strings.TrimSpace(*r.Name)
		r.Name = &name
	}
	if r.Description != nil {
		d := strings.TrimSpace(*r.Description)
		r.Description = &d
	}
}

func (r *UpdateServerRequest) Validate() error {
	if r.Name == nil && r.Description == nil {
		return fmt.Errorf("%w: nothing to update", ErrValidation)
	}
	if r.Name != nil && *r.Name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrValidation)
	}
	return validationError(validate.Struct(r))
}

// Apply copies the set fields onto server
func (r *UpdateServerRequest) Apply(server *ServerInstance) {
	if r.Name != nil {
		server.Name = *r.Name
	}
	if r.Description != nil {
		if *r.Description == "" {
			server.Description = nil
		} else {
			d := *r.Description
			server.Description = &d
		}
	}
}

// validationError turns validator output into an error wrapping ErrValidation
func validationError(err error) error {
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

// ServerHealthResponse is a point-in-time health snapshot of a server
type ServerHealthResponse struct {
	IsHealthy    bool         `json:"is_healthy"`
	Status       ServerStatus `json:"status"`
	LastChecked  time.Time    `json:"last_checked"`
	ErrorMessage *string      `json:"error_message,omitempty"`
}

// ServerListResponse is the response for listing servers
type ServerListResponse struct {
	Servers []ServerInstance `json:"servers"`
	Total   int              `json:"total"`
}
