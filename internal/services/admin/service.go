package admin

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/onpardev/mymcp/api/internal/models"
	"go.uber.org/zap"
)

// Store is the user persistence the admin endpoints need
type Store interface {
	ListUsers(ctx context.Context) ([]models.UserSummary, error)
	SetUserRole(ctx context.Context, userID uuid.UUID, role models.UserRole) (*models.User, error)
}

type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// ListUsers returns every user with their server count
func (s *Service) ListUsers(ctx context.Context) (*models.UserListResponse, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []models.UserSummary{}
	}
	return &models.UserListResponse{Users: users, Total: len(users)}, nil
}

// SetRole changes a user's role on behalf of actorID. An admin cannot
// demote themselves so at least one admin always remains reachable.
func (s *Service) SetRole(ctx context.Context, actorID, userID uuid.UUID, role models.UserRole) (*models.User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", models.ErrValidation, role)
	}
	if actorID == userID && role != models.UserRoleAdmin {
		return nil, fmt.Errorf("%w: admins cannot demote themselves", models.ErrConflict)
	}

	user, err := s.store.SetUserRole(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}

	s.logger.Info("user role changed",
		zap.String("actor_id", actorID.String()),
		zap.String("user_id", userID.String()),
		zap.String("role", string(role)))

	return user, nil
}
