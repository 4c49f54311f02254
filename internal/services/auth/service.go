package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/onpardev/mymcp/api/config"
	"github.com/onpardev/mymcp/api/internal/models"
	"go.uber.org/zap"
)

// UserResolver maps a verified identity to a local user
type UserResolver interface {
	ResolveUser(ctx context.Context, identity models.Identity) (*models.User, error)
}

// RoleAssigner changes a user's role
type RoleAssigner interface {
	SetUserRole(ctx context.Context, userID uuid.UUID, role models.UserRole) (*models.User, error)
}

type Service struct {
	users    UserResolver
	roles    RoleAssigner
	admins   map[string]bool
	secret   []byte
	issuer   string
	audience string
	logger   *zap.Logger
	Now      func() time.Time
}

func NewService(users UserResolver, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		users:    users,
		secret:   []byte(cfg.IdPJWTSecret),
		issuer:   cfg.IdPIssuer,
		audience: cfg.IdPAudience,
		logger:   logger,
		Now:      time.Now,
	}
}

// PromoteAdmins makes users with one of emails admins the next time they sign in
func (s *Service) PromoteAdmins(roles RoleAssigner, emails []string) {
	s.roles = roles
	s.admins = make(map[string]bool, len(emails))
	for _, email := range emails {
		if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
			s.admins[email] = true
		}
	}
}

// Claims are the identity provider token fields we read
type Claims struct {
	Email      string `json:"email"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	jwt.RegisteredClaims
}

// VerifyToken checks signature, expiry, issuer and audience and returns the identity
func (s *Service) VerifyToken(tokenString string) (*models.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.Now),
		jwt.WithLeeway(30 * time.Second),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", models.ErrUnauthorized)
	}
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" {
		return nil, fmt.Errorf("%w: token has no email", models.ErrUnauthorized)
	}

	return &models.Identity{
		Subject:   claims.Subject,
		Email:     email,
		FirstName: optional(claims.GivenName),
		LastName:  optional(claims.FamilyName),
	}, nil
}

// Authenticate verifies a bearer token and returns the local user, creating it on first sight
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*models.User, error) {
	identity, err := s.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}

	user, err := s.users.ResolveUser(ctx, *identity)
	if err != nil {
		s.logger.Error("failed to resolve user",
			zap.String("subject", identity.Subject),
			zap.Error(err))
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}

	if s.roles != nil && !user.IsAdmin() && s.admins[user.Email] {
		promoted, err := s.roles.SetUserRole(ctx, user.ID, models.UserRoleAdmin)
		if err != nil {
			s.logger.Error("failed to promote configured admin",
				zap.String("user_id", user.ID.String()),
				zap.Error(err))
			return nil, fmt.Errorf("failed to promote user: %w", err)
		}
		if promoted != nil {
			s.logger.Info("user promoted to admin", zap.String("user_id", user.ID.String()))
			user = promoted
		}
	}
	return user, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
