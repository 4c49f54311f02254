package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/onpardev/mymcp/api/internal/models"
)

const userColumns = `id, external_subject, email, first_name, last_name, role, created_at, updated_at`

func userFields(u *models.User) []any {
	return []any{
		&u.ID,
		&u.ExternalSubject,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.Role,
		&u.CreatedAt,
		&u.UpdatedAt,
	}
}

// GetOrCreateUser upserts a user keyed by the identity provider subject.
// created is true only for the call that inserted the row.
func (db *DB) GetOrCreateUser(ctx context.Context, identity models.Identity) (user *models.User, created bool, err error) {
	query := `
		INSERT INTO users (external_subject, email, first_name, last_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_subject) DO UPDATE SET
			email = EXCLUDED.email,
			updated_at = CASE WHEN users.email <> EXCLUDED.email THEN NOW() ELSE users.updated_at END
		RETURNING ` + userColumns + `, (xmax = 0)
	`

	var u models.User
	err = db.Pool.QueryRow(ctx, query,
		identity.Subject,
		identity.Email,
		identity.FirstName,
		identity.LastName,
	).Scan(append(userFields(&u), &created)...)

	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert user: %w", err)
	}

	return &u, created, nil
}

// GetUserByID retrieves a user by ID, or nil if none exists
func (db *DB) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	var u models.User
	err := db.Pool.QueryRow(ctx, query, userID).Scan(userFields(&u)...)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &u, nil
}

// ListUsers returns every user with the number of servers they hold, oldest first
func (db *DB) ListUsers(ctx context.Context) ([]models.UserSummary, error) {
	query := `
		SELECT u.id, u.external_subject, u.email, u.first_name, u.last_name, u.role,
		       u.created_at, u.updated_at, COUNT(s.id)
		FROM users u
		LEFT JOIN server_instances s ON s.user_id = u.id
		GROUP BY u.id
		ORDER BY u.created_at, u.id
	`

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []models.UserSummary{}
	for rows.Next() {
		var summary models.UserSummary
		if err := rows.Scan(append(userFields(&summary.User), &summary.ServerCount)...); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// SetUserRole changes a user's role. Returns nil if the user does not exist.
func (db *DB) SetUserRole(ctx context.Context, userID uuid.UUID, role models.UserRole) (*models.User, error) {
	query := `
		UPDATE users
		SET role = $2,
		    updated_at = CASE WHEN role <> $2 THEN NOW() ELSE updated_at END
		WHERE id = $1
		RETURNING ` + userColumns

	var u models.User
	err := db.Pool.QueryRow(ctx, query, userID, role).Scan(userFields(&u)...)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set user role: %w", err)
	}

	return &u, nil
}
