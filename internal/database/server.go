package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/onpardev/mymcp/api/internal/models"
)

type CreateServerParams struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	Name                string
	Description         *string
	ServerType          models.ServerType
	TemplateID          uuid.UUID
	ContainerSpecID     uuid.UUID
	Status              models.ServerStatus
	StatusMessage       *string
	ContainerInstanceID *string
	Address             *string
	IdempotencyKey      *string
	LastStartedAt       *time.Time
}

const serverColumns = `
	id, user_id, name, description, server_type, template_id, container_spec_id,
	status, status_message, container_instance_id, address, idempotency_key,
	created_at, updated_at, last_started_at, last_stopped_at
`

func scanServer(row pgx.Row) (*models.ServerInstance, error) {
	var server models.ServerInstance
	err := row.Scan(
		&server.ID,
		&server.UserID,
		&server.Name,
		&server.Description,
		&server.ServerType,
		&server.TemplateID,
		&server.ContainerSpecID,
		&server.Status,
		&server.StatusMessage,
		&server.ContainerInstanceID,
		&server.Address,
		&server.IdempotencyKey,
		&server.CreatedAt,
		&server.UpdatedAt,
		&server.LastStartedAt,
		&server.LastStoppedAt,
	)
	if err != nil {
		return nil, err
	}
	return &server, nil
}

// CreateServer inserts a server instance. A repeated idempotency key for the
// same user yields models.ErrDuplicate.
func (db *DB) CreateServer(ctx context.Context, params *CreateServerParams) (*models.ServerInstance, error) {
	query := `
		INSERT INTO server_instances (
			id, user_id, name, description, server_type, template_id, container_spec_id,
			status, status_message, container_instance_id, address, idempotency_key, last_started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + serverColumns

	server, err := scanServer(db.Pool.QueryRow(ctx, query,
		params.ID,
		params.UserID,
		params.Name,
		params.Description,
		params.ServerType,
		params.TemplateID,
		params.ContainerSpecID,
		params.Status,
		params.StatusMessage,
		params.ContainerInstanceID,
		params.Address,
		params.IdempotencyKey,
		params.LastStartedAt,
	))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("server with idempotency key: %w", models.ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return server, nil
}

// ReserveServer inserts a server record while holding a per-user lock, so
// concurrent creations for one user count each other's rows. check receives
// the user's current record count; an error from it aborts the insert.
func (db *DB) ReserveServer(ctx context.Context, params *CreateServerParams, check func(count int) error) (*models.ServerInstance, error) {
	var server *models.ServerInstance
	err := db.WithTx(ctx, func(tx *DB) error {
		if err := tx.lockUser(ctx, params.UserID); err != nil {
			return err
		}

		count, err := tx.CountServersByUser(ctx, params.UserID)
		if err != nil {
			return err
		}
		if err := check(count); err != nil {
			return err
		}

		server, err = tx.CreateServer(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return server, nil
}

// lockUser takes a transaction-scoped advisory lock keyed by the user
func (db *DB) lockUser(ctx context.Context, userID uuid.UUID) error {
	if _, err := db.Pool.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", userID.String()); err != nil {
		return fmt.Errorf("failed to lock user: %w", err)
	}
	return nil
}

// GetServerByID retrieves a single server by ID, or nil
func (db *DB) GetServerByID(ctx context.Context, id uuid.UUID) (*models.ServerInstance, error) {
	query := `SELECT ` + serverColumns + ` FROM server_instances WHERE id = $1`

	server, err := scanServer(db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get server: %w", err)
	}

	return server, nil
}

// GetServerByIdempotencyKey finds a previous creation by the same user with the same key, or nil
func (db *DB) GetServerByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*models.ServerInstance, error) {
	query := `SELECT ` + serverColumns + ` FROM server_instances WHERE user_id = $1 AND idempotency_key = $2`

	server, err := scanServer(db.Pool.QueryRow(ctx, query, userID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get server by idempotency key: %w", err)
	}

	return server, nil
}

// ListServersByUser returns all servers for a user, newest first
func (db *DB) ListServersByUser(ctx context.Context, userID uuid.UUID) ([]models.ServerInstance, error) {
	query := `
		SELECT ` + serverColumns + `
		FROM server_instances
		WHERE user_id = $1
		ORDER BY created_at DESC, id
	`

	return db.queryServers(ctx, query, userID)
}

// GetServersByStatus returns all servers in any of the given statuses
func (db *DB) GetServersByStatus(ctx context.Context, statuses ...models.ServerStatus) ([]models.ServerInstance, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}

	query := `
		SELECT ` + serverColumns + `
		FROM server_instances
		WHERE status = ANY($1)
		ORDER BY updated_at
	`

	return db.queryServers(ctx, query, values)
}

func (db *DB) queryServers(ctx context.Context, query string, args ...any) ([]models.ServerInstance, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	servers := []models.ServerInstance{}
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		servers = append(servers, *server)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating servers: %w", err)
	}

	return servers, nil
}

// CountServersByUser counts every instance record a user holds, in any status
func (db *DB) CountServersByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM server_instances WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count servers: %w", err)
	}
	return count, nil
}

// UpdateServer writes the mutable fields of a server and refreshes UpdatedAt
func (db *DB) UpdateServer(ctx context.Context, server *models.ServerInstance) error {
	query := `
		UPDATE server_instances
		SET name = $2,
		    description = $3,
		    status = $4,
		    status_message = $5,
		    container_instance_id = $6,
		    address = $7,
		    last_started_at = $8,
		    last_stopped_at = $9,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := db.Pool.QueryRow(ctx, query,
		server.ID,
		server.Name,
		server.Description,
		server.Status,
		server.StatusMessage,
		server.ContainerInstanceID,
		server.Address,
		server.LastStartedAt,
		server.LastStoppedAt,
	).Scan(&server.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("server %s: %w", server.ID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update server: %w", err)
	}

	return nil
}

// TransitionServerStatus moves a server from one status to another only if it
// is still in the expected status. Returns false when another writer got there first.
func (db *DB) TransitionServerStatus(ctx context.Context, id uuid.UUID, from, to models.ServerStatus, message *string) (bool, error) {
	query := `
		UPDATE server_instances
		SET status = $3,
		    status_message = $4,
		    last_started_at = CASE WHEN $3 = 'running' AND status <> 'running' THEN NOW() ELSE last_started_at END,
		    last_stopped_at = CASE WHEN $3 = 'stopped' AND status <> 'stopped' THEN NOW() ELSE last_stopped_at END,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	tag, err := db.Pool.Exec(ctx, query, id, from, to, message)
	if err != nil {
		return false, fmt.Errorf("failed to transition server status: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// DeleteServer removes a server record. Returns false if it did not exist.
func (db *DB) DeleteServer(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM server_instances WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete server: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
