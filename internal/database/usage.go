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

const usageColumns = `id, user_id, subscription_id, year, month, request_count, last_updated, created_at`

func scanUsage(row pgx.Row) (*models.UserUsage, error) {
	var usage models.UserUsage
	err := row.Scan(
		&usage.ID,
		&usage.UserID,
		&usage.SubscriptionID,
		&usage.Year,
		&usage.Month,
		&usage.RequestCount,
		&usage.LastUpdated,
		&usage.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

// IncrementUsage adds one request to an existing month row in a single statement.
// Returns nil when the row does not exist yet.
func (db *DB) IncrementUsage(ctx context.Context, userID uuid.UUID, year, month int, at time.Time) (*models.UserUsage, error) {
	query := `
		UPDATE user_usages
		SET request_count = request_count + 1,
		    last_updated = GREATEST(last_updated, $4)
		WHERE user_id = $1 AND year = $2 AND month = $3
		RETURNING ` + usageColumns

	usage, err := scanUsage(db.Pool.QueryRow(ctx, query, userID, year, month, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment usage: %w", err)
	}

	return usage, nil
}

// CreateOrIncrementUsage creates the month row with a count of one. A concurrent
// creator turns the insert into an increment so no request is lost.
func (db *DB) CreateOrIncrementUsage(ctx context.Context, userID, subscriptionID uuid.UUID, year, month int, at time.Time) (*models.UserUsage, error) {
	query := `
		INSERT INTO user_usages (user_id, subscription_id, year, month, request_count, last_updated)
		VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (user_id, year, month) DO UPDATE SET
			request_count = user_usages.request_count + 1,
			last_updated = GREATEST(user_usages.last_updated, EXCLUDED.last_updated)
		RETURNING ` + usageColumns

	usage, err := scanUsage(db.Pool.QueryRow(ctx, query, userID, subscriptionID, year, month, at))
	if err != nil {
		return nil, fmt.Errorf("failed to create usage: %w", err)
	}

	return usage, nil
}

// IncrementUsageWithinLimit counts one request only while the month's count
// is below limit, creating the row on first use. The check and the increment
// are one statement. Returns nil when the limit is already reached.
func (db *DB) IncrementUsageWithinLimit(ctx context.Context, userID, subscriptionID uuid.UUID, year, month, limit int, at time.Time) (*models.UserUsage, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		INSERT INTO user_usages (user_id, subscription_id, year, month, request_count, last_updated)
		VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (user_id, year, month) DO UPDATE SET
			request_count = user_usages.request_count + 1,
			last_updated = GREATEST(user_usages.last_updated, EXCLUDED.last_updated)
		WHERE user_usages.request_count < $6
		RETURNING ` + usageColumns

	usage, err := scanUsage(db.Pool.QueryRow(ctx, query, userID, subscriptionID, year, month, at, limit))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment usage: %w", err)
	}

	return usage, nil
}

// GetUserUsage returns the usage row for a month, or nil
func (db *DB) GetUserUsage(ctx context.Context, userID uuid.UUID, year, month int) (*models.UserUsage, error) {
	query := `SELECT ` + usageColumns + ` FROM user_usages WHERE user_id = $1 AND year = $2 AND month = $3`

	usage, err := scanUsage(db.Pool.QueryRow(ctx, query, userID, year, month))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}

	return usage, nil
}

// CreateRequestLog appends an audit entry for a billable action
func (db *DB) CreateRequestLog(ctx context.Context, entry *models.RequestLog) error {
	query := `
		INSERT INTO request_logs (
			user_id, user_usage_id, server_instance_id, endpoint, method,
			response_code, response_time_ms, billable_weight, request_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err := db.Pool.QueryRow(ctx, query,
		entry.UserID,
		entry.UserUsageID,
		entry.ServerInstanceID,
		entry.Endpoint,
		entry.Method,
		entry.ResponseCode,
		entry.ResponseTimeMs,
		entry.BillableWeight,
		entry.RequestTimestamp,
	).Scan(&entry.ID)

	if err != nil {
		return fmt.Errorf("failed to create request log: %w", err)
	}

	return nil
}

// ListRequestLogs returns the newest log entries of a user
func (db *DB) ListRequestLogs(ctx context.Context, userID uuid.UUID, limit int) ([]models.RequestLog, error) {
	query := `
		SELECT id, user_id, user_usage_id, server_instance_id, endpoint, method,
		       response_code, response_time_ms, billable_weight, request_timestamp
		FROM request_logs
		WHERE user_id = $1
		ORDER BY request_timestamp DESC
		LIMIT $2
	`

	rows, err := db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list request logs: %w", err)
	}
	defer rows.Close()

	var logs []models.RequestLog
	for rows.Next() {
		var entry models.RequestLog
		if err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.UserUsageID,
			&entry.ServerInstanceID,
			&entry.Endpoint,
			&entry.Method,
			&entry.ResponseCode,
			&entry.ResponseTimeMs,
			&entry.BillableWeight,
			&entry.RequestTimestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan request log: %w", err)
		}
		logs = append(logs, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating request logs: %w", err)
	}

	return logs, nil
}

// PruneRequestLogs deletes log entries recorded before the cutoff
func (db *DB) PruneRequestLogs(ctx context.Context, before time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM request_logs WHERE request_timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune request logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
