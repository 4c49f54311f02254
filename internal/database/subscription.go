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

type CreateSubscriptionParams struct {
	UserID                 uuid.UUID
	PlanID                 uuid.UUID
	Status                 models.SubscriptionStatus
	StartDate              time.Time
	EndDate                *time.Time
	NextBillingDate        time.Time
	ExternalSubscriptionID *string
}

const subscriptionColumns = `
	s.id, s.user_id, s.plan_id, s.status, s.start_date, s.end_date, s.next_billing_date,
	s.external_subscription_id, s.created_at, s.updated_at,
	p.id, p.tier, p.cycle, p.is_active, p.created_at, p.updated_at
`

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var sub models.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.PlanID,
		&sub.Status,
		&sub.StartDate,
		&sub.EndDate,
		&sub.NextBillingDate,
		&sub.ExternalSubscriptionID,
		&sub.CreatedAt,
		&sub.UpdatedAt,
		&sub.Plan.ID,
		&sub.Plan.Tier,
		&sub.Plan.Cycle,
		&sub.Plan.IsActive,
		&sub.Plan.CreatedAt,
		&sub.Plan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateSubscription inserts a subscription and returns it joined with its plan
func (db *DB) CreateSubscription(ctx context.Context, params *CreateSubscriptionParams) (*models.Subscription, error) {
	query := `
		WITH s AS (
			INSERT INTO subscriptions (
				user_id, plan_id, status, start_date, end_date, next_billing_date, external_subscription_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING *
		)
		SELECT ` + subscriptionColumns + `
		FROM s
		JOIN plans p ON p.id = s.plan_id
	`

	sub, err := scanSubscription(db.Pool.QueryRow(ctx, query,
		params.UserID,
		params.PlanID,
		params.Status,
		params.StartDate,
		params.EndDate,
		params.NextBillingDate,
		params.ExternalSubscriptionID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	return sub, nil
}

// GetActiveSubscription returns the newest subscription that is active at now, or nil
func (db *DB) GetActiveSubscription(ctx context.Context, userID uuid.UUID, now time.Time) (*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions s
		JOIN plans p ON p.id = s.plan_id
		WHERE s.user_id = $1
		  AND s.status = 'active'
		  AND s.start_date <= $2
		  AND (s.end_date IS NULL OR s.end_date > $2)
		ORDER BY s.start_date DESC
		LIMIT 1
	`

	sub, err := scanSubscription(db.Pool.QueryRow(ctx, query, userID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active subscription: %w", err)
	}

	return sub, nil
}

// GetLatestSubscription returns the most recently started subscription in any status, or nil
func (db *DB) GetLatestSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions s
		JOIN plans p ON p.id = s.plan_id
		WHERE s.user_id = $1
		ORDER BY s.start_date DESC, s.created_at DESC
		LIMIT 1
	`

	sub, err := scanSubscription(db.Pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest subscription: %w", err)
	}

	return sub, nil
}

// GetSubscriptionByID returns a subscription by ID, or nil
func (db *DB) GetSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions s
		JOIN plans p ON p.id = s.plan_id
		WHERE s.id = $1
	`

	sub, err := scanSubscription(db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return sub, nil
}

// UpdateSubscriptionStatus changes status and end date. Subscriptions are never deleted.
func (db *DB) UpdateSubscriptionStatus(ctx context.Context, id uuid.UUID, status models.SubscriptionStatus, endDate *time.Time) (*models.Subscription, error) {
	query := `
		WITH s AS (
			UPDATE subscriptions
			SET status = $2, end_date = $3, updated_at = NOW()
			WHERE id = $1
			RETURNING *
		)
		SELECT ` + subscriptionColumns + `
		FROM s
		JOIN plans p ON p.id = s.plan_id
	`

	sub, err := scanSubscription(db.Pool.QueryRow(ctx, query, id, status, endDate))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription status: %w", err)
	}

	return sub, nil
}
