package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/onpardev/mymcp/api/internal/models"
)

// GetPlan returns the plan row for a (tier, cycle) pair, or nil if none exists
func (db *DB) GetPlan(ctx context.Context, tier models.PlanTier, cycle models.BillingCycle) (*models.Plan, error) {
	query := `
		SELECT id, tier, cycle, is_active, created_at, updated_at
		FROM plans
		WHERE tier = $1 AND cycle = $2
	`

	var plan models.Plan
	err := db.Pool.QueryRow(ctx, query, tier, cycle).Scan(
		&plan.ID,
		&plan.Tier,
		&plan.Cycle,
		&plan.IsActive,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	return &plan, nil
}

// ListActivePlans returns all purchasable plans ordered by tier and cycle
func (db *DB) ListActivePlans(ctx context.Context) ([]models.Plan, error) {
	query := `
		SELECT id, tier, cycle, is_active, created_at, updated_at
		FROM plans
		WHERE is_active = TRUE
		ORDER BY CASE tier WHEN 'free' THEN 0 WHEN 'individual' THEN 1 ELSE 2 END, cycle
	`

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []models.Plan
	for rows.Next() {
		var plan models.Plan
		if err := rows.Scan(
			&plan.ID,
			&plan.Tier,
			&plan.Cycle,
			&plan.IsActive,
			&plan.CreatedAt,
			&plan.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, plan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}

	return plans, nil
}

// SetPlanActive retires or re-enables a plan
func (db *DB) SetPlanActive(ctx context.Context, tier models.PlanTier, cycle models.BillingCycle, active bool) error {
	query := `UPDATE plans SET is_active = $3, updated_at = NOW() WHERE tier = $1 AND cycle = $2`

	tag, err := db.Pool.Exec(ctx, query, tier, cycle, active)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("plan %s/%s: %w", tier, cycle, models.ErrNotFound)
	}

	return nil
}
