package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/onpardev/mymcp/api/internal/database"
	"github.com/onpardev/mymcp/api/internal/models"
	"go.uber.org/zap"
)

// Store is the persistence for users, plans and subscriptions
type Store interface {
	GetOrCreateUser(ctx context.Context, identity models.Identity) (*models.User, bool, error)
	GetPlan(ctx context.Context, tier models.PlanTier, cycle models.BillingCycle) (*models.Plan, error)
	ListActivePlans(ctx context.Context) ([]models.Plan, error)
	CreateSubscription(ctx context.Context, params *database.CreateSubscriptionParams) (*models.Subscription, error)
	GetActiveSubscription(ctx context.Context, userID uuid.UUID, now time.Time) (*models.Subscription, error)
	GetLatestSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, id uuid.UUID, status models.SubscriptionStatus, endDate *time.Time) (*models.Subscription, error)
}

type Service struct {
	store  Store
	inTx   func(ctx context.Context, fn func(Store) error) error
	logger *zap.Logger
	Now    func() time.Time
}

func NewService(db *database.DB, logger *zap.Logger) *Service {
	inTx := func(ctx context.Context, fn func(Store) error) error {
		return db.WithTx(ctx, func(tx *database.DB) error { return fn(tx) })
	}
	return &Service{store: db, inTx: inTx, logger: logger, Now: time.Now}
}

// ResolveUser maps an identity to a local user. A user seen for the first
// time is created together with an active Free subscription.
func (s *Service) ResolveUser(ctx context.Context, identity models.Identity) (*models.User, error) {
	var user *models.User
	err := s.inTx(ctx, func(st Store) error {
		u, created, err := st.GetOrCreateUser(ctx, identity)
		if err != nil {
			return err
		}
		user = u
		if !created {
			return nil
		}

		if _, err := s.ensureFree(ctx, st, u.ID); err != nil {
			return err
		}
		s.logger.Info("user signed up",
			zap.String("user_id", u.ID.String()),
			zap.String("email", u.Email))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// EnsureFree gives the user an active Free subscription unless one is already active
func (s *Service) EnsureFree(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return s.ensureFree(ctx, s.store, userID)
}

func (s *Service) ensureFree(ctx context.Context, st Store, userID uuid.UUID) (*models.Subscription, error) {
	now := s.Now()

	active, err := st.GetActiveSubscription(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return active, nil
	}

	plan, err := st.GetPlan(ctx, models.PlanTierFree, models.BillingCycleMonthly)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.IsActive {
		return nil, fmt.Errorf("%w: free monthly plan is not available", models.ErrConfiguration)
	}

	return st.CreateSubscription(ctx, &database.CreateSubscriptionParams{
		UserID:          userID,
		PlanID:          plan.ID,
		Status:          models.SubscriptionStatusActive,
		StartDate:       now,
		NextBillingDate: now.AddDate(0, plan.Cycle.Months(), 0),
	})
}

// Current returns the active subscription, or the latest one when none is active
func (s *Service) Current(ctx context.Context, userID uuid.UUID) (*models.SubscriptionResponse, error) {
	now := s.Now()

	sub, err := s.store.GetActiveSubscription(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		sub, err = s.store.GetLatestSubscription(ctx, userID)
		if err != nil {
			return nil, err
		}
	}
	if sub == nil {
		return nil, fmt.Errorf("subscription for user %s: %w", userID, models.ErrNotFound)
	}
	return sub.ToResponse(now), nil
}

// UpdateStatus applies a status change reported by the billing system.
// Canceling ends the subscription now.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status models.SubscriptionStatus) (*models.Subscription, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown subscription status %q", models.ErrValidation, status)
	}

	var endDate *time.Time
	if status == models.SubscriptionStatusCanceled {
		now := s.Now()
		endDate = &now
	}

	sub, err := s.store.UpdateSubscriptionStatus(ctx, id, status, endDate)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("subscription %s: %w", id, models.ErrNotFound)
	}

	s.logger.Info("subscription status changed",
		zap.String("subscription_id", id.String()),
		zap.String("user_id", sub.UserID.String()),
		zap.String("status", string(status)))

	return sub, nil
}

// ListPlans returns the purchasable tiers with the prices of their active cycles
func (s *Service) ListPlans(ctx context.Context) ([]models.PlanResponse, error) {
	plans, err := s.store.ListActivePlans(ctx)
	if err != nil {
		return nil, err
	}

	active := make(map[models.PlanTier]map[models.BillingCycle]bool)
	for _, p := range plans {
		if active[p.Tier] == nil {
			active[p.Tier] = make(map[models.BillingCycle]bool)
		}
		active[p.Tier][p.Cycle] = true
	}

	resp := make([]models.PlanResponse, 0, len(active))
	for _, tier := range models.PlanTiers {
		cycles, ok := active[tier]
		if !ok {
			continue
		}
		planType, err := models.LookupPlanType(tier)
		if err != nil {
			return nil, err
		}

		r := planType.ToResponse()
		r.Pricing = nil
		for _, pricing := range planType.Pricing {
			if cycles[pricing.Cycle] {
				r.Pricing = append(r.Pricing, pricing)
			}
		}
		resp = append(resp, r)
	}
	return resp, nil
}
