package usage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/onpardev/mymcp/api/internal/models"
	"go.uber.org/zap"
)

// Store is the persistence the tracker needs. Increments must be atomic at the storage layer.
type Store interface {
	GetActiveSubscription(ctx context.Context, userID uuid.UUID, now time.Time) (*models.Subscription, error)
	IncrementUsage(ctx context.Context, userID uuid.UUID, year, month int, at time.Time) (*models.UserUsage, error)
	CreateOrIncrementUsage(ctx context.Context, userID, subscriptionID uuid.UUID, year, month int, at time.Time) (*models.UserUsage, error)
	IncrementUsageWithinLimit(ctx context.Context, userID, subscriptionID uuid.UUID, year, month, limit int, at time.Time) (*models.UserUsage, error)
	GetUserUsage(ctx context.Context, userID uuid.UUID, year, month int) (*models.UserUsage, error)
	CreateRequestLog(ctx context.Context, entry *models.RequestLog) error
}

// Tracker counts billable actions per user and calendar month
type Tracker struct {
	store  Store
	logger *zap.Logger
	Now    func() time.Time
}

func NewTracker(store Store, logger *zap.Logger) *Tracker {
	return &Tracker{store: store, logger: logger, Now: time.Now}
}

// TrackServerCreation charges one request for a newly provisioned server
func (t *Tracker) TrackServerCreation(ctx context.Context, userID, serverID uuid.UUID) (*models.UserUsage, error) {
	return t.track(ctx, userID, serverID, models.ServerCreationEndpoint, models.ServerCreationMethod, http.StatusCreated)
}

// TrackRequest charges one request for an arbitrary billable call
func (t *Tracker) TrackRequest(ctx context.Context, userID, serverID uuid.UUID, endpoint, method string) (*models.UserUsage, error) {
	return t.track(ctx, userID, serverID, endpoint, method, http.StatusOK)
}

func (t *Tracker) track(ctx context.Context, userID, serverID uuid.UUID, endpoint, method string, code int) (*models.UserUsage, error) {
	start := t.Now()
	year, month := models.UsagePeriod(start)

	usage, err := t.store.IncrementUsage(ctx, userID, year, month, start)
	if err != nil {
		return nil, err
	}

	if usage == nil {
		// First billable action of the month links the row to the current subscription
		sub, err := t.store.GetActiveSubscription(ctx, userID, start)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			t.logger.Error("usage tracked without an active subscription",
				zap.String("user_id", userID.String()),
				zap.String("server_id", serverID.String()),
				zap.String("endpoint", endpoint))
			return nil, fmt.Errorf("%w: no active subscription for user %s", models.ErrConfiguration, userID)
		}

		usage, err = t.store.CreateOrIncrementUsage(ctx, userID, sub.ID, year, month, start)
		if err != nil {
			return nil, err
		}
	}

	t.writeLog(ctx, userID, usage, serverID, endpoint, method, code, start)
	return usage, nil
}

// ChargeRequest counts one request only if the active plan's monthly quota
// still has room. Check and increment happen in one store call so concurrent
// charges cannot overrun the limit.
func (t *Tracker) ChargeRequest(ctx context.Context, userID, serverID uuid.UUID, endpoint, method string) (*models.UserUsage, error) {
	start := t.Now()

	sub, err := t.store.GetActiveSubscription(ctx, userID, start)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("%w: no active subscription", models.ErrQuotaExceeded)
	}
	planType, err := sub.Plan.Type()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrConfiguration, err)
	}

	year, month := models.UsagePeriod(start)
	usage, err := t.store.IncrementUsageWithinLimit(ctx, userID, sub.ID, year, month, planType.MonthlyRequestLimit, start)
	if err != nil {
		return nil, err
	}
	if usage == nil {
		return nil, fmt.Errorf("%w: monthly request limit reached", models.ErrQuotaExceeded)
	}

	t.writeLog(ctx, userID, usage, serverID, endpoint, method, http.StatusOK, start)
	return usage, nil
}

func (t *Tracker) writeLog(ctx context.Context, userID uuid.UUID, usage *models.UserUsage, serverID uuid.UUID, endpoint, method string, code int, start time.Time) {
	entry := &models.RequestLog{
		UserID:           userID,
		UserUsageID:      usage.ID,
		ServerInstanceID: serverID,
		Endpoint:         endpoint,
		Method:           method,
		ResponseCode:     code,
		ResponseTimeMs:   t.Now().Sub(start).Milliseconds(),
		BillableWeight:   1,
		RequestTimestamp: start,
	}
	if err := t.store.CreateRequestLog(ctx, entry); err != nil {
		// The count is authoritative; a lost audit row is only logged
		t.logger.Error("failed to write request log",
			zap.String("user_id", userID.String()),
			zap.String("server_id", serverID.String()),
			zap.Error(err))
	}
}

// CheckRequestAllowed returns models.ErrQuotaExceeded when the user's active
// subscription does not permit another request this month
func (t *Tracker) CheckRequestAllowed(ctx context.Context, userID uuid.UUID) error {
	now := t.Now()

	sub, err := t.store.GetActiveSubscription(ctx, userID, now)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("%w: no active subscription", models.ErrQuotaExceeded)
	}

	year, month := models.UsagePeriod(now)
	usage, err := t.store.GetUserUsage(ctx, userID, year, month)
	if err != nil {
		return err
	}

	count := 0
	if usage != nil {
		count = usage.RequestCount
	}
	if !sub.CanMakeRequest(count, now) {
		return fmt.Errorf("%w: monthly request limit reached", models.ErrQuotaExceeded)
	}
	return nil
}

// CurrentUsage summarises this month's usage against the active plan
func (t *Tracker) CurrentUsage(ctx context.Context, userID uuid.UUID) (*models.UsageResponse, error) {
	now := t.Now()
	year, month := models.UsagePeriod(now)

	resp := &models.UsageResponse{Year: year, Month: month}

	usage, err := t.store.GetUserUsage(ctx, userID, year, month)
	if err != nil {
		return nil, err
	}
	if usage != nil {
		resp.RequestCount = usage.RequestCount
		resp.LastUpdated = &usage.LastUpdated
	}

	sub, err := t.store.GetActiveSubscription(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		if planType, err := sub.Plan.Type(); err == nil {
			resp.MonthlyRequestLimit = planType.MonthlyRequestLimit
		}
	}

	resp.Remaining = max(resp.MonthlyRequestLimit-resp.RequestCount, 0)
	return resp, nil
}
