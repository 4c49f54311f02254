package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/onpardev/mymcp/api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_IncrementUsage_MissingRow(t *testing.T) {
	db, cleanup := setupTest(t)
	defer cleanup()

	user := createTestUser(t, db)

	usage, err := db.IncrementUsage(context.Background(), user.ID, 2026, 3, time.Now())
	require.NoError(t, err, "IncrementUsage should not return an error")
	assert.Nil(t, usage, "no row should be created by a plain increment")
}

func Test_CreateOrIncrementUsage(t *testing.T) {
	db, cleanup := setupTest(t)
	defer cleanup()

	ctx := context.Background()

	user := createTestUser(t, db)
	sub := createTestSubscription(t, db, user.ID, models.PlanTierFree, time.Now().Add(-time.Hour))

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	usage, err := db.CreateOrIncrementUsage(ctx, user.ID, sub.ID, 2026, 3, first)
	require.NoError(t, err, "CreateOrIncrementUsage should not return an error")
	assert.Equal(t, 1, usage.RequestCount, "new row should count the first request")
	assert.Equal(t, sub.ID, usage.SubscriptionID, "row should link the subscription")
	assert.True(t, first.Equal(usage.LastUpdated))

	later := first.Add(time.Minute)
	usage, err = db.IncrementUsage(ctx, user.ID, 2026, 3, later)
	require.NoError(t, err)
	require.NotNil(t, usage)
	assert.Equal(t, 2, usage.RequestCount)
	assert.True(t, later.Equal(usage.LastUpdated))

	// An out-of-order timestamp still counts but does not move LastUpdated back
	usage, err = db.CreateOrIncrementUsage(ctx, user.ID, sub.ID, 2026, 3, first)
	require.NoError(t, err)
	assert.Equal(t, 3, usage.RequestCount)
	assert.True(t, later.Equal(usage.LastUpdated), "LastUpdated should not move backwards")

	fetched, err := db.GetUserUsage(ctx, user.ID, 2026, 3)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, usage.ID, fetched.ID)
	assert.Equal(t, 3, fetched.RequestCount)

	other, err := db.GetUserUsage(ctx, user.ID, 2026, 4)
	require.NoError(t, err)
	assert.Nil(t, other, "next month should have no row yet")
}

// Runs against the pool, not a transaction, so the goroutines contend on the row
func Test_CreateOrIncrementUsage_Concurrent(t *testing.T) {
	ctx := context.Background()
	db := &DB{Pool: testPool}

	user := createTestUser(t, db)
	defer db.Pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, user.ID)
	sub := createTestSubscription(t, db, user.ID, models.PlanTierTeam, time.Now().Add(-time.Hour))

	const workers = 25
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			usage, err := db.IncrementUsage(ctx, user.ID, 2026, 5, time.Now())
			if err == nil && usage == nil {
				_, err = db.CreateOrIncrementUsage(ctx, user.ID, sub.ID, 2026, 5, time.Now())
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err, "concurrent increments should not fail")
	}

	usage, err := db.GetUserUsage(ctx, user.ID, 2026, 5)
	require.NoError(t, err)
	require.NotNil(t, usage)
	assert.Equal(t, workers, usage.RequestCount, "no increment should be lost")
}

func Test_CreateRequestLog(t *testing.T) {
	db, cleanup := setupTest(t)
	defer cleanup()

	ctx := context.Background()

	user := createTestUser(t, db)
	sub := createTestSubscription(t, db, user.ID, models.PlanTierFree, time.Now().Add(-time.Hour))
	usage, err := db.CreateOrIncrementUsage(ctx, user.ID, sub.ID, 2026, 6, time.Now())
	require.NoError(t, err)

	serverID := uuid.New()
	entry := &models.RequestLog{
		UserID:           user.ID,
		UserUsageID:      usage.ID,
		ServerInstanceID: serverID,
		Endpoint:         models.ServerCreationEndpoint,
		Method:           models.ServerCreationMethod,
		ResponseCode:     201,
		BillableWeight:   1,
		RequestTimestamp: time.Now(),
	}
	require.NoError(t, db.CreateRequestLog(ctx, entry), "CreateRequestLog should not return an error")
	assert.NotEqual(t, uuid.Nil, entry.ID, "ID should be assigned")

	logs, err := db.ListRequestLogs(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, serverID, logs[0].ServerInstanceID)
	assert.Equal(t, "/servers", logs[0].Endpoint)
	assert.Equal(t, "POST", logs[0].Method)
	assert.Equal(t, 1, logs[0].BillableWeight)
}

func Test_PruneRequestLogs(t *testing.T) {
	db, cleanup := setupTest(t)
	defer cleanup()

	ctx := context.Background()

	user := createTestUser(t, db)
	sub := createTestSubscription(t, db, user.ID, models.PlanTierFree, time.Now().Add(-time.Hour))
	usage, err := db.CreateOrIncrementUsage(ctx, user.ID, sub.ID, 2001, 1, time.Now())
	require.NoError(t, err)

	old := time.Date(2001, 1, 15, 0, 0, 0, 0, time.UTC)
	for _, at := range []time.Time{old, old.Add(time.Hour), time.Now()} {
		require.NoError(t, db.CreateRequestLog(ctx, &models.RequestLog{
			UserID:           user.ID,
			UserUsageID:      usage.ID,
			ServerInstanceID: uuid.New(),
			Endpoint:         "/tools/call",
			Method:           "POST",
			ResponseCode:     200,
			BillableWeight:   1,
			RequestTimestamp: at,
		}))
	}

	deleted, err := db.PruneRequestLogs(ctx, time.Date(2002, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err, "PruneRequestLogs should not return an error")
	assert.Equal(t, int64(2), deleted)

	logs, err := db.ListRequestLogs(ctx, user.ID, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1, "recent entry should survive")
}

func Test_IncrementUsageWithinLimit(t *testing.T) {
	db, cleanup := setupTest(t)
	defer cleanup()

	ctx := context.Background()

	user := createTestUser(t, db)
	sub := createTestSubscription(t, db, user.ID, models.PlanTierFree, time.Now().Add(-time.Hour))
	at := time.Date(2026, 6, 3, 10, 0, 0, 0, time.UTC)

	for i := 1; i <= 2; i++ {
		usage, err := db.IncrementUsageWithinLimit(ctx, user.ID, sub.ID, 2026, 6, 2, at)
		require.NoError(t, err, "IncrementUsageWithinLimit should not return an error")
		require.NotNil(t, usage, "requests under the limit should be counted")
		assert.Equal(t, i, usage.RequestCount)
	}

	usage, err := db.IncrementUsageWithinLimit(ctx, user.ID, sub.ID, 2026, 6, 2, at)
	require.NoError(t, err)
	assert.Nil(t, usage, "the request over the limit should be refused")

	stored, err := db.GetUserUsage(ctx, user.ID, 2026, 6)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 2, stored.RequestCount, "a refused request should not be counted")

	usage, err = db.IncrementUsageWithinLimit(ctx, user.ID, sub.ID, 2026, 7, 0, at)
	require.NoError(t, err)
	assert.Nil(t, usage, "a zero limit allows nothing")
}

// Runs against the pool so the increments race on the same row
func Test_IncrementUsageWithinLimit_Concurrent(t *testing.T) {
	ctx := context.Background()
	db := &DB{Pool: testPool}

	user := createTestUser(t, db)
	defer db.Pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, user.ID)
	sub := createTestSubscription(t, db, user.ID, models.PlanTierFree, time.Now().Add(-time.Hour))

	const workers, limit = 30, 10
	var wg sync.WaitGroup
	counted := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			usage, err := db.IncrementUsageWithinLimit(ctx, user.ID, sub.ID, 2026, 8, limit, time.Now())
			assert.NoError(t, err)
			counted <- usage != nil
		}()
	}
	wg.Wait()
	close(counted)

	allowed := 0
	for ok := range counted {
		if ok {
			allowed++
		}
	}
	assert.Equal(t, limit, allowed, "exactly the limit should be allowed")

	usage, err := db.GetUserUsage(ctx, user.ID, 2026, 8)
	require.NoError(t, err)
	require.NotNil(t, usage)
	assert.Equal(t, limit, usage.RequestCount, "the count should never pass the limit")
}
