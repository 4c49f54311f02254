package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/onpardev/mymcp/api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_SeededPlans(t *testing.T) {
	db, cleanup := setupTest(t)
	defer cleanup()

	ctx := context.Background()

	plans, err := db.ListActivePlans(ctx)
	require.NoError(t, err, "ListActivePlans should not return an error")
	require.Len(t, plans, 5, "every priced (tier, cycle) pair should be seeded")
	assert.Equal(t, models.PlanTierFree, plans[0].Tier, "Free should be listed first")

	for _, plan := range plans {
		_, err := plan.Price()
		assert.NoError(t, err, "seeded plan %s/%s should have a price", plan.Tier, plan.Cycle)
	}

	freeYearly, err := db.GetPlan(ctx, models.PlanTierFree, models.BillingCycleYearly)
	require.NoError(t, err)
	assert.Nil(t, freeYearly, "Free has no yearly plan")

	require.NoError(t, db.SetPlanActive(ctx, models.PlanTierTeam, models.BillingCycleYearly, false))
	plans, err = db.ListActivePlans(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 4, "retired plan should not be listed")

	err = db.SetPlanActive(ctx, models.PlanTierFree, models.BillingCycleYearly, false)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func Test_GetActiveSubscription(t *testing.T) {
	db, cleanup := setupTest(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()

	user := createTestUser(t, db)

	sub, err := db.GetActiveSubscription(ctx, user.ID, now)
	require.NoError(t, err, "GetActiveSubscription should not return an error")
	assert.Nil(t, sub, "new user should have no subscription")

	created := createTestSubscription(t, db, user.ID, models.PlanTierIndividual, now.Add(-24*time.Hour))
	assert.Equal(t, models.PlanTierIndividual, created.Plan.Tier, "plan should be joined")

	sub, err = db.GetActiveSubscription(ctx, user.ID, now)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, created.ID, sub.ID)
	assert.True(t, sub.IsActive(now))

	// Not yet started at an earlier instant
	sub, err = db.GetActiveSubscription(ctx, user.ID, now.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, sub, "subscription should not be active before its start date")

	endDate := now.Add(-time.Minute)
	updated, err := db.UpdateSubscriptionStatus(ctx, created.ID, models.SubscriptionStatusCanceled, &endDate)
	require.NoError(t, err, "UpdateSubscriptionStatus should not return an error")
	require.NotNil(t, updated)
	assert.Equal(t, models.SubscriptionStatusCanceled, updated.Status)
	assert.False(t, updated.IsActive(now))

	sub, err = db.GetActiveSubscription(ctx, user.ID, now)
	require.NoError(t, err)
	assert.Nil(t, sub, "canceled subscription should not be active")

	latest, err := db.GetLatestSubscription(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, latest, "canceled subscription is still the latest one")
	assert.Equal(t, created.ID, latest.ID)

	missing, err := db.UpdateSubscriptionStatus(ctx, uuid.New(), models.SubscriptionStatusActive, nil)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func Test_GetOrCreateUser(t *testing.T) {
	db, cleanup := setupTest(t)
	defer cleanup()

	ctx := context.Background()

	identity := models.Identity{Subject: RandomSubject(), Email: RandomEmail()}

	user, created, err := db.GetOrCreateUser(ctx, identity)
	require.NoError(t, err, "GetOrCreateUser should not return an error")
	assert.True(t, created, "first call should create the user")
	assert.Equal(t, identity.Email, user.Email)

	identity.Email = RandomEmail()
	again, created, err := db.GetOrCreateUser(ctx, identity)
	require.NoError(t, err)
	assert.False(t, created, "second call should find the existing user")
	assert.Equal(t, user.ID, again.ID, "subject should map to the same user")
	assert.Equal(t, identity.Email, again.Email, "email should be refreshed")

	byID, err := db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, identity.Email, byID.Email)

	missing, err := db.GetUserByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func Test_UpsertTemplate_Idempotent(t *testing.T) {
	db, cleanup := setupTest(t)
	defer cleanup()

	ctx := context.Background()

	tmpl := &models.McpServerTemplate{
		Name:     "Idempotent Template " + RandomString(6),
		Version:  "2.0.0",
		Category: "Testing",
		Capabilities: []models.McpServerCapability{
			{Name: "Read", IsRequired: true},
			{Name: "Write"},
		},
		DefaultConfiguration: map[string]string{"A": "1"},
	}

	first, err := db.UpsertTemplate(ctx, tmpl)
	require.NoError(t, err, "UpsertTemplate should not return an error")
	second, err := db.UpsertTemplate(ctx, tmpl)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same (name, version) should resolve to one row")
	assert.Equal(t, tmpl.Capabilities, second.Capabilities)
	assert.Equal(t, tmpl.DefaultConfiguration, second.DefaultConfiguration)

	tmpl.Version = "2.1.0"
	third, err := db.UpsertTemplate(ctx, tmpl)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID, "a new version is a new template")

	spec := &models.ContainerSpec{
		Name:                 "spec-" + RandomString(6),
		ImageName:            "img",
		ImageTag:             "v1",
		CPULimitMillicores:   1000,
		MemoryLimitMB:        512,
		Port:                 8080,
		EnvironmentVariables: map[string]string{"X": "y"},
	}
	s1, err := db.UpsertContainerSpec(ctx, spec)
	require.NoError(t, err)
	s2, err := db.UpsertContainerSpec(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, s1.ID, s2.ID, "same name should resolve to one row")
	assert.Equal(t, "img:v1", s2.ImageRef())
	assert.Equal(t, map[string]string{"X": "y"}, s2.EnvironmentVariables)
}
