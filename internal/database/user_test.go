package database

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/onpardev/mymcp/api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NewUserIsRegular(t *testing.T) {
	db, cleanup := setupTest(t)
	defer cleanup()

	user := createTestUser(t, db)
	assert.Equal(t, models.UserRoleUser, user.Role, "new users should not be admins")
}

func Test_SetUserRole(t *testing.T) {
	db, cleanup := setupTest(t)
	defer cleanup()

	ctx := context.Background()

	user := createTestUser(t, db)

	promoted, err := db.SetUserRole(ctx, user.ID, models.UserRoleAdmin)
	require.NoError(t, err, "SetUserRole should not return an error")
	require.NotNil(t, promoted)
	assert.True(t, promoted.IsAdmin(), "user should be promoted")

	byID, err := db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UserRoleAdmin, byID.Role, "role should be persisted")

	again, _, err := db.GetOrCreateUser(ctx, models.Identity{Subject: user.ExternalSubject, Email: user.Email})
	require.NoError(t, err)
	assert.Equal(t, models.UserRoleAdmin, again.Role, "signing in again should keep the role")

	demoted, err := db.SetUserRole(ctx, user.ID, models.UserRoleUser)
	require.NoError(t, err)
	assert.False(t, demoted.IsAdmin(), "user should be demoted")

	missing, err := db.SetUserRole(ctx, uuid.New(), models.UserRoleAdmin)
	require.NoError(t, err)
	assert.Nil(t, missing, "unknown user should yield nil")

	_, err = db.SetUserRole(ctx, user.ID, models.UserRole("owner"))
	assert.Error(t, err, "the check constraint should reject unknown roles")
}

func Test_ListUsers(t *testing.T) {
	db, cleanup := setupTest(t)
	defer cleanup()

	ctx := context.Background()

	first := createTestUser(t, db)
	second := createTestUser(t, db)
	createTestServer(t, db, second.ID, models.ServerStatusRunning)
	createTestServer(t, db, second.ID, models.ServerStatusStopped)

	users, err := db.ListUsers(ctx)
	require.NoError(t, err, "ListUsers should not return an error")

	counts := make(map[uuid.UUID]int)
	for _, u := range users {
		counts[u.ID] = u.ServerCount
	}
	require.Contains(t, counts, first.ID)
	require.Contains(t, counts, second.ID)
	assert.Equal(t, 0, counts[first.ID], "user without servers should count zero")
	assert.Equal(t, 2, counts[second.ID], "servers in any status should be counted")
}
