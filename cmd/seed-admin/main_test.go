package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/testutil"
	"github.com/tourdesk/backoffice/utils"
)

func TestEnsureAdmin(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()

	created, err := ensureAdmin(ctx, "ops", "first-password", "Ops Desk")
	require.NoError(t, err)
	assert.True(t, created)

	var user models.User
	require.NoError(t, db.Where("username = ?", "ops").First(&user).Error)
	assert.Equal(t, models.UserRoleAdmin, user.Role)
	assert.NoError(t, utils.ComparePassword(user.Password, "first-password"))

	require.NoError(t, db.Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{"role": models.UserRoleStaff, "is_active": false}).Error)

	created, err = ensureAdmin(ctx, "ops", "second-password", "")
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, db.Where("username = ?", "ops").First(&user).Error)
	assert.Equal(t, models.UserRoleAdmin, user.Role)
	assert.True(t, *user.IsActive)
	assert.Equal(t, "Ops Desk", user.Name)
	assert.NoError(t, utils.ComparePassword(user.Password, "second-password"))

	_, err = ensureAdmin(ctx, "ops", "short", "")
	assert.Error(t, err)
	_, err = ensureAdmin(ctx, "x", "long-enough-password", "X")
	assert.Error(t, err, "usernames need three characters")
}
