package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/testutil"
)

func TestDeliveryLifecycle(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	d := Delivery{Scope: "verona", Handler: "woo-webhook", MessageId: "d-1"}

	skip, err := d.Begin(db)
	require.NoError(t, err)
	assert.False(t, skip)

	_, err = d.Begin(db)
	assert.ErrorIs(t, err, ErrIdempotencyInProgress)

	require.NoError(t, d.Finish(db, errors.New("boom")))
	var key models.IdempotencyKey
	require.NoError(t, db.Where("message_id = ?", "d-1").First(&key).Error)
	assert.Equal(t, models.IdempotencyStatusFailed, key.Status)
	require.NotNil(t, key.LastError)
	assert.Equal(t, "boom", *key.LastError)

	skip, err = d.Begin(db)
	require.NoError(t, err)
	assert.False(t, skip, "failed deliveries are retried")

	require.NoError(t, d.Finish(db, nil))
	skip, err = d.Begin(db)
	require.NoError(t, err)
	assert.True(t, skip)

	other := d
	other.Scope = "padova"
	skip, err = other.Begin(db)
	require.NoError(t, err)
	assert.False(t, skip, "keys are scoped per site")
}

func TestDelivery_StaleStartedIsTakenOver(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	d := Delivery{Scope: "verona", Handler: "woo-webhook", MessageId: "d-2"}

	_, err := d.Begin(db)
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.IdempotencyKey{}).
		Where("message_id = ?", "d-2").
		UpdateColumn("updated_at", time.Now().Add(-2*StaleStartedAfter)).Error)

	skip, err := d.Begin(db)
	require.NoError(t, err)
	assert.False(t, skip)
}
