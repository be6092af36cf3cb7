package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/testutil"
	"github.com/tourdesk/backoffice/utils"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestUpsertCredential(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()

	input := models.WooCommerceCredential{
		SiteName:       " verona-arena ",
		TourName:       "Arena di Verona",
		ApiUrl:         "https://arena.example.com/",
		ConsumerKey:    "ck_123456",
		ConsumerSecret: "cs_abcdef",
	}
	got, err := models.UpsertCredential(ctx, &input)
	require.NoError(t, err)
	assert.Equal(t, "verona-arena", got.SiteName)
	assert.Equal(t, "https://arena.example.com", got.ApiUrl)
	assert.Equal(t, "Europe/Rome", got.Timezone)
	assert.True(t, got.Active())

	synced := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, models.MarkCredentialSynced(db, "verona-arena", synced))

	again := models.WooCommerceCredential{
		SiteName: "verona-arena", TourName: "Arena", ApiUrl: "https://arena.example.com",
		ConsumerKey: "ck_new", ConsumerSecret: "cs_new", IsActive: new(bool),
	}
	got, err = models.UpsertCredential(ctx, &again)
	require.NoError(t, err)
	assert.Equal(t, "Arena", got.TourName)
	assert.False(t, got.Active())
	require.NotNil(t, got.LastSyncedAt, "upsert keeps the watermark")
	assert.True(t, synced.Equal(got.LastSyncedAt.UTC()))

	all, err := models.ListCredentials(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	active, err := models.ListActiveCredentials(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	bad := models.WooCommerceCredential{SiteName: "a/b", TourName: "x", ApiUrl: "not a url", ConsumerKey: "k", ConsumerSecret: "s"}
	_, err = models.UpsertCredential(ctx, &bad)
	assert.ErrorIs(t, err, models.ErrInvalidCredential)

	margin := dec("120")
	input.ProfitMargin = &margin
	_, err = models.UpsertCredential(ctx, &input)
	assert.ErrorIs(t, err, models.ErrInvalidCredential)
}

func TestCredentialRedactedAndLocation(t *testing.T) {
	c := models.WooCommerceCredential{ConsumerKey: "ck_123456", ConsumerSecret: "abc", Timezone: "Europe/Rome"}
	r := c.Redacted()
	assert.Equal(t, "****3456", r.ConsumerKey)
	assert.Equal(t, "****", r.ConsumerSecret)
	assert.Equal(t, "", r.WebhookSecret)
	assert.Equal(t, "ck_123456", c.ConsumerKey, "original untouched")

	assert.Equal(t, "Europe/Rome", c.Location().String())
	assert.Equal(t, time.UTC, models.WooCommerceCredential{Timezone: "Mars/Olympus"}.Location())
}

func TestLandingTour(t *testing.T) {
	testutil.NewSQLiteDB(t)
	ctx := context.Background()

	tour := models.LandingTour{
		Slug: "arena-night", Name: "Arena by Night", Currency: "EUR",
		Prices: []models.TicketPrice{{Type: "Adult", UnitPrice: dec("45")}, {Type: "Bambino Ridotto", UnitPrice: dec("20")}},
	}
	require.NoError(t, models.UpsertLandingTour(ctx, &tour))

	got, err := models.GetLandingTourBySlug(ctx, " arena-night ")
	require.NoError(t, err)
	assert.Equal(t, "eur", got.Currency)
	price, ok := got.PriceFor("bambino  ridótto")
	require.True(t, ok)
	assert.True(t, dec("20").Equal(price))
	_, ok = got.PriceFor("Senior")
	assert.False(t, ok)

	update := models.LandingTour{Slug: "arena-night", Name: "Arena", Currency: "eur", IsActive: new(bool),
		Prices: []models.TicketPrice{{Type: "Adult", UnitPrice: dec("50")}}}
	require.NoError(t, models.UpsertLandingTour(ctx, &update))
	_, err = models.GetLandingTourBySlug(ctx, "arena-night")
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound, "inactive tours are hidden")

	tours, err := models.ListLandingTours(ctx)
	require.NoError(t, err)
	assert.Len(t, tours, 1)

	free := models.LandingTour{Slug: "free", Name: "Free", Currency: "eur", Prices: []models.TicketPrice{{Type: "Adult"}}}
	assert.Error(t, models.UpsertLandingTour(ctx, &free))
}

func TestSummarizeAdSpend(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	rows := []models.AdSpend{
		{Date: "2024-06-01", TourName: "Arena", Currency: "EUR", Cost: dec("10.50")},
		{Date: "2024-06-02", TourName: "Arena", Currency: "EUR", Cost: dec("4.50")},
		{Date: "2024-06-02", TourName: "Colosseo", Currency: "EUR", Cost: dec("7")},
	}
	for i := range rows {
		require.NoError(t, models.UpsertAdSpend(db, &rows[i]))
	}
	overwrite := models.AdSpend{Date: "2024-06-02", TourName: "Arena", Currency: "EUR", Cost: dec("5.50")}
	require.NoError(t, models.UpsertAdSpend(db, &overwrite))

	listed, err := models.ListAdSpend(context.Background(), "2024-06-01", "2024-06-03")
	require.NoError(t, err)
	require.Len(t, listed, 3)

	totals := models.SummarizeAdSpend(listed)
	require.Len(t, totals, 2)
	assert.Equal(t, "Arena", totals[0].TourName)
	assert.True(t, dec("16").Equal(totals[0].Cost))
	assert.True(t, dec("7").Equal(totals[1].Cost))
}
