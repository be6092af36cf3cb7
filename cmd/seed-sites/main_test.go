package main

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/testutil"
)

const sample = `
sites:
  - site_name: verona-arena
    tour_name: Arena di Verona
    api_url: https://arena.example.com/
    consumer_key: ${SEED_TEST_CK}
    consumer_secret: cs_test
    profit_margin: "30"
landing_tours:
  - slug: colosseum
    name: Colosseum Skip the Line
    currency: EUR
    prices:
      - {type: Adult, unit_price: "45.00"}
      - {type: Child, unit_price: "30"}
`

func TestSeed(t *testing.T) {
	testutil.NewSQLiteDB(t)
	t.Setenv("SEED_TEST_CK", "ck_from_env")
	ctx := context.Background()

	f, err := parseSeedFile([]byte(sample))
	require.NoError(t, err)
	require.Len(t, f.Sites, 1)
	assert.Equal(t, "ck_from_env", f.Sites[0].ConsumerKey)

	sites, tours, err := seed(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, 1, sites)
	assert.Equal(t, 1, tours)

	cred, err := models.GetCredentialBySite(ctx, "verona-arena")
	require.NoError(t, err)
	assert.Equal(t, "https://arena.example.com", cred.ApiUrl)
	require.NotNil(t, cred.ProfitMargin)
	assert.True(t, decimal.NewFromInt(30).Equal(*cred.ProfitMargin))
	assert.True(t, cred.Active())

	tour, err := models.GetLandingTourBySlug(ctx, "colosseum")
	require.NoError(t, err)
	assert.Equal(t, "eur", tour.Currency)
	price, ok := tour.PriceFor("adult")
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("45").Equal(price))

	// a second run updates in place
	f.Sites[0].TourName = "Arena"
	_, _, err = seed(ctx, f)
	require.NoError(t, err)
	all, err := models.ListCredentials(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Arena", all[0].TourName)
}

func TestSeed_InvalidEntries(t *testing.T) {
	testutil.NewSQLiteDB(t)
	ctx := context.Background()

	_, err := parseSeedFile([]byte("sites: [\n"))
	assert.Error(t, err)

	_, _, err = seed(ctx, seedFile{Sites: []siteEntry{{SiteName: "x", TourName: "X", ApiUrl: "https://x.example.com", ConsumerKey: "k", ConsumerSecret: "s", ProfitMargin: "lots"}}})
	assert.ErrorContains(t, err, "profit_margin")

	sites, _, err := seed(ctx, seedFile{Sites: []siteEntry{{SiteName: "x", TourName: "X", ApiUrl: "not a url", ConsumerKey: "k", ConsumerSecret: "s"}}})
	assert.ErrorIs(t, err, models.ErrInvalidCredential)
	assert.Zero(t, sites)

	_, tours, err := seed(ctx, seedFile{LandingTours: []tourEntry{{Slug: "free", Name: "Free", Currency: "eur", Prices: []priceEntry{{Type: "Adult", UnitPrice: "0"}}}}})
	assert.Error(t, err)
	assert.Zero(t, tours)
}
