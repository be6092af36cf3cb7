package woosync

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourdesk/backoffice/events"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/woocommerce"
)

func signedRequest(t *testing.T, site, secret, delivery string, order woocommerce.Order) WebhookRequest {
	t.Helper()
	body, err := json.Marshal(order)
	require.NoError(t, err)
	return WebhookRequest{
		Site:       site,
		Signature:  woocommerce.SignWebhookPayload(secret, body),
		DeliveryID: delivery,
		Topic:      "order.updated",
		Body:       body,
	}
}

func countOrders(t *testing.T, f *syncFixture) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Order{}).Count(&n).Error)
	return n
}

func TestProcessWebhook_AppliesOrder(t *testing.T) {
	f := newSyncFixture(t)
	f.seedSite(t, "verona-arena")
	ctx := context.Background()

	req := signedRequest(t, "verona-arena", "cs_test", "d-1", wooOrder(101, "100.00", "2024-05-30T10:00:00"))
	res, status, err := f.syncer.ProcessWebhook(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, WebhookResult{OrderId: "verona-arena-101", Outcome: "created"}, res)

	res, status, err = f.syncer.ProcessWebhook(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, res.Duplicate)

	req.DeliveryID = "d-2"
	res, _, err = f.syncer.ProcessWebhook(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "unchanged", res.Outcome)

	assert.EqualValues(t, 1, countOrders(t, f))
	evts := f.events.Events()
	require.Len(t, evts, 1)
	assert.Equal(t, events.TypeOrderCreated, evts[0].Type)
}

func TestProcessWebhook_WebhookSecretWins(t *testing.T) {
	f := newSyncFixture(t)
	site := f.seedSite(t, "verona-arena")
	require.NoError(t, f.db.Model(&site).Update("webhook_secret", "wh_secret").Error)

	order := wooOrder(101, "100.00", "2024-05-30T10:00:00")
	_, status, err := f.syncer.ProcessWebhook(context.Background(), signedRequest(t, "verona-arena", "cs_test", "", order))
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, http.StatusUnauthorized, status)

	_, status, err = f.syncer.ProcessWebhook(context.Background(), signedRequest(t, "verona-arena", "wh_secret", "", order))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestProcessWebhook_Rejections(t *testing.T) {
	f := newSyncFixture(t)
	f.seedSite(t, "verona-arena")
	closed := f.seedSite(t, "closed-site")
	require.NoError(t, f.db.Model(&closed).Update("is_active", false).Error)
	order := wooOrder(101, "100.00", "2024-05-30T10:00:00")

	tests := []struct {
		name   string
		req    WebhookRequest
		status int
	}{
		{"missing site", signedRequest(t, "", "cs_test", "d", order), http.StatusBadRequest},
		{"unknown site", signedRequest(t, "nope", "cs_test", "d", order), http.StatusNotFound},
		{"inactive site", signedRequest(t, "closed-site", "cs_test", "d", order), http.StatusNotFound},
		{"bad signature", signedRequest(t, "verona-arena", "wrong", "d", order), http.StatusUnauthorized},
		{"missing signature", func() WebhookRequest {
			r := signedRequest(t, "verona-arena", "cs_test", "d", order)
			r.Signature = ""
			return r
		}(), http.StatusUnauthorized},
		{"invalid order", signedRequest(t, "verona-arena", "cs_test", "d-invalid", wooOrder(102, "", "")), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, status, err := f.syncer.ProcessWebhook(context.Background(), tt.req)
			assert.Error(t, err)
			assert.Equal(t, tt.status, status)
		})
	}

	assert.EqualValues(t, 0, countOrders(t, f))
	var keys int64
	require.NoError(t, f.db.Model(&models.IdempotencyKey{}).Count(&keys).Error)
	assert.EqualValues(t, 1, keys, "only the verified delivery is recorded")
}

func TestProcessWebhook_PingAndIgnoredTopics(t *testing.T) {
	f := newSyncFixture(t)
	f.seedSite(t, "verona-arena")

	ping := []byte("webhook_id=15")
	res, status, err := f.syncer.ProcessWebhook(context.Background(), WebhookRequest{
		Site:      "verona-arena",
		Signature: woocommerce.SignWebhookPayload("cs_test", ping),
		Body:      ping,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, res.Ping)

	req := signedRequest(t, "verona-arena", "cs_test", "d-del", wooOrder(101, "100.00", ""))
	req.Topic = "order.deleted"
	res, status, err = f.syncer.ProcessWebhook(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, res.Ignored)
	assert.EqualValues(t, 0, countOrders(t, f))
}

func TestWooCommerceWebhookHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newSyncFixture(t)
	f.seedSite(t, "verona-arena")

	r := gin.New()
	r.POST("/webhooks/woocommerce", WooCommerceWebhookHandler(f.syncer))

	body, err := json.Marshal(wooOrder(101, "100.00", "2024-05-30T10:00:00"))
	require.NoError(t, err)

	send := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/woocommerce?site=verona-arena", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-wc-webhook-signature", signature)
		req.Header.Set("x-wc-webhook-delivery-id", "abc")
		req.Header.Set("x-wc-webhook-topic", "order.created")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := send("bm9wZQ==")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid webhook signature")

	w = send(woocommerce.SignWebhookPayload("cs_test", body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res WebhookResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "verona-arena-101", res.OrderId)
	assert.Equal(t, "created", res.Outcome)
}
