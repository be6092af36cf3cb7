package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	orderevents "github.com/tourdesk/backoffice/events"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/notify"
	"github.com/tourdesk/backoffice/testutil"
	"github.com/tourdesk/backoffice/utils"
	"github.com/tourdesk/backoffice/woocommerce"
	"github.com/tourdesk/backoffice/woosync"
)

func TestHeaderLookup(t *testing.T) {
	req := events.APIGatewayProxyRequest{
		Headers:           map[string]string{"x-wc-webhook-topic": "order.created"},
		MultiValueHeaders: map[string][]string{"X-Wc-Webhook-Delivery-Id": {"d-1", "d-2"}},
	}
	assert.Equal(t, "order.created", header(req, woocommerce.HeaderWebhookTopic))
	assert.Equal(t, "d-1", header(req, woocommerce.HeaderWebhookDeliveryID))
	assert.Empty(t, header(req, woocommerce.HeaderWebhookSignature))
}

func TestHandler(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	require.NoError(t, db.Create(&models.WooCommerceCredential{
		SiteName: "verona-arena", TourName: "Arena di Verona", ApiUrl: "https://arena.example.com",
		ConsumerKey: "ck_test", ConsumerSecret: "cs_test", Timezone: "Europe/Rome", IsActive: utils.NewTrue(),
	}).Error)

	recorder := &orderevents.Recorder{}
	handle := newHandler(&woosync.Syncer{DB: db, Logger: logger, Events: recorder, Notifier: notify.Noop{}})

	body, err := json.Marshal(woocommerce.Order{
		ID: 101, Status: "processing", Total: "100.00", Currency: "eur",
		DateCreatedGmt: "2024-05-30T10:00:00",
		Billing:        woocommerce.Billing{FirstName: "Ada", LastName: "Rossi", Email: "ada@example.com"},
		LineItems:      []woocommerce.LineItem{{Name: "Adult x2", Quantity: 1}},
	})
	require.NoError(t, err)

	request := func(signature string) events.APIGatewayProxyRequest {
		return events.APIGatewayProxyRequest{
			QueryStringParameters: map[string]string{"site": "verona-arena"},
			Headers: map[string]string{
				"x-wc-webhook-signature":   signature,
				"x-wc-webhook-topic":       "order.created",
				"x-wc-webhook-delivery-id": "delivery-1",
			},
			Body:            base64.StdEncoding.EncodeToString(body),
			IsBase64Encoded: true,
		}
	}

	resp, err := handle(context.Background(), request("bogus"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = handle(context.Background(), request(woocommerce.SignWebhookPayload("cs_test", body)))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	var result woosync.WebhookResult
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &result))
	assert.Equal(t, "verona-arena-101", result.OrderId)
	assert.Equal(t, "created", result.Outcome)
	assert.Len(t, recorder.Events(), 1)

	resp, err = handle(context.Background(), request(woocommerce.SignWebhookPayload("cs_test", body)))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &result))
	assert.True(t, result.Duplicate, "the same delivery id is applied once")

	bad := request("x")
	bad.Body = "%%%"
	resp, err = handle(context.Background(), bad)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
