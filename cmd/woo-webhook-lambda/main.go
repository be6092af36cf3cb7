// woo-webhook-lambda serves the WooCommerce order webhook from AWS Lambda
// behind API Gateway. It shares ProcessWebhook with the HTTP server, so the
// signature, idempotency and upsert rules are identical.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/tourdesk/backoffice/config"
	orderevents "github.com/tourdesk/backoffice/events"
	"github.com/tourdesk/backoffice/notify"
	"github.com/tourdesk/backoffice/woocommerce"
	"github.com/tourdesk/backoffice/woosync"
)

type webhookFunc func(ctx context.Context, request events.APIGatewayProxyRequest) (*events.APIGatewayProxyResponse, error)

// header looks a name up case-insensitively; API Gateway keeps the client's casing.
func header(request events.APIGatewayProxyRequest, name string) string {
	if v, ok := request.Headers[name]; ok {
		return v
	}
	for k, v := range request.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	for k, v := range request.MultiValueHeaders {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func jsonResponse(status int, data any) (*events.APIGatewayProxyResponse, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return &events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Error"}, nil
	}
	return &events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}, nil
}

func newHandler(s *woosync.Syncer) webhookFunc {
	return func(ctx context.Context, request events.APIGatewayProxyRequest) (*events.APIGatewayProxyResponse, error) {
		body := []byte(request.Body)
		if request.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(request.Body)
			if err != nil {
				return jsonResponse(http.StatusBadRequest, map[string]string{"error": "cannot decode body"})
			}
			body = decoded
		}

		site := request.QueryStringParameters["site"]
		result, status, err := s.ProcessWebhook(ctx, woosync.WebhookRequest{
			Site:       site,
			Signature:  header(request, woocommerce.HeaderWebhookSignature),
			DeliveryID: header(request, woocommerce.HeaderWebhookDeliveryID),
			Topic:      header(request, woocommerce.HeaderWebhookTopic),
			Body:       body,
		})
		if err != nil {
			if status >= http.StatusInternalServerError {
				config.LogError(config.GetLogger(), "woo-webhook-lambda", "handler", "process", site, err)
			}
			return jsonResponse(status, map[string]string{"error": err.Error()})
		}
		return jsonResponse(status, result)
	}
}

func main() {
	// connections survive between invocations of a warm container
	config.ConnectDatabaseWithRetry()

	publisher, err := orderevents.NewPublisherFromEnv()
	if err != nil {
		config.GetLogger().WithField("field", "events").Warn(err.Error() + "; order events disabled")
		publisher = orderevents.Noop{}
	}
	lambda.Start(newHandler(woosync.NewSyncer(publisher, notify.Noop{})))
}
