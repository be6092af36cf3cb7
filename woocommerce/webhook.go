package woocommerce

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

const (
	HeaderWebhookSignature  = "X-WC-Webhook-Signature"
	HeaderWebhookDeliveryID = "X-WC-Webhook-Delivery-ID"
	HeaderWebhookTopic      = "X-WC-Webhook-Topic"
)

// SignWebhookPayload returns base64(HMAC-SHA256(secret, body)), the value WooCommerce sends.
func SignWebhookPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature compares in constant time. An empty secret or signature never verifies.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return false
	}
	expected := SignWebhookPayload(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
