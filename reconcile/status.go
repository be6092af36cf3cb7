package reconcile

import (
	"strings"

	"github.com/tourdesk/backoffice/models"
)

// WooCommerce "processing" means paid and waiting for the office, which is our
// "unprocessed". Every path that maps statuses goes through MapOrderStatus.
var orderStatusMap = map[string]models.OrderStatus{
	"pending":         models.OrderStatusPending,
	"processing":      models.OrderStatusUnprocessed,
	"on-hold":         models.OrderStatusOnHold,
	"completed":       models.OrderStatusCompleted,
	"cancelled":       models.OrderStatusCancelled,
	"refunded":        models.OrderStatusRefunded,
	"failed":          models.OrderStatusFailed,
	"pending-payment": models.OrderStatusPendingPayment,
}

func MapOrderStatus(wooStatus string) models.OrderStatus {
	if s, ok := orderStatusMap[strings.ToLower(strings.TrimSpace(wooStatus))]; ok {
		return s
	}
	return models.OrderStatusUnprocessed
}

type PaymentData struct {
	Status   string
	Captured bool
}

var paymentDataMap = map[string]PaymentData{
	"completed":  {Status: "succeeded", Captured: true},
	"processing": {Status: "processing", Captured: true},
	"pending":    {Status: "pending", Captured: false},
	"failed":     {Status: "failed", Captured: false},
	"cancelled":  {Status: "canceled", Captured: false},
	"refunded":   {Status: "refunded", Captured: true},
}

// MapPaymentData returns false for order statuses that say nothing about the payment.
func MapPaymentData(wooStatus string) (PaymentData, bool) {
	pd, ok := paymentDataMap[strings.ToLower(strings.TrimSpace(wooStatus))]
	return pd, ok
}

const (
	PaymentMethodAirwallex = "airwallex"
	PaymentMethodCard      = "card"
	PaymentMethodPaypal    = "paypal"
)

// InferPaymentMethod looks at the gateway id and its title, in priority order
// airwallex, stripe/card, paypal. Otherwise the raw value is kept.
func InferPaymentMethod(method, title string) *string {
	haystack := strings.ToLower(method + " " + title)
	var out string
	switch {
	case strings.Contains(haystack, "airwallex"):
		out = PaymentMethodAirwallex
	case strings.Contains(haystack, "stripe"), strings.Contains(haystack, "card"):
		out = PaymentMethodCard
	case strings.Contains(haystack, "paypal"):
		out = PaymentMethodPaypal
	case strings.TrimSpace(method) != "":
		out = strings.TrimSpace(method)
	case strings.TrimSpace(title) != "":
		out = strings.TrimSpace(title)
	default:
		return nil
	}
	return &out
}
