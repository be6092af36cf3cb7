package reconcile

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/utils"
	"github.com/tourdesk/backoffice/woocommerce"
)

var (
	// ErrInvalidOrder marks payloads that cannot become an order. The sync skips and counts them.
	ErrInvalidOrder      = errors.New("invalid order")
	ErrMalformedOrderKey = errors.New("malformed order key")
)

var (
	tourDateKeys = []string{"date", "tour_date", "booking_date", "data"}
	tourTimeKeys = []string{"time", "tour_time", "booking_time", "ora"}
)

// OrderKey is the internal order id: "{site}-{wooOrderId}".
func OrderKey(site, externalID string) string {
	return site + "-" + externalID
}

// ParseOrderKey splits on the last '-' since site names may contain dashes.
func ParseOrderKey(key string) (site string, externalID string, err error) {
	i := strings.LastIndex(key, "-")
	if i <= 0 || i == len(key)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedOrderKey, key)
	}
	return key[:i], key[i+1:], nil
}

// BuildOrder maps a WooCommerce order of site into an internal order, profit included.
func BuildOrder(site models.WooCommerceCredential, wo woocommerce.Order, margins MarginTable) (models.Order, error) {
	externalID := wo.ExternalID()
	if externalID == "" {
		return models.Order{}, fmt.Errorf("%w: missing id", ErrInvalidOrder)
	}
	total, err := decimal.NewFromString(strings.TrimSpace(wo.Total))
	if err != nil {
		return models.Order{}, fmt.Errorf("%w: order %s total %q: %v", ErrInvalidOrder, externalID, wo.Total, err)
	}

	tickets := TicketsFromLineItems(wo.LineItems)
	percent := margins.Lookup(site.TourName)
	if site.ProfitMargin != nil {
		percent = *site.ProfitMargin
	}
	profit := CalculateProfit(tickets, total, percent)

	order := models.Order{
		OrderId:         OrderKey(site.SiteName, externalID),
		Source:          models.OrderSourceWooCommerce,
		SiteName:        site.SiteName,
		ExternalOrderId: externalID,
		Tour:            site.TourName,
		TourTimezone:    site.Timezone,
		Tickets:         profit.Tickets,
		Status:          MapOrderStatus(wo.Status),
		Tags:            []string{},
		Currency:        strings.ToUpper(strings.TrimSpace(wo.Currency)),
		TotalCost:       total,
		TotalTicketCost: profit.TotalTicketCost,
		ProjectedProfit: profit.ProjectedProfit,
		PaymentMethod:   InferPaymentMethod(wo.PaymentMethod, wo.PaymentMethodTitle),
		TransactionId:   utils.StringPtr(wo.TransactionID),
		CustomerName:    wo.Billing.FullName(),
		CustomerEmail:   strings.ToLower(strings.TrimSpace(wo.Billing.Email)),
		CustomerPhone:   normalizePhone(wo.Billing.Phone, wo.Billing.Country),
		BillingAddress:  utils.StringPtr(wo.Billing.Address()),
		BillingCity:     utils.StringPtr(wo.Billing.City),
		BillingPostcode: utils.StringPtr(wo.Billing.Postcode),
		BillingCountry:  utils.StringPtr(strings.ToUpper(wo.Billing.Country)),
		OfficialUrl:     utils.StringPtr(site.WebsiteUrl),
		PurchasedAt:     purchasedAt(wo, site.Location()),
	}

	if pd, ok := MapPaymentData(wo.Status); ok {
		status := pd.Status
		captured := pd.Captured
		order.PaymentStatus = &status
		order.PaymentCaptured = &captured
	}

	for _, li := range wo.LineItems {
		if order.TourDate == "" {
			order.TourDate = normalizeTourDate(li.Meta(tourDateKeys...))
		}
		if order.TourTime == "" {
			order.TourTime = li.Meta(tourTimeKeys...)
		}
	}
	return order, nil
}

func purchasedAt(wo woocommerce.Order, loc *time.Location) *time.Time {
	if wo.DateCreatedGmt != "" {
		if t, err := utils.ParseWooTime(wo.DateCreatedGmt, time.UTC); err == nil {
			return &t
		}
	}
	if wo.DateCreated != "" {
		if t, err := utils.ParseWooTime(wo.DateCreated, loc); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// normalizeTourDate returns YYYY-MM-DD when the meta value parses, otherwise the raw text.
func normalizeTourDate(raw string) string {
	if raw == "" {
		return ""
	}
	if t, err := utils.ParseISODate(raw); err == nil {
		return t.Format(utils.ISODateLayout)
	}
	for _, layout := range []string{"02/01/2006", "2/1/2006", "January 2, 2006", "2 January 2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(utils.ISODateLayout)
		}
	}
	return raw
}

func normalizePhone(raw, country string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	region := strings.ToUpper(strings.TrimSpace(country))
	if region == "" {
		region = utils.DefaultPhoneRegion()
	}
	if e164, err := utils.NormalizePhoneNumber(raw, region); err == nil {
		return e164
	}
	return raw
}
