// Package booking sells landing-page tickets: it prices the cart, charges the
// card through Stripe and records the paid order.
package booking

import (
	"errors"
	"fmt"
)

type TicketRequest struct {
	Type     string `json:"type" validate:"required,max=100"`
	Quantity int    `json:"quantity" validate:"min=1,max=50"`
}

type CustomerRequest struct {
	Name  string `json:"name" validate:"required,max=255"`
	Email string `json:"email" validate:"required,email,max=255"`
	Phone string `json:"phone" validate:"required,max=32"`
}

type BookingRequest struct {
	TourSlug        string          `json:"tour_slug" validate:"required,max=100"`
	TourDate        string          `json:"tour_date" validate:"required,isodate"`
	TourTime        string          `json:"tour_time" validate:"omitempty,max=32"`
	Tickets         []TicketRequest `json:"tickets" validate:"required,min=1,max=10,dive"`
	Customer        CustomerRequest `json:"customer"`
	PaymentMethodId string          `json:"payment_method_id" validate:"required,startswith=pm_"`
}

type BookingResponse struct {
	OrderId         string `json:"order_id"`
	Status          string `json:"status"`
	Tour            string `json:"tour"`
	TourDate        string `json:"tour_date"`
	TourTime        string `json:"tour_time,omitempty"`
	Total           string `json:"total"`
	Currency        string `json:"currency"`
	PaymentIntentId string `json:"payment_intent_id"`
}

type TicketPriceResponse struct {
	Type      string `json:"type"`
	UnitPrice string `json:"unit_price"`
}

type TourResponse struct {
	Slug     string                `json:"slug"`
	Name     string                `json:"name"`
	Currency string                `json:"currency"`
	Timezone string                `json:"timezone"`
	Prices   []TicketPriceResponse `json:"prices"`
}

var (
	ErrInvalidRequest    = errors.New("invalid booking")
	ErrInvalidPhone      = errors.New("invalid phone number")
	ErrUnknownTour       = errors.New("tour not found")
	ErrUnknownTicketType = errors.New("unknown ticket type")
	// ErrBookingNotRecorded means the card was charged but the order could not be saved.
	ErrBookingNotRecorded = errors.New("payment captured but the booking could not be recorded")
)

// PaymentError is a charge that did not end in "succeeded". Nothing is stored for it.
type PaymentError struct {
	Status          string
	PaymentIntentId string
	Message         string
}

func (e *PaymentError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("payment %s: %s", e.Status, e.Message)
	}
	return "payment " + e.Status
}
