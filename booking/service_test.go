package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourdesk/backoffice/events"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/testutil"
	"github.com/tourdesk/backoffice/utils"
	"gorm.io/gorm"
)

type fakeGateway struct {
	mu      sync.Mutex
	status  string
	err     error
	charges []Charge
}

func (g *fakeGateway) Charge(_ context.Context, charge Charge) (PaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, charge)
	if g.err != nil {
		return PaymentResult{}, g.err
	}
	return PaymentResult{PaymentIntentId: "pi_" + charge.IdempotencyKey, Status: g.status}, nil
}

type recordingNotifier struct {
	bookings []models.Order
}

func (n *recordingNotifier) NewBooking(_ context.Context, order models.Order) error {
	n.bookings = append(n.bookings, order)
	return nil
}

func (n *recordingNotifier) SyncRunFinished(context.Context, models.SyncRun) error { return nil }

type bookingFixture struct {
	db       *gorm.DB
	svc      *Service
	gateway  *fakeGateway
	events   *events.Recorder
	notifier *recordingNotifier
}

func newBookingFixture(t *testing.T) *bookingFixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	f := &bookingFixture{
		db:       db,
		gateway:  &fakeGateway{status: "succeeded"},
		events:   &events.Recorder{},
		notifier: &recordingNotifier{},
	}
	f.svc = NewService(f.gateway, f.events, f.notifier)
	f.svc.DB = db
	f.svc.Sequence = nil
	f.svc.now = func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }

	require.NoError(t, db.Create(&models.LandingTour{
		Slug:     "colosseum",
		Name:     "Colosseum Underground",
		Currency: "eur",
		Timezone: "Europe/Rome",
		Prices: []models.TicketPrice{
			{Type: "Adult", UnitPrice: decimal.NewFromInt(49)},
			{Type: "Child", UnitPrice: decimal.NewFromInt(30)},
		},
		IsActive: utils.NewTrue(),
	}).Error)
	return f
}

func validRequest() BookingRequest {
	return BookingRequest{
		TourSlug: "colosseum",
		TourDate: "2024-07-01",
		TourTime: "10:30",
		Tickets:  []TicketRequest{{Type: "adult", Quantity: 2}},
		Customer: CustomerRequest{
			Name:  "Anna Rossi",
			Email: "Anna@Example.com",
			Phone: "347 123 4567",
		},
		PaymentMethodId: "pm_card_visa",
	}
}

func TestBook_RecordsPaidOrder(t *testing.T) {
	f := newBookingFixture(t)

	order, err := f.svc.Book(context.Background(), validRequest(), "k-1")
	require.NoError(t, err)

	assert.Equal(t, "LP-1", order.OrderId)
	assert.Equal(t, models.OrderSourceDirect, order.Source)
	assert.Equal(t, models.OrderStatusUnprocessed, order.Status)
	assert.True(t, order.TotalCost.Equal(decimal.NewFromInt(98)))
	assert.True(t, order.TotalTicketCost.Equal(decimal.NewFromInt(76)))
	assert.True(t, order.ProjectedProfit.Equal(decimal.NewFromInt(22)))
	assert.Equal(t, "anna@example.com", order.CustomerEmail)
	assert.Equal(t, "+393471234567", order.CustomerPhone)
	assert.Equal(t, "EUR", order.Currency)
	require.NotNil(t, order.TransactionId)
	assert.Equal(t, "pi_k-1", *order.TransactionId)
	assert.Equal(t, "card", *order.PaymentMethod)
	assert.Equal(t, "succeeded", *order.PaymentStatus)
	assert.True(t, *order.PaymentCaptured)

	require.Len(t, f.gateway.charges, 1)
	charge := f.gateway.charges[0]
	assert.True(t, charge.Amount.Equal(decimal.NewFromInt(98)))
	assert.Equal(t, "eur", charge.Currency)
	assert.Equal(t, "pm_card_visa", charge.PaymentMethodId)
	assert.Equal(t, "k-1", charge.IdempotencyKey)

	var stored models.Order
	require.NoError(t, f.db.Where("order_id = ?", "LP-1").First(&stored).Error)
	require.Len(t, stored.Tickets, 1)
	assert.Equal(t, 2, stored.Tickets[0].Quantity)
	assert.True(t, stored.Tickets[0].CostPerTicket.Equal(decimal.NewFromInt(38)))

	var email models.EmailOutbox
	require.NoError(t, f.db.Where("order_id = ?", "LP-1").First(&email).Error)
	assert.Equal(t, models.EmailStatusPending, email.Status)
	assert.Equal(t, "anna@example.com", email.ToEmail)
	assert.Contains(t, email.Subject, "Colosseum Underground")

	require.Len(t, f.notifier.bookings, 1)
	evts := f.events.Events()
	require.Len(t, evts, 1)
	assert.Equal(t, events.TypeOrderCreated, evts[0].Type)
	assert.Equal(t, "LP-1", evts[0].OrderId)

	order, err = f.svc.Book(context.Background(), validRequest(), "k-2")
	require.NoError(t, err)
	assert.Equal(t, "LP-2", order.OrderId)
}

func TestBook_SameIdempotencyKeyRecordsOneOrder(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	first, err := f.svc.Book(ctx, validRequest(), "same-key")
	require.NoError(t, err)
	second, err := f.svc.Book(ctx, validRequest(), "same-key")
	require.NoError(t, err)

	assert.Equal(t, first.OrderId, second.OrderId)
	assert.Equal(t, first.ID, second.ID)

	var orders, emails int64
	require.NoError(t, f.db.Model(&models.Order{}).Where("transaction_id = ?", "pi_same-key").Count(&orders).Error)
	require.NoError(t, f.db.Model(&models.EmailOutbox{}).Count(&emails).Error)
	assert.EqualValues(t, 1, orders)
	assert.EqualValues(t, 1, emails)
	assert.Len(t, f.notifier.bookings, 1)
	assert.Len(t, f.events.Events(), 1)
	assert.Len(t, f.gateway.charges, 2, "stripe deduplicates the charge itself")
}

func TestBook_PaymentNotSucceeded(t *testing.T) {
	for _, status := range []string{"requires_action", "processing", "requires_payment_method"} {
		t.Run(status, func(t *testing.T) {
			f := newBookingFixture(t)
			f.gateway.status = status

			_, err := f.svc.Book(context.Background(), validRequest(), "k-1")
			var perr *PaymentError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, status, perr.Status)
			assert.Equal(t, "pi_k-1", perr.PaymentIntentId)

			var orders, emails int64
			require.NoError(t, f.db.Model(&models.Order{}).Count(&orders).Error)
			require.NoError(t, f.db.Model(&models.EmailOutbox{}).Count(&emails).Error)
			assert.Zero(t, orders)
			assert.Zero(t, emails)
			assert.Empty(t, f.events.Events())
			assert.Empty(t, f.notifier.bookings)
		})
	}
}

func TestBook_DeclinedCard(t *testing.T) {
	f := newBookingFixture(t)
	f.gateway.err = &PaymentError{Status: "requires_payment_method", Message: "Your card was declined."}

	_, err := f.svc.Book(context.Background(), validRequest(), "")
	var perr *PaymentError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Error(), "declined")
	require.Len(t, f.gateway.charges, 1)
	assert.NotEmpty(t, f.gateway.charges[0].IdempotencyKey, "a key is generated when the client sends none")
}

func TestBook_RejectsBeforeCharging(t *testing.T) {
	f := newBookingFixture(t)

	tests := []struct {
		name   string
		mutate func(r *BookingRequest)
		want   error
	}{
		{"unknown tour", func(r *BookingRequest) { r.TourSlug = "vatican" }, ErrUnknownTour},
		{"unknown ticket type", func(r *BookingRequest) { r.Tickets = []TicketRequest{{Type: "Senior", Quantity: 1}} }, ErrUnknownTicketType},
		{"bad phone", func(r *BookingRequest) { r.Customer.Phone = "12" }, ErrInvalidPhone},
		{"past date", func(r *BookingRequest) { r.TourDate = "2024-05-31" }, ErrInvalidRequest},
		{"bad date", func(r *BookingRequest) { r.TourDate = "01/07/2024" }, ErrInvalidRequest},
		{"no tickets", func(r *BookingRequest) { r.Tickets = nil }, ErrInvalidRequest},
		{"zero quantity", func(r *BookingRequest) { r.Tickets[0].Quantity = 0 }, ErrInvalidRequest},
		{"bad email", func(r *BookingRequest) { r.Customer.Email = "anna" }, ErrInvalidRequest},
		{"missing payment method", func(r *BookingRequest) { r.PaymentMethodId = "" }, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := f.svc.Book(context.Background(), req, "k")
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.gateway.charges)
}

func TestBook_SkipsTakenOrderIds(t *testing.T) {
	f := newBookingFixture(t)
	require.NoError(t, f.db.Create(&models.Order{OrderId: "LP-1", Source: models.OrderSourceWooCommerce, Status: models.OrderStatusUnprocessed}).Error)

	order, err := f.svc.Book(context.Background(), validRequest(), "k-1")
	require.NoError(t, err)
	assert.Equal(t, "LP-2", order.OrderId)
}

func TestBook_UsesSequenceWhenAvailable(t *testing.T) {
	f := newBookingFixture(t)
	next := int64(41)
	f.svc.Sequence = func(context.Context) (int64, bool, error) {
		next++
		return next, true, nil
	}
	order, err := f.svc.Book(context.Background(), validRequest(), "k-1")
	require.NoError(t, err)
	assert.Equal(t, "LP-42", order.OrderId)
	assert.Equal(t, "42", order.ExternalOrderId)

	f.svc.Sequence = func(context.Context) (int64, bool, error) { return 0, false, errors.New("redis down") }
	order, err = f.svc.Book(context.Background(), validRequest(), "k-2")
	require.NoError(t, err)
	assert.Equal(t, "LP-2", order.OrderId, "falls back to counting direct orders")
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(9800), MinorUnits(decimal.NewFromInt(98), "EUR"))
	assert.Equal(t, int64(1999), MinorUnits(decimal.RequireFromString("19.99"), "usd"))
	assert.Equal(t, int64(5000), MinorUnits(decimal.NewFromInt(5000), "jpy"))
}

func TestTour(t *testing.T) {
	f := newBookingFixture(t)
	tour, err := f.svc.Tour(context.Background(), "colosseum")
	require.NoError(t, err)
	assert.Equal(t, "Colosseum Underground", tour.Name)
	require.Len(t, tour.Prices, 2)
	assert.Equal(t, TicketPriceResponse{Type: "Adult", UnitPrice: "49.00"}, tour.Prices[0])

	_, err = f.svc.Tour(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownTour)
}
