package booking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/events"
	"github.com/tourdesk/backoffice/mailer"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/notify"
	"github.com/tourdesk/backoffice/reconcile"
	"github.com/tourdesk/backoffice/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	CounterKey    = "DirectBooking:Counter"
	OrderIdPrefix = "LP-"
	// attempts at a free LP number when redis is down and the DB count races
	maxOrderIdAttempts = 5
)

var tracer = otel.Tracer("github.com/tourdesk/backoffice/booking")

type Service struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Payments PaymentGateway
	Events   events.Publisher
	Notifier notify.Notifier
	// Sequence returns the next LP number. ok=false falls back to counting orders.
	Sequence func(ctx context.Context) (n int64, ok bool, err error)

	now func() time.Time
}

func NewService(payments PaymentGateway, publisher events.Publisher, notifier notify.Notifier) *Service {
	s := &Service{
		DB:       config.GetDB(),
		Logger:   config.GetLogger(),
		Payments: payments,
		Events:   publisher,
		Notifier: notifier,
		now:      time.Now,
	}
	s.Sequence = s.redisSequence
	return s
}

func (s *Service) logger() *logrus.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return config.GetLogger()
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// quote is a priced cart.
type quote struct {
	tour    models.LandingTour
	tickets []models.Ticket
	total   decimal.Decimal
	phone   string
}

func (s *Service) prepare(ctx context.Context, req BookingRequest) (quote, error) {
	if err := utils.ValidateStruct(&req); err != nil {
		return quote{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	phone, err := utils.NormalizePhoneNumber(req.Customer.Phone, utils.DefaultPhoneRegion())
	if err != nil {
		return quote{}, fmt.Errorf("%w: %v", ErrInvalidPhone, err)
	}

	tour, err := models.GetLandingTourBySlug(ctx, req.TourSlug)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return quote{}, ErrUnknownTour
		}
		return quote{}, err
	}

	day, _ := utils.ParseISODate(req.TourDate)
	loc, err := time.LoadLocation(tour.Timezone)
	if err != nil {
		loc = time.UTC
	}
	today := s.clock().In(loc).Format(utils.ISODateLayout)
	if day.Format(utils.ISODateLayout) < today {
		return quote{}, fmt.Errorf("%w: tour_date %s is in the past", ErrInvalidRequest, req.TourDate)
	}

	q := quote{tour: *tour, phone: phone}
	for _, t := range req.Tickets {
		price, ok := tour.PriceFor(t.Type)
		if !ok {
			return quote{}, fmt.Errorf("%w: %q", ErrUnknownTicketType, t.Type)
		}
		q.tickets = append(q.tickets, models.Ticket{Type: strings.TrimSpace(t.Type), Quantity: t.Quantity})
		q.total = q.total.Add(price.Mul(decimal.NewFromInt(int64(t.Quantity))))
	}
	return q, nil
}

// Book charges the customer and, only if Stripe reports "succeeded", stores the order
// and queues the confirmation email in one transaction.
func (s *Service) Book(ctx context.Context, req BookingRequest, idempotencyKey string) (*models.Order, error) {
	ctx, span := tracer.Start(ctx, "booking.Book", trace.WithAttributes(attribute.String("tour.slug", req.TourSlug)))
	defer span.End()

	q, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	margin := reconcile.MarginTable{}
	if q.tour.ProfitMargin != nil {
		margin.Set(q.tour.Name, *q.tour.ProfitMargin)
	} else if margin, err = reconcile.LoadMarginTable(ctx, s.DB); err != nil {
		return nil, err
	}
	profit := reconcile.CalculateProfit(q.tickets, q.total, margin.Lookup(q.tour.Name))

	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	payment, err := s.Payments.Charge(ctx, Charge{
		Amount:          q.total,
		Currency:        q.tour.Currency,
		PaymentMethodId: req.PaymentMethodId,
		Description:     fmt.Sprintf("%s %s %s", q.tour.Name, req.TourDate, req.TourTime),
		ReceiptEmail:    req.Customer.Email,
		IdempotencyKey:  idempotencyKey,
		Metadata: map[string]string{
			"tour_slug": q.tour.Slug,
			"tour_date": req.TourDate,
		},
	})
	if err != nil {
		return nil, err
	}
	if payment.Status != string(stripe.PaymentIntentStatusSucceeded) {
		return nil, &PaymentError{Status: payment.Status, PaymentIntentId: payment.PaymentIntentId}
	}
	span.SetAttributes(attribute.String("stripe.payment_intent", payment.PaymentIntentId))

	// Stripe answers a resubmitted idempotency key with the intent it already confirmed.
	if existing, err := s.orderForPayment(ctx, s.DB, payment.PaymentIntentId); err != nil {
		return nil, err
	} else if existing != nil {
		s.logger().WithFields(logrus.Fields{
			"order_id":          existing.OrderId,
			"payment_intent_id": payment.PaymentIntentId,
		}).Info("booking resubmitted for a recorded payment")
		return existing, nil
	}

	now := s.clock().UTC()
	order := models.Order{
		Source:          models.OrderSourceDirect,
		SiteName:        q.tour.Slug,
		Tour:            q.tour.Name,
		TourDate:        req.TourDate,
		TourTime:        strings.TrimSpace(req.TourTime),
		TourTimezone:    q.tour.Timezone,
		Tickets:         profit.Tickets,
		Status:          models.OrderStatusUnprocessed,
		Tags:            []string{},
		Currency:        strings.ToUpper(q.tour.Currency),
		TotalCost:       q.total,
		TotalTicketCost: profit.TotalTicketCost,
		ProjectedProfit: profit.ProjectedProfit,
		PaymentMethod:   utils.StringPtr("card"),
		PaymentStatus:   utils.StringPtr(string(stripe.PaymentIntentStatusSucceeded)),
		PaymentCaptured: utils.NewTrue(),
		TransactionId:   utils.StringPtr(payment.PaymentIntentId),
		CustomerName:    strings.TrimSpace(req.Customer.Name),
		CustomerEmail:   strings.ToLower(strings.TrimSpace(req.Customer.Email)),
		CustomerPhone:   q.phone,
		PurchasedAt:     &now,
	}

	if err := s.record(ctx, &order); errors.Is(err, errPaymentRecorded) {
		return &order, nil
	} else if err != nil {
		// the card is charged; support needs the intent id to refund or re-enter the order
		s.logger().WithFields(logrus.Fields{
			"module":            "booking",
			"payment_intent_id": payment.PaymentIntentId,
			"customer_email":    order.CustomerEmail,
			"total":             order.TotalCost.StringFixed(2),
		}).Error("booking not recorded after payment: " + err.Error())
		return nil, fmt.Errorf("%w (payment %s)", ErrBookingNotRecorded, payment.PaymentIntentId)
	}

	if s.Notifier != nil {
		if err := s.Notifier.NewBooking(ctx, order); err != nil {
			config.LogError(s.logger(), "booking", "Book", "slack", order.OrderId, err)
		}
	}
	if s.Events != nil {
		if err := s.Events.Publish(ctx, events.NewOrderEvent(events.TypeOrderCreated, order)); err != nil {
			config.LogError(s.logger(), "booking", "Book", "publish", order.OrderId, err)
		}
	}
	s.logger().WithFields(logrus.Fields{
		"order_id":          order.OrderId,
		"payment_intent_id": payment.PaymentIntentId,
		"total":             order.TotalCost.StringFixed(2),
	}).Info("direct booking recorded")
	return &order, nil
}

// record assigns the LP number and writes the order plus its confirmation email.
func (s *Service) record(ctx context.Context, order *models.Order) error {
	var lastErr error
	for attempt := 0; attempt < maxOrderIdAttempts; attempt++ {
		seq, err := s.nextSequence(ctx, attempt)
		if err != nil {
			return err
		}
		order.OrderId = OrderIdPrefix + strconv.FormatInt(seq, 10)
		order.ExternalOrderId = strconv.FormatInt(seq, 10)

		subject, body, err := mailer.RenderBookingConfirmation(*order)
		if err != nil {
			return err
		}

		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			existing, err := s.orderForPayment(ctx, tx, utils.DereferencePtr(order.TransactionId, ""))
			if err != nil {
				return err
			}
			if existing != nil {
				*order = *existing
				return errPaymentRecorded
			}
			var taken int64
			if err := tx.Model(&models.Order{}).Where("order_id = ?", order.OrderId).Count(&taken).Error; err != nil {
				return err
			}
			if taken > 0 {
				return gorm.ErrDuplicatedKey
			}
			order.ID = 0
			if err := tx.Create(order).Error; err != nil {
				return err
			}
			return models.EnqueueEmail(tx, &models.EmailOutbox{
				OrderId:  order.OrderId,
				ToEmail:  order.CustomerEmail,
				ToName:   order.CustomerName,
				Subject:  subject,
				HtmlBody: body,
			})
		})
		if err == nil {
			return nil
		}
		if !utils.IsDuplicateKeyErr(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("no free order id after %d attempts: %w", maxOrderIdAttempts, lastErr)
}

var errPaymentRecorded = errors.New("payment already recorded")

// orderForPayment returns the direct order already holding paymentIntentId, or nil.
func (s *Service) orderForPayment(ctx context.Context, db *gorm.DB, paymentIntentId string) (*models.Order, error) {
	if paymentIntentId == "" {
		return nil, nil
	}
	var order models.Order
	err := db.WithContext(ctx).
		Where("source = ? AND transaction_id = ?", models.OrderSourceDirect, paymentIntentId).
		Order("id ASC").
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Service) nextSequence(ctx context.Context, attempt int) (int64, error) {
	if s.Sequence != nil {
		n, ok, err := s.Sequence(ctx)
		if err != nil {
			config.LogError(s.logger(), "booking", "nextSequence", "redis", CounterKey, err)
		} else if ok {
			return n, nil
		}
	}
	count, err := s.countDirectOrders(ctx)
	if err != nil {
		return 0, err
	}
	return count + 1 + int64(attempt), nil
}

func (s *Service) countDirectOrders(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Order{}).
		Where("source = ?", models.OrderSourceDirect).
		Count(&n).Error
	return n, err
}

// redisSequence seeds the counter from the DB the first time so numbering
// continues after orders written while redis was unavailable.
func (s *Service) redisSequence(ctx context.Context) (int64, bool, error) {
	if config.GetRedisDB() == nil {
		return 0, false, nil
	}
	floor, err := s.countDirectOrders(ctx)
	if err != nil {
		return 0, false, err
	}
	if err := config.SeedRedisCounter(ctx, CounterKey, floor); err != nil {
		return 0, false, err
	}
	return config.GetRedisCounter(ctx, CounterKey)
}

// Tour returns the public price list of an active landing tour.
func (s *Service) Tour(ctx context.Context, slug string) (TourResponse, error) {
	tour, err := models.GetLandingTourBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return TourResponse{}, ErrUnknownTour
		}
		return TourResponse{}, err
	}
	resp := TourResponse{
		Slug:     tour.Slug,
		Name:     tour.Name,
		Currency: tour.Currency,
		Timezone: tour.Timezone,
		Prices:   make([]TicketPriceResponse, 0, len(tour.Prices)),
	}
	for _, p := range tour.Prices {
		resp.Prices = append(resp.Prices, TicketPriceResponse{Type: p.Type, UnitPrice: p.UnitPrice.StringFixed(2)})
	}
	return resp, nil
}
