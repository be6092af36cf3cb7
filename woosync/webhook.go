package woosync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/reconcile"
	"github.com/tourdesk/backoffice/woocommerce"
	"github.com/tourdesk/backoffice/workflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	webhookHandlerName  = "woo-webhook"
	maxWebhookBodyBytes = 5 << 20
)

var (
	ErrMissingSite      = errors.New("site is required")
	ErrUnknownSite      = errors.New("unknown or inactive site")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// WebhookRequest is a WooCommerce delivery stripped of its transport.
type WebhookRequest struct {
	Site       string
	Signature  string
	DeliveryID string
	Topic      string
	Body       []byte
}

type WebhookResult struct {
	Ping      bool   `json:"ping,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
	OrderId   string `json:"order_id,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// ProcessWebhook verifies and applies one order webhook and returns the HTTP status to answer with.
// Nothing is read or written before the signature checks out.
func (s *Syncer) ProcessWebhook(ctx context.Context, req WebhookRequest) (WebhookResult, int, error) {
	ctx, span := tracer.Start(ctx, "woosync.ProcessWebhook", trace.WithAttributes(
		attribute.String("woo.site", req.Site),
		attribute.String("woo.topic", req.Topic),
	))
	defer span.End()

	siteName := strings.TrimSpace(req.Site)
	if siteName == "" {
		return WebhookResult{}, http.StatusBadRequest, ErrMissingSite
	}

	db := s.DB.WithContext(ctx)
	var site models.WooCommerceCredential
	if err := db.Where("site_name = ?", siteName).First(&site).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return WebhookResult{}, http.StatusNotFound, ErrUnknownSite
		}
		return WebhookResult{}, http.StatusInternalServerError, err
	}
	if !site.Active() {
		return WebhookResult{}, http.StatusNotFound, ErrUnknownSite
	}

	// WooCommerce signs with the consumer secret unless the webhook has its own.
	secret := site.WebhookSecret
	if secret == "" {
		secret = site.ConsumerSecret
	}
	if !woocommerce.VerifyWebhookSignature(secret, req.Body, req.Signature) {
		return WebhookResult{}, http.StatusUnauthorized, ErrInvalidSignature
	}

	body := bytes.TrimSpace(req.Body)
	if bytes.HasPrefix(body, []byte("webhook_id=")) {
		return WebhookResult{Ping: true}, http.StatusOK, nil
	}
	topic := strings.TrimSpace(req.Topic)
	if topic != "" && (!strings.HasPrefix(topic, "order.") || topic == "order.deleted") {
		return WebhookResult{Ignored: true}, http.StatusOK, nil
	}

	delivery := workflow.Delivery{Scope: site.SiteName, Handler: webhookHandlerName, MessageId: strings.TrimSpace(req.DeliveryID)}
	if delivery.MessageId != "" {
		skip, err := delivery.Begin(db)
		if errors.Is(err, workflow.ErrIdempotencyInProgress) {
			return WebhookResult{}, http.StatusConflict, err
		}
		if err != nil {
			return WebhookResult{}, http.StatusInternalServerError, err
		}
		if skip {
			return WebhookResult{Duplicate: true}, http.StatusOK, nil
		}
	}

	result, status, err := s.applyWebhookOrder(ctx, site, body)
	if delivery.MessageId != "" {
		if markErr := delivery.Finish(db, err); markErr != nil {
			config.LogError(s.logger(), "woosync", "ProcessWebhook", "idempotency", delivery.MessageId, markErr)
		}
	}
	return result, status, err
}

func (s *Syncer) applyWebhookOrder(ctx context.Context, site models.WooCommerceCredential, body []byte) (WebhookResult, int, error) {
	var wo woocommerce.Order
	if err := json.Unmarshal(body, &wo); err != nil {
		return WebhookResult{}, http.StatusUnprocessableEntity, fmt.Errorf("%w: %v", reconcile.ErrInvalidOrder, err)
	}
	margins, err := reconcile.LoadMarginTable(ctx, s.DB)
	if err != nil {
		return WebhookResult{}, http.StatusInternalServerError, err
	}
	order, err := reconcile.BuildOrder(site, wo, margins)
	if err != nil {
		return WebhookResult{}, http.StatusUnprocessableEntity, err
	}
	res, err := reconcile.UpsertOrder(ctx, s.DB, order)
	if err != nil {
		return WebhookResult{}, http.StatusInternalServerError, err
	}
	s.publishOutcome(ctx, res)

	s.logger().WithField("site_name", site.SiteName).
		WithField("order_id", order.OrderId).
		WithField("outcome", res.Outcome).
		Info("woo webhook applied")
	return WebhookResult{OrderId: order.OrderId, Outcome: string(res.Outcome)}, http.StatusOK, nil
}

// WooCommerceWebhookHandler serves POST /webhooks/woocommerce?site=<site_name>.
func WooCommerceWebhookHandler(s *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
			return
		}

		result, status, err := s.ProcessWebhook(c.Request.Context(), WebhookRequest{
			Site:       c.Query("site"),
			Signature:  c.GetHeader(woocommerce.HeaderWebhookSignature),
			DeliveryID: c.GetHeader(woocommerce.HeaderWebhookDeliveryID),
			Topic:      c.GetHeader(woocommerce.HeaderWebhookTopic),
			Body:       body,
		})
		if err != nil {
			if status >= http.StatusInternalServerError {
				config.LogError(s.logger(), "woosync", "WooCommerceWebhookHandler", "process", c.Query("site"), err)
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(status, result)
	}
}
