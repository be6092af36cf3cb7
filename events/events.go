// Package events announces order changes to other systems.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/models"
)

const (
	TypeOrderCreated = "order.created"
	TypeOrderUpdated = "order.updated"
)

type OrderEvent struct {
	Type       string    `json:"type"`
	OrderId    string    `json:"order_id"`
	SiteName   string    `json:"site_name"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewOrderEvent(eventType string, order models.Order) OrderEvent {
	return OrderEvent{
		Type:       eventType,
		OrderId:    order.OrderId,
		SiteName:   order.SiteName,
		Source:     string(order.Source),
		Status:     string(order.Status),
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event OrderEvent) error
}

// NewPublisherFromEnv picks the backend named by EVENTS_BACKEND (pubsub, rabbitmq or none).
func NewPublisherFromEnv() (Publisher, error) {
	switch backend := strings.ToLower(strings.TrimSpace(os.Getenv("EVENTS_BACKEND"))); backend {
	case "", "none":
		return Noop{}, nil
	case "pubsub":
		return PubSubPublisher{Topic: envDefault("ORDER_EVENTS_TOPIC", "order-events")}, nil
	case "rabbitmq":
		return &RabbitPublisher{Exchange: envDefault("ORDER_EVENTS_EXCHANGE", "orders")}, nil
	default:
		return nil, fmt.Errorf("unknown EVENTS_BACKEND %q", backend)
	}
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

type Noop struct{}

func (Noop) Publish(context.Context, OrderEvent) error { return nil }

type PubSubPublisher struct {
	Topic string
}

func (p PubSubPublisher) Publish(ctx context.Context, event OrderEvent) error {
	_, err := config.PublishJSON(ctx, p.Topic, event, map[string]string{
		"type":      event.Type,
		"site_name": event.SiteName,
	})
	return err
}

// RabbitPublisher publishes to a durable topic exchange with the event type as routing key.
type RabbitPublisher struct {
	Exchange string

	mu       sync.Mutex
	declared bool
}

func (p *RabbitPublisher) Publish(ctx context.Context, event OrderEvent) error {
	if p.Exchange == "" {
		return errors.New("exchange is required")
	}
	ch, err := config.GetRabbitMQChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	p.mu.Lock()
	if !p.declared {
		if err := ch.ExchangeDeclare(p.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			p.mu.Unlock()
			return fmt.Errorf("declare exchange %s: %w", p.Exchange, err)
		}
		p.declared = true
	}
	p.mu.Unlock()
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, p.Exchange, event.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt,
		MessageId:    event.OrderId + ":" + event.Type + ":" + event.OccurredAt.Format(time.RFC3339Nano),
		Body:         body,
	})
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (r *Recorder) Publish(_ context.Context, event OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OrderEvent, len(r.events))
	copy(out, r.events)
	return out
}
