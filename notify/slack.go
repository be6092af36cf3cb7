// Package notify posts operational messages to the office Slack channel.
package notify

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/slack-go/slack"
	"github.com/tourdesk/backoffice/models"
)

type Notifier interface {
	NewBooking(ctx context.Context, order models.Order) error
	SyncRunFinished(ctx context.Context, run models.SyncRun) error
}

// SlackNotifier posts to an incoming webhook. An empty URL turns every call into a no-op.
type SlackNotifier struct {
	WebhookURL string
	post       func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

func NewSlackNotifierFromEnv() *SlackNotifier {
	return NewSlackNotifier(strings.TrimSpace(os.Getenv("SLACK_WEBHOOK_URL")))
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{WebhookURL: webhookURL, post: slack.PostWebhookContext}
}

func (n *SlackNotifier) NewBooking(ctx context.Context, order models.Order) error {
	text := fmt.Sprintf(":ticket: New booking *%s* for %s on %s %s: %d tickets, %s %s (%s)",
		order.OrderId, order.Tour, order.TourDate, order.TourTime,
		order.TotalTickets(), order.TotalCost.StringFixed(2), strings.ToUpper(order.Currency), order.CustomerName)
	return n.send(ctx, text, "good")
}

// SyncRunFinished only reports runs that did not fully succeed.
func (n *SlackNotifier) SyncRunFinished(ctx context.Context, run models.SyncRun) error {
	if run.Status != models.SyncRunStatusFailed && run.Status != models.SyncRunStatusPartial {
		return nil
	}
	site := run.SiteName
	if site == "" {
		site = "all sites"
	}
	color := "warning"
	if run.Status == models.SyncRunStatusFailed {
		color = "danger"
	}
	text := fmt.Sprintf(":warning: WooCommerce sync #%d for %s finished %s: %d synced, %d errors",
		run.ID, site, run.Status, run.RecordsSynced, run.ErrorCount)
	return n.send(ctx, text, color)
}

func (n *SlackNotifier) send(ctx context.Context, text, color string) error {
	if n == nil || n.WebhookURL == "" {
		return nil
	}
	msg := &slack.WebhookMessage{
		Attachments: []slack.Attachment{{Color: color, Text: text, MarkdownIn: []string{"text"}}},
	}
	return n.post(ctx, n.WebhookURL, msg)
}

type Noop struct{}

func (Noop) NewBooking(context.Context, models.Order) error        { return nil }
func (Noop) SyncRunFinished(context.Context, models.SyncRun) error { return nil }
