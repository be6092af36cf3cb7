// Package inbox looks up customer correspondence in the shared Gmail mailbox.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const (
	DefaultMaxResults  = 25
	maxResultsCap      = 100
	defaultConcurrency = 5
)

var ErrInvalidEmail = errors.New("invalid email address")

type MessageSummary struct {
	Id        string     `json:"id"`
	ThreadId  string     `json:"thread_id"`
	From      string     `json:"from,omitempty"`
	To        string     `json:"to,omitempty"`
	Subject   string     `json:"subject,omitempty"`
	Snippet   string     `json:"snippet,omitempty"`
	Date      *time.Time `json:"date,omitempty"`
	Direction string     `json:"direction,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Searcher is what the orders API needs from the mailbox.
type Searcher interface {
	SearchCustomerMessages(ctx context.Context, email string, max int64) ([]MessageSummary, error)
}

type Client struct {
	svc *gmail.Service
	// User is the mailbox owner; "me" is the impersonated account.
	User        string
	Concurrency int
}

func NewClient(svc *gmail.Service) *Client {
	return &Client{svc: svc, User: "me", Concurrency: defaultConcurrency}
}

// NewClientFromEnv authenticates as the service account in GMAIL_SERVICE_ACCOUNT_JSON
// acting for GMAIL_IMPERSONATE_USER through domain-wide delegation.
func NewClientFromEnv(ctx context.Context) (*Client, error) {
	keyJSON := strings.TrimSpace(os.Getenv("GMAIL_SERVICE_ACCOUNT_JSON"))
	subject := strings.TrimSpace(os.Getenv("GMAIL_IMPERSONATE_USER"))
	if keyJSON == "" || subject == "" {
		return nil, errors.New("GMAIL_SERVICE_ACCOUNT_JSON and GMAIL_IMPERSONATE_USER are required")
	}
	cfg, err := google.JWTConfigFromJSON([]byte(keyJSON), gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("gmail credentials: %w", err)
	}
	cfg.Subject = subject
	svc, err := gmail.NewService(ctx, option.WithTokenSource(cfg.TokenSource(ctx)))
	if err != nil {
		return nil, err
	}
	return NewClient(svc), nil
}

// SearchCustomerMessages returns the newest messages sent from or to email.
// A message that cannot be fetched is returned with Error set.
func (c *Client) SearchCustomerMessages(ctx context.Context, email string, max int64) ([]MessageSummary, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || strings.ContainsAny(addr.Address, " \"(){}") {
		return nil, ErrInvalidEmail
	}
	if max <= 0 {
		max = DefaultMaxResults
	}
	if max > maxResultsCap {
		max = maxResultsCap
	}

	query := fmt.Sprintf("from:%s OR to:%s", addr.Address, addr.Address)
	list, err := c.svc.Users.Messages.List(c.User).Q(query).MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail list: %w", err)
	}

	out := make([]MessageSummary, len(list.Messages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency())
	for i, m := range list.Messages {
		i, m := i, m
		g.Go(func() error {
			summary := c.fetch(gctx, m.Id, addr.Address)
			summary.ThreadId = firstNonEmpty(summary.ThreadId, m.ThreadId)
			out[i] = summary
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Date, out[j].Date
		if a == nil || b == nil {
			return a != nil
		}
		return a.After(*b)
	})
	return out, nil
}

func (c *Client) concurrency() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return defaultConcurrency
}

func (c *Client) fetch(ctx context.Context, id, customer string) MessageSummary {
	msg, err := c.svc.Users.Messages.Get(c.User, id).
		Format("metadata").
		MetadataHeaders("From", "To", "Subject", "Date").
		Context(ctx).
		Do()
	if err != nil {
		return MessageSummary{Id: id, Error: err.Error()}
	}

	s := MessageSummary{Id: msg.Id, ThreadId: msg.ThreadId, Snippet: msg.Snippet}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "from":
				s.From = h.Value
			case "to":
				s.To = h.Value
			case "subject":
				s.Subject = h.Value
			case "date":
				if t, err := mail.ParseDate(h.Value); err == nil {
					t = t.UTC()
					s.Date = &t
				}
			}
		}
	}
	if s.Date == nil && msg.InternalDate > 0 {
		t := time.UnixMilli(msg.InternalDate).UTC()
		s.Date = &t
	}
	s.Direction = "outbound"
	if strings.Contains(strings.ToLower(s.From), strings.ToLower(customer)) {
		s.Direction = "inbound"
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
