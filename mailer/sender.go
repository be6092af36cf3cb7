// Package mailer renders, queues and delivers customer emails.
package mailer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"os"
	"regexp"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type Attachment struct {
	Filename string
	MimeType string
	Content  []byte
}

type Message struct {
	ToEmail     string
	ToName      string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Sender delivers one message and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

const sendGridHost = "https://api.sendgrid.com"

type SendGridSender struct {
	APIKey    string
	FromEmail string
	FromName  string
	// Host overrides the API base URL.
	Host string
}

func NewSendGridSenderFromEnv() (*SendGridSender, error) {
	s := &SendGridSender{
		APIKey:    strings.TrimSpace(os.Getenv("SENDGRID_API_KEY")),
		FromEmail: strings.TrimSpace(os.Getenv("EMAIL_FROM_ADDRESS")),
		FromName:  strings.TrimSpace(os.Getenv("EMAIL_FROM_NAME")),
	}
	if s.APIKey == "" || s.FromEmail == "" {
		return nil, errors.New("SENDGRID_API_KEY and EMAIL_FROM_ADDRESS are required")
	}
	return s, nil
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) (string, error) {
	from := mail.NewEmail(s.FromName, s.FromEmail)
	to := mail.NewEmail(msg.ToName, msg.ToEmail)
	m := mail.NewSingleEmail(from, msg.Subject, to, PlainText(msg.HTML), msg.HTML)
	for _, a := range msg.Attachments {
		att := mail.NewAttachment()
		att.SetContent(base64.StdEncoding.EncodeToString(a.Content))
		att.SetType(a.MimeType)
		att.SetFilename(a.Filename)
		att.SetDisposition("attachment")
		m.AddAttachment(att)
	}

	host := s.Host
	if host == "" {
		host = sendGridHost
	}
	request := sendgrid.GetRequest(s.APIKey, "/v3/mail/send", host)
	request.Method = "POST"
	request.Body = mail.GetRequestBody(m)

	resp, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		return "", fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body))
	}
	for key, values := range resp.Headers {
		if strings.EqualFold(key, "X-Message-Id") && len(values) > 0 {
			return values[0], nil
		}
	}
	return "", nil
}

var (
	tagPattern        = regexp.MustCompile(`(?s)<[^>]*>`)
	blockTagPattern   = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/tr|/h[1-6]|/li)\s*/?>`)
	blankLinesPattern = regexp.MustCompile(`\n{3,}`)
	spacesPattern     = regexp.MustCompile(`[ \t]+`)
)

// PlainText is the text/plain alternative for an HTML body.
func PlainText(body string) string {
	text := blockTagPattern.ReplaceAllString(body, "\n")
	text = tagPattern.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = spacesPattern.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	text = blankLinesPattern.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return " "
	}
	return text
}
