package mailer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/testutil"
	"gorm.io/gorm"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return "msg-" + msg.ToEmail, nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeSender, *gorm.DB) {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	sender := &fakeSender{}
	d := NewDispatcher(db, nil, sender)
	d.LoadAttachment = func(_ context.Context, objectName string) ([]byte, error) {
		if objectName == "attachments/missing.pdf" {
			return nil, errors.New("object not found")
		}
		return []byte("%PDF-1.4 ticket"), nil
	}
	return d, sender, db
}

func enqueue(t *testing.T, db *gorm.DB, to string, attachments ...models.EmailAttachment) models.EmailOutbox {
	t.Helper()
	email := models.EmailOutbox{
		OrderId:     "verona-arena-101",
		ToEmail:     to,
		Subject:     "Your tickets",
		HtmlBody:    "<p>hi</p>",
		Attachments: attachments,
	}
	require.NoError(t, models.EnqueueEmail(db, &email))
	return email
}

func reloadEmail(t *testing.T, db *gorm.DB, id uint) models.EmailOutbox {
	t.Helper()
	var email models.EmailOutbox
	require.NoError(t, db.First(&email, id).Error)
	return email
}

func TestDispatchOnce_SendsPendingEmails(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	first := enqueue(t, db, "anna@example.com", models.EmailAttachment{ObjectName: "attachments/x/ticket.pdf", Filename: "ticket.pdf"})
	second := enqueue(t, db, "marco@example.com")

	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "anna@example.com", sender.sent[0].ToEmail)
	require.Len(t, sender.sent[0].Attachments, 1)
	assert.Equal(t, "application/pdf", sender.sent[0].Attachments[0].MimeType)
	assert.Equal(t, "ticket.pdf", sender.sent[0].Attachments[0].Filename)

	got := reloadEmail(t, db, first.ID)
	assert.Equal(t, models.EmailStatusSent, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.ProviderMessageId)
	assert.Equal(t, "msg-anna@example.com", *got.ProviderMessageId)
	assert.NotNil(t, got.SentAt)
	assert.Nil(t, got.LockedBy)
	assert.Equal(t, models.EmailStatusSent, reloadEmail(t, db, second.ID).Status)

	n, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, sender.sent, 2)
}

func TestDispatchOnce_FailureBacksOff(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	sender.err = errors.New("sendgrid: status 500")
	email := enqueue(t, db, "anna@example.com")

	before := time.Now().UTC()
	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	got := reloadEmail(t, db, email.ID)
	assert.Equal(t, models.EmailStatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "status 500")
	require.NotNil(t, got.NextAttemptAt)
	assert.WithinDuration(t, before.Add(d.InitialBackoff), *got.NextAttemptAt, 5*time.Second)

	// not due yet
	sender.err = nil
	n, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, sender.sent)

	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, db.Model(&models.EmailOutbox{}).Where("id = ?", email.ID).Update("next_attempt_at", past).Error)
	n, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got = reloadEmail(t, db, email.ID)
	assert.Equal(t, models.EmailStatusSent, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestDispatchOnce_MissingAttachmentFails(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	email := enqueue(t, db, "anna@example.com", models.EmailAttachment{ObjectName: "attachments/missing.pdf", Filename: "t.pdf"})

	_, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
	got := reloadEmail(t, db, email.ID)
	assert.Equal(t, models.EmailStatusFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "attachments/missing.pdf")
}

func TestDispatchOnce_DeadAfterMaxAttempts(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	d.MaxAttempts = 2
	sender.err = errors.New("boom")

	exhausted := enqueue(t, db, "anna@example.com")
	require.NoError(t, db.Model(&models.EmailOutbox{}).Where("id = ?", exhausted.ID).Updates(map[string]interface{}{
		"status":   models.EmailStatusFailed,
		"attempts": 2,
	}).Error)
	last := enqueue(t, db, "marco@example.com")
	require.NoError(t, db.Model(&models.EmailOutbox{}).Where("id = ?", last.ID).Update("attempts", 1).Error)

	_, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)

	got := reloadEmail(t, db, exhausted.ID)
	assert.Equal(t, models.EmailStatusDead, got.Status)
	assert.Equal(t, 2, got.Attempts, "dead rows are not attempted again")

	got = reloadEmail(t, db, last.ID)
	assert.Equal(t, models.EmailStatusDead, got.Status, "the final failed attempt is dead-lettered")
	assert.Equal(t, 2, got.Attempts)
	assert.Nil(t, got.NextAttemptAt)
}

func TestDispatchOnce_ReclaimsStaleLocks(t *testing.T) {
	d, sender, db := newTestDispatcher(t)
	stale := enqueue(t, db, "anna@example.com")
	fresh := enqueue(t, db, "marco@example.com")

	owner := "dead-dispatcher"
	require.NoError(t, db.Model(&models.EmailOutbox{}).Where("id = ?", stale.ID).Updates(map[string]interface{}{
		"status":    models.EmailStatusProcessing,
		"locked_at": time.Now().UTC().Add(-10 * time.Minute),
		"locked_by": owner,
		"attempts":  1,
	}).Error)
	require.NoError(t, db.Model(&models.EmailOutbox{}).Where("id = ?", fresh.ID).Updates(map[string]interface{}{
		"status":    models.EmailStatusProcessing,
		"locked_at": time.Now().UTC(),
		"locked_by": owner,
		"attempts":  1,
	}).Error)

	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "anna@example.com", sender.sent[0].ToEmail)
	assert.Equal(t, models.EmailStatusSent, reloadEmail(t, db, stale.ID).Status)
	assert.Equal(t, models.EmailStatusProcessing, reloadEmail(t, db, fresh.ID).Status)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{5, 8 * time.Minute},
		{6, 10 * time.Minute},
		{20, 10 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(30*time.Second, tt.attempt), "attempt %d", tt.attempt)
	}
}
