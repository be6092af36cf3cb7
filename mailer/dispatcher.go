package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dispatcher drains the email outbox.
type Dispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	Sender       Sender
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration

	// LoadAttachment reads an attachment body by object name.
	LoadAttachment func(ctx context.Context, objectName string) ([]byte, error)
}

func NewDispatcher(db *gorm.DB, logger *logrus.Logger, sender Sender) *Dispatcher {
	return &Dispatcher{
		DB:             db,
		Logger:         logger,
		Sender:         sender,
		DispatcherID:   uuid.NewString(),
		BatchSize:      20,
		PollInterval:   5 * time.Second,
		LockTimeout:    2 * time.Minute,
		MaxAttempts:    8,
		InitialBackoff: 30 * time.Second,
		LoadAttachment: utils.ReadFileFromGCS,
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := d.DispatchOnce(ctx); err != nil && d.Logger != nil {
			d.Logger.WithField("field", "EmailDispatcher").Error("email claim failed: " + err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims one batch and tries to send it. It returns how many emails went out.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	staleBefore := now.Add(-d.LockTimeout)

	var claimed []models.EmailOutbox
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Ready pending/failed rows, plus processing rows whose dispatcher died mid-batch.
		q := tx.
			Where(`
				(
					status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.EmailStatusPending, models.EmailStatusFailed}, now, models.EmailStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			if d.MaxAttempts > 0 && claimed[i].Attempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max send attempts exceeded (%d)", d.MaxAttempts)
				claimed[i].Status = models.EmailStatusDead
				if err := tx.Model(&models.EmailOutbox{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"status":          models.EmailStatusDead,
					"last_error":      &msg,
					"next_attempt_at": nil,
					"locked_at":       nil,
					"locked_by":       nil,
				}).Error; err != nil {
					return err
				}
				continue
			}

			claimed[i].Status = models.EmailStatusProcessing
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &d.DispatcherID
			claimed[i].Attempts++
			if err := tx.Model(&models.EmailOutbox{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"status":          claimed[i].Status,
				"locked_at":       claimed[i].LockedAt,
				"locked_by":       claimed[i].LockedBy,
				"attempts":        gorm.Expr("attempts + 1"),
				"last_error":      nil,
				"next_attempt_at": nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, email := range claimed {
		if email.Status == models.EmailStatusDead {
			continue
		}
		providerID, sendErr := d.send(ctx, email)
		if sendErr != nil {
			d.markFailed(ctx, email, sendErr)
			continue
		}
		d.markSent(ctx, email.ID, providerID)
		sent++
	}
	return sent, nil
}

func (d *Dispatcher) send(ctx context.Context, email models.EmailOutbox) (string, error) {
	msg := Message{
		ToEmail: email.ToEmail,
		ToName:  email.ToName,
		Subject: email.Subject,
		HTML:    email.HtmlBody,
	}
	for _, a := range email.Attachments {
		data, err := d.LoadAttachment(ctx, a.ObjectName)
		if err != nil {
			return "", fmt.Errorf("attachment %s: %w", a.ObjectName, err)
		}
		mimeType := a.MimeType
		if mimeType == "" {
			if mimeType, err = utils.DetectAttachmentType(a.ObjectName, data); err != nil {
				return "", fmt.Errorf("attachment %s: %w", a.ObjectName, err)
			}
		}
		msg.Attachments = append(msg.Attachments, Attachment{Filename: a.Filename, MimeType: mimeType, Content: data})
	}
	return d.Sender.Send(ctx, msg)
}

func (d *Dispatcher) markSent(ctx context.Context, id uint, providerID string) {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":          models.EmailStatusSent,
		"sent_at":         &now,
		"locked_at":       nil,
		"locked_by":       nil,
		"next_attempt_at": nil,
	}
	if providerID != "" {
		updates["provider_message_id"] = &providerID
	}
	if err := d.DB.WithContext(ctx).Model(&models.EmailOutbox{}).Where("id = ?", id).Updates(updates).Error; err != nil && d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{"field": "EmailDispatcher", "email_id": id}).Error("mark sent: " + err.Error())
	}
}

func (d *Dispatcher) markFailed(ctx context.Context, email models.EmailOutbox, err error) {
	db := d.DB.WithContext(ctx)
	msg := err.Error()
	attempt := email.Attempts

	if d.MaxAttempts > 0 && attempt >= d.MaxAttempts {
		_ = db.Model(&models.EmailOutbox{}).Where("id = ?", email.ID).Updates(map[string]interface{}{
			"status":          models.EmailStatusDead,
			"last_error":      &msg,
			"next_attempt_at": nil,
			"locked_at":       nil,
			"locked_by":       nil,
		}).Error
		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"field":    "EmailDispatcher",
				"email_id": email.ID,
				"order_id": email.OrderId,
				"attempt":  attempt,
			}).Error("email moved to DEAD after max attempts: " + msg)
		}
		return
	}

	next := time.Now().UTC().Add(Backoff(d.InitialBackoff, attempt))
	_ = db.Model(&models.EmailOutbox{}).Where("id = ?", email.ID).Updates(map[string]interface{}{
		"status":          models.EmailStatusFailed,
		"last_error":      &msg,
		"next_attempt_at": &next,
		"locked_at":       nil,
		"locked_by":       nil,
	}).Error
	if d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{
			"field":           "EmailDispatcher",
			"email_id":        email.ID,
			"order_id":        email.OrderId,
			"attempt":         attempt,
			"next_attempt_at": next.Format(time.RFC3339Nano),
		}).Error("email send failed: " + msg)
	}
}

// Backoff doubles initial per attempt after the first, capped at 10 minutes.
func Backoff(initial time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > 10*time.Minute {
			return 10 * time.Minute
		}
	}
	return backoff
}
