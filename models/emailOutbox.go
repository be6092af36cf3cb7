package models

import (
	"context"
	"errors"
	"time"

	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Email outbox statuses. Stored as strings.
const (
	EmailStatusPending    = "pending"
	EmailStatusProcessing = "processing"
	EmailStatusSent       = "sent"
	EmailStatusFailed     = "failed"
	EmailStatusDead       = "dead"
)

type EmailAttachment struct {
	ObjectName string `json:"object_name" validate:"required"`
	Filename   string `json:"filename" validate:"required"`
	MimeType   string `json:"mime_type"`
}

// EmailOutbox is a queued transactional email. Rows are written in the same
// transaction as the business change and sent later by the dispatcher.
type EmailOutbox struct {
	ID                uint                                 `gorm:"primary_key" json:"id"`
	OrderId           string                               `gorm:"size:128;index" json:"order_id"`
	ToEmail           string                               `gorm:"size:255;not null" json:"to_email"`
	ToName            string                               `gorm:"size:255" json:"to_name"`
	Subject           string                               `gorm:"size:255;not null" json:"subject"`
	HtmlBody          string                               `gorm:"type:text;not null" json:"html_body"`
	Attachments       datatypes.JSONSlice[EmailAttachment] `json:"attachments"`
	Status            string                               `gorm:"size:20;not null;index" json:"status"`
	Attempts          int                                  `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt     *time.Time                           `gorm:"index" json:"next_attempt_at"`
	LockedAt          *time.Time                           `json:"locked_at"`
	LockedBy          *string                              `gorm:"size:64" json:"locked_by"`
	LastError         *string                              `gorm:"type:text" json:"last_error"`
	ProviderMessageId *string                              `gorm:"size:128" json:"provider_message_id"`
	SentAt            *time.Time                           `json:"sent_at"`
	CreatedAt         time.Time                            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time                            `gorm:"autoUpdateTime" json:"updated_at"`
}

// EnqueueEmail inserts a pending row using tx so callers can join their own transaction.
func EnqueueEmail(tx *gorm.DB, email *EmailOutbox) error {
	if email.ToEmail == "" {
		return errors.New("recipient email is required")
	}
	email.Status = EmailStatusPending
	email.Attempts = 0
	email.NextAttemptAt = nil
	return tx.Create(email).Error
}

func GetEmail(ctx context.Context, id uint) (*EmailOutbox, error) {
	var email EmailOutbox
	if err := config.GetDB().WithContext(ctx).First(&email, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &email, nil
}

func ListEmailsForOrder(ctx context.Context, orderId string) ([]EmailOutbox, error) {
	var emails []EmailOutbox
	err := config.GetDB().WithContext(ctx).
		Where("order_id = ?", orderId).
		Order("id desc").
		Find(&emails).Error
	return emails, err
}

var ErrEmailNotReplayable = errors.New("only failed or dead emails can be replayed")

// ReplayEmail puts a failed or dead email back in the queue with a fresh attempt budget.
func ReplayEmail(ctx context.Context, id uint) (*EmailOutbox, error) {
	email, err := GetEmail(ctx, id)
	if err != nil {
		return nil, err
	}
	if email.Status != EmailStatusFailed && email.Status != EmailStatusDead {
		return nil, ErrEmailNotReplayable
	}
	err = config.GetDB().WithContext(ctx).Model(&EmailOutbox{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          EmailStatusPending,
			"attempts":        0,
			"next_attempt_at": nil,
			"locked_at":       nil,
			"locked_by":       nil,
			"last_error":      nil,
		}).Error
	if err != nil {
		return nil, err
	}
	return GetEmail(ctx, id)
}
