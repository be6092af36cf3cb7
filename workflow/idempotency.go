// Package workflow guards inbound message handlers against redelivery.
package workflow

import (
	"errors"
	"time"

	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/utils"
	"gorm.io/gorm"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

// StaleStartedAfter is how long a STARTED key blocks redelivery before it is taken over.
const StaleStartedAfter = 5 * time.Minute

// Delivery names one inbound message. Scope is usually the site name.
type Delivery struct {
	Scope     string
	Handler   string
	MessageId string
}

func (d Delivery) query(tx *gorm.DB) *gorm.DB {
	return tx.Model(&models.IdempotencyKey{}).
		Where("scope = ? AND handler_name = ? AND message_id = ?", d.Scope, d.Handler, d.MessageId)
}

func (d Delivery) setStatus(tx *gorm.DB, status models.IdempotencyStatus, lastError *string) error {
	return d.query(tx).Updates(map[string]interface{}{"status": status, "last_error": lastError}).Error
}

// Begin claims the delivery. skip is true when it already succeeded; a
// delivery another worker started recently yields ErrIdempotencyInProgress.
// Failed and stale deliveries are claimed again.
func (d Delivery) Begin(tx *gorm.DB) (skip bool, err error) {
	err = tx.Create(&models.IdempotencyKey{
		Scope:       d.Scope,
		HandlerName: d.Handler,
		MessageId:   d.MessageId,
		Status:      models.IdempotencyStatusStarted,
	}).Error
	if err == nil {
		return false, nil
	}
	if !utils.IsDuplicateKeyErr(err) {
		return false, err
	}

	var existing models.IdempotencyKey
	if err := d.query(tx).First(&existing).Error; err != nil {
		return false, err
	}
	switch {
	case existing.Status == models.IdempotencyStatusSucceeded:
		return true, nil
	case existing.Status == models.IdempotencyStatusStarted && time.Since(existing.UpdatedAt) < StaleStartedAfter:
		return false, ErrIdempotencyInProgress
	}
	return false, d.setStatus(tx, models.IdempotencyStatusStarted, nil)
}

// Finish records the outcome of a claimed delivery. A nil handlerErr marks it succeeded.
func (d Delivery) Finish(tx *gorm.DB, handlerErr error) error {
	if handlerErr == nil {
		return d.setStatus(tx, models.IdempotencyStatusSucceeded, nil)
	}
	msg := handlerErr.Error()
	return d.setStatus(tx, models.IdempotencyStatusFailed, &msg)
}
