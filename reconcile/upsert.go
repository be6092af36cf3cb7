package reconcile

import (
	"context"
	"errors"
	"sort"

	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UpsertOutcome string

const (
	OutcomeCreated   UpsertOutcome = "created"
	OutcomeUpdated   UpsertOutcome = "updated"
	OutcomeUnchanged UpsertOutcome = "unchanged"
)

type UpsertResult struct {
	Outcome UpsertOutcome
	Order   models.Order
	// Changed lists the columns written on update, sorted.
	Changed []string
}

// UpdatesFor computes the non-destructive column updates incoming may apply to existing.
// Tickets, tags, totals and customer fields are never touched; protected statuses stay.
func UpdatesFor(existing, incoming models.Order) map[string]interface{} {
	updates := map[string]interface{}{}

	if incoming.Status != "" && incoming.Status != existing.Status && !existing.IsStatusProtected() {
		updates["status"] = incoming.Status
	}

	setIfChanged := func(column string, current, next *string) {
		if next != nil && (current == nil || *current != *next) {
			updates[column] = *next
		}
	}
	setIfChanged("payment_method", existing.PaymentMethod, incoming.PaymentMethod)
	setIfChanged("payment_status", existing.PaymentStatus, incoming.PaymentStatus)
	setIfChanged("transaction_id", existing.TransactionId, incoming.TransactionId)
	if incoming.PaymentCaptured != nil && (existing.PaymentCaptured == nil || *existing.PaymentCaptured != *incoming.PaymentCaptured) {
		updates["payment_captured"] = *incoming.PaymentCaptured
	}

	backfill := func(column string, current, next *string) {
		if current == nil && next != nil {
			updates[column] = *next
		}
	}
	backfill("billing_address", existing.BillingAddress, incoming.BillingAddress)
	backfill("billing_city", existing.BillingCity, incoming.BillingCity)
	backfill("billing_postcode", existing.BillingPostcode, incoming.BillingPostcode)
	backfill("billing_country", existing.BillingCountry, incoming.BillingCountry)
	backfill("official_url", existing.OfficialUrl, incoming.OfficialUrl)

	return updates
}

// UpsertOrder inserts incoming or applies UpdatesFor to the stored row with the same order_id.
// Losing an insert race to another writer counts as unchanged.
func UpsertOrder(ctx context.Context, db *gorm.DB, incoming models.Order) (UpsertResult, error) {
	var result UpsertResult
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Order
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ?", incoming.OrderId).
			Order("updated_at desc").Order("id desc").
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row := incoming
			row.ID = 0
			if row.Tags == nil {
				row.Tags = []string{}
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			result = UpsertResult{Outcome: OutcomeCreated, Order: row}
			return nil
		}
		if err != nil {
			return err
		}

		updates := UpdatesFor(existing, incoming)
		if len(updates) == 0 {
			result = UpsertResult{Outcome: OutcomeUnchanged, Order: existing}
			return nil
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.First(&existing, existing.ID).Error; err != nil {
			return err
		}
		changed := make([]string, 0, len(updates))
		for col := range updates {
			changed = append(changed, col)
		}
		sort.Strings(changed)
		result = UpsertResult{Outcome: OutcomeUpdated, Order: existing, Changed: changed}
		return nil
	})
	if err != nil {
		if utils.IsDuplicateKeyErr(err) {
			return UpsertResult{Outcome: OutcomeUnchanged, Order: incoming}, nil
		}
		return UpsertResult{}, err
	}
	return result, nil
}
