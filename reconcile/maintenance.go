package reconcile

import (
	"context"
	"fmt"

	"github.com/tourdesk/backoffice/models"
	"gorm.io/gorm"
)

const maintenanceBatchSize = 200

var legacyStatusTags = map[models.OrderStatus]string{
	models.OrderStatusReservedDate:  models.OrderTagReservedDate,
	models.OrderStatusAwaitingReply: models.OrderTagAwaitingReply,
}

type LegacyStatusReport struct {
	Scanned  int  `json:"scanned"`
	Retagged int  `json:"retagged"`
	Renamed  int  `json:"renamed"`
	DryRun   bool `json:"dry_run"`
}

// MigrateLegacyStatuses turns the old manual statuses into tags and resets
// those orders to unprocessed. Legacy "new" becomes unprocessed as well.
func MigrateLegacyStatuses(ctx context.Context, db *gorm.DB, dryRun bool) (LegacyStatusReport, error) {
	report := LegacyStatusReport{DryRun: dryRun}
	db = db.WithContext(ctx)

	statuses := []models.OrderStatus{models.OrderStatusReservedDate, models.OrderStatusAwaitingReply, models.OrderStatusNew}
	var lastID uint
	for {
		var batch []models.Order
		err := db.Where("status IN ? AND id > ?", statuses, lastID).
			Order("id ASC").
			Limit(maintenanceBatchSize).
			Find(&batch).Error
		if err != nil {
			return report, err
		}
		if len(batch) == 0 {
			return report, nil
		}

		for i := range batch {
			order := &batch[i]
			lastID = order.ID
			report.Scanned++

			updates := map[string]interface{}{"status": models.OrderStatusUnprocessed}
			if tag, ok := legacyStatusTags[order.Status]; ok {
				order.AddTag(tag)
				updates["tags"] = order.Tags
				report.Retagged++
			} else {
				report.Renamed++
			}
			if dryRun {
				continue
			}
			if err := db.Model(&models.Order{}).Where("id = ?", order.ID).Updates(updates).Error; err != nil {
				return report, fmt.Errorf("order %s: %w", order.OrderId, err)
			}
		}
	}
}

type RecomputeOptions struct {
	SiteName string
	OrderId  string
	DryRun   bool
}

type RecomputeReport struct {
	Scanned int      `json:"scanned"`
	Changed int      `json:"changed"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
	DryRun  bool     `json:"dry_run"`
}

// RecomputeProfits reruns the profit split for stored orders and saves the ones that moved.
// A failing order is reported and skipped.
func RecomputeProfits(ctx context.Context, db *gorm.DB, opts RecomputeOptions) (RecomputeReport, error) {
	report := RecomputeReport{DryRun: opts.DryRun}
	margins, err := LoadMarginTable(ctx, db)
	if err != nil {
		return report, err
	}
	db = db.WithContext(ctx)

	var lastID uint
	for {
		q := db.Where("id > ?", lastID)
		if opts.SiteName != "" {
			q = q.Where("site_name = ?", opts.SiteName)
		}
		if opts.OrderId != "" {
			q = q.Where("order_id = ?", opts.OrderId)
		}
		var batch []models.Order
		if err := q.Order("id ASC").Limit(maintenanceBatchSize).Find(&batch).Error; err != nil {
			return report, err
		}
		if len(batch) == 0 {
			return report, nil
		}

		for i := range batch {
			order := batch[i]
			lastID = order.ID
			report.Scanned++

			res := CalculateProfit(order.Tickets, order.TotalCost, margins.Lookup(order.Tour))
			if res.TotalTicketCost.Equal(order.TotalTicketCost) && res.ProjectedProfit.Equal(order.ProjectedProfit) && sameTicketCosts(order.Tickets, res.Tickets) {
				continue
			}
			report.Changed++
			if opts.DryRun {
				continue
			}
			if err := RecomputeOrderProfit(ctx, db, &order, margins); err != nil {
				report.Changed--
				report.Failed++
				report.Errors = append(report.Errors, err.Error())
			}
		}
	}
}

func sameTicketCosts(a, b []models.Ticket) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type || a[i].Quantity != b[i].Quantity || !a[i].CostPerTicket.Equal(b[i].CostPerTicket) {
			return false
		}
	}
	return true
}
