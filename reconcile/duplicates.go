package reconcile

import (
	"context"
	"sort"

	"github.com/tourdesk/backoffice/models"
	"gorm.io/gorm"
)

// PickSurvivor keeps a tagged row when there is one, otherwise the most recently
// updated (then purchased, then highest id). Everything else is returned in drop.
func PickSurvivor(rows []models.Order) (keep models.Order, drop []models.Order) {
	if len(rows) == 0 {
		return models.Order{}, nil
	}
	candidates := make([]models.Order, 0, len(rows))
	for _, r := range rows {
		if len(r.Tags) > 0 {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		candidates = append(candidates, rows...)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return moreRecent(candidates[i], candidates[j])
	})
	keep = candidates[0]
	for _, r := range rows {
		if r.ID != keep.ID {
			drop = append(drop, r)
		}
	}
	return keep, drop
}

func moreRecent(a, b models.Order) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	switch {
	case a.PurchasedAt != nil && b.PurchasedAt == nil:
		return true
	case a.PurchasedAt == nil && b.PurchasedAt != nil:
		return false
	case a.PurchasedAt != nil && b.PurchasedAt != nil && !a.PurchasedAt.Equal(*b.PurchasedAt):
		return a.PurchasedAt.After(*b.PurchasedAt)
	}
	return a.ID > b.ID
}

type DedupeOptions struct {
	DryRun bool
	// Limit caps the number of groups handled in one pass. Zero means all.
	Limit int
}

type DedupeGroup struct {
	OrderId    string `json:"order_id"`
	KeptId     uint   `json:"kept_id"`
	DeletedIds []uint `json:"deleted_ids"`
}

type DedupeReport struct {
	Groups  int           `json:"groups"`
	Deleted int           `json:"deleted"`
	KeptIds []uint        `json:"kept_ids"`
	Details []DedupeGroup `json:"details"`
	DryRun  bool          `json:"dry_run"`
	// UniqueIndex is true once orders.order_id carries its unique index.
	UniqueIndex bool `json:"unique_index"`
}

// ResolveDuplicates collapses every order_id group to one survivor, one transaction per group.
func ResolveDuplicates(ctx context.Context, db *gorm.DB, opts DedupeOptions) (DedupeReport, error) {
	report := DedupeReport{DryRun: opts.DryRun, KeptIds: []uint{}, Details: []DedupeGroup{}}
	db = db.WithContext(ctx)

	type group struct {
		OrderId string
		Cnt     int64
	}
	var groups []group
	q := db.Model(&models.Order{}).
		Select("order_id, COUNT(*) AS cnt").
		Group("order_id").
		Having("COUNT(*) > ?", 1).
		Order("order_id")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if err := q.Scan(&groups).Error; err != nil {
		return report, err
	}

	for _, g := range groups {
		var rows []models.Order
		if err := db.Where("order_id = ?", g.OrderId).Order("id").Find(&rows).Error; err != nil {
			return report, err
		}
		keep, drop := PickSurvivor(rows)
		if len(drop) == 0 {
			continue
		}
		ids := make([]uint, 0, len(drop))
		for _, d := range drop {
			ids = append(ids, d.ID)
		}
		if !opts.DryRun {
			err := db.Transaction(func(tx *gorm.DB) error {
				return tx.Where("id IN ?", ids).Delete(&models.Order{}).Error
			})
			if err != nil {
				return report, err
			}
		}
		report.Groups++
		report.Deleted += len(ids)
		report.KeptIds = append(report.KeptIds, keep.ID)
		report.Details = append(report.Details, DedupeGroup{OrderId: g.OrderId, KeptId: keep.ID, DeletedIds: ids})
	}

	if !opts.DryRun && (opts.Limit == 0 || len(groups) < opts.Limit) {
		report.UniqueIndex = models.EnsureOrderIdUniqueIndex(db) == nil
	}
	return report, nil
}
