package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tourdesk/backoffice/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AdSpend is the daily advertising cost of one tour, as pushed by the ads script.
type AdSpend struct {
	ID        uint            `gorm:"primary_key" json:"id"`
	Date      string          `gorm:"size:10;not null;uniqueIndex:uniq_ad_spend,priority:1" json:"date"`
	TourName  string          `gorm:"size:255;not null;uniqueIndex:uniq_ad_spend,priority:2" json:"tour_name"`
	Currency  string          `gorm:"size:8;not null;uniqueIndex:uniq_ad_spend,priority:3" json:"currency"`
	Cost      decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"cost"`
	Source    string          `gorm:"size:50" json:"source"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// UpsertAdSpend overwrites the cost of an existing (date, tour_name, currency) row.
func UpsertAdSpend(db *gorm.DB, row *AdSpend) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}, {Name: "tour_name"}, {Name: "currency"}},
		DoUpdates: clause.AssignmentColumns([]string{"cost", "source", "updated_at"}),
	}).Create(row).Error
}

// ListAdSpend returns rows with from <= date < to. Empty bounds are open.
func ListAdSpend(ctx context.Context, from, to string) ([]AdSpend, error) {
	db := config.GetDB().WithContext(ctx)
	if from != "" {
		db = db.Where("date >= ?", from)
	}
	if to != "" {
		db = db.Where("date < ?", to)
	}
	var rows []AdSpend
	err := db.Order("date").Order("tour_name").Find(&rows).Error
	return rows, err
}

type AdSpendTotal struct {
	TourName string          `json:"tour_name"`
	Currency string          `json:"currency"`
	Cost     decimal.Decimal `json:"cost"`
}

// SummarizeAdSpend totals rows per tour and currency, keeping first-seen order.
func SummarizeAdSpend(rows []AdSpend) []AdSpendTotal {
	index := map[string]int{}
	var totals []AdSpendTotal
	for _, r := range rows {
		key := r.TourName + "\x00" + r.Currency
		i, ok := index[key]
		if !ok {
			i = len(totals)
			index[key] = i
			totals = append(totals, AdSpendTotal{TourName: r.TourName, Currency: r.Currency})
		}
		totals[i].Cost = totals[i].Cost.Add(r.Cost)
	}
	return totals
}
