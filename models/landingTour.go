package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TicketPrice struct {
	Type      string          `json:"type" validate:"required"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// LandingTour is a tour sold directly from a landing page. Prices live here so
// the browser never sends an amount.
type LandingTour struct {
	ID           uint                             `gorm:"primary_key" json:"id"`
	Slug         string                           `gorm:"size:100;not null;uniqueIndex" json:"slug" validate:"required"`
	Name         string                           `gorm:"size:255;not null" json:"name" validate:"required"`
	Currency     string                           `gorm:"size:8;not null;default:eur" json:"currency" validate:"required,len=3"`
	Timezone     string                           `gorm:"size:64;not null;default:Europe/Rome" json:"timezone"`
	Prices       datatypes.JSONSlice[TicketPrice] `json:"prices" validate:"required,min=1,dive"`
	ProfitMargin *decimal.Decimal                 `gorm:"type:decimal(5,2)" json:"profit_margin"`
	IsActive     *bool                            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time                        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time                        `gorm:"autoUpdateTime" json:"updated_at"`
}

// PriceFor matches ticket types case-insensitively and ignoring accents.
func (t LandingTour) PriceFor(ticketType string) (decimal.Decimal, bool) {
	want := utils.NormalizeText(ticketType)
	for _, p := range t.Prices {
		if utils.NormalizeText(p.Type) == want {
			return p.UnitPrice, true
		}
	}
	return decimal.Zero, false
}

func GetLandingTourBySlug(ctx context.Context, slug string) (*LandingTour, error) {
	var tour LandingTour
	err := config.GetDB().WithContext(ctx).
		Where("slug = ? AND is_active = ?", strings.TrimSpace(slug), true).
		First(&tour).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &tour, nil
}

func ListLandingTours(ctx context.Context) ([]LandingTour, error) {
	var tours []LandingTour
	err := config.GetDB().WithContext(ctx).Order("slug").Find(&tours).Error
	return tours, err
}

func UpsertLandingTour(ctx context.Context, input *LandingTour) error {
	input.Slug = strings.TrimSpace(input.Slug)
	input.Currency = strings.ToLower(strings.TrimSpace(input.Currency))
	if input.IsActive == nil {
		input.IsActive = utils.NewTrue()
	}
	if input.Timezone == "" {
		input.Timezone = "Europe/Rome"
	}
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	for _, p := range input.Prices {
		if !p.UnitPrice.IsPositive() {
			return errors.New("ticket prices must be positive")
		}
	}
	return config.GetDB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "currency", "timezone", "prices", "profit_margin", "is_active", "updated_at"}),
	}).Create(input).Error
}
