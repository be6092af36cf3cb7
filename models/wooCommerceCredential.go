package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInvalidCredential = errors.New("invalid credential")

// WooCommerceCredential is one storefront. The table is the only place sites are configured.
type WooCommerceCredential struct {
	ID             uint             `gorm:"primary_key" json:"id"`
	SiteName       string           `gorm:"size:100;not null;uniqueIndex" json:"site_name" validate:"required,max=100,excludesall=/"`
	TourName       string           `gorm:"size:255;not null" json:"tour_name" validate:"required"`
	ApiUrl         string           `gorm:"size:512;not null" json:"api_url" validate:"required,url"`
	WebsiteUrl     string           `gorm:"size:512" json:"website_url" validate:"omitempty,url"`
	ConsumerKey    string           `gorm:"size:255;not null" json:"consumer_key,omitempty" validate:"required"`
	ConsumerSecret string           `gorm:"size:255;not null" json:"consumer_secret,omitempty" validate:"required"`
	WebhookSecret  string           `gorm:"size:255" json:"webhook_secret,omitempty"`
	Timezone       string           `gorm:"size:64;not null;default:Europe/Rome" json:"timezone"`
	IsActive       *bool            `gorm:"not null;default:true" json:"is_active"`
	ProfitMargin   *decimal.Decimal `gorm:"type:decimal(5,2)" json:"profit_margin"`
	LastSyncedAt   *time.Time       `json:"last_synced_at"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c WooCommerceCredential) Active() bool {
	return utils.DereferencePtr(c.IsActive, true)
}

// Location falls back to UTC for an empty or unknown timezone.
func (c WooCommerceCredential) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Redacted hides the secrets before the row goes out over the admin API.
func (c WooCommerceCredential) Redacted() WooCommerceCredential {
	mask := func(s string) string {
		if len(s) <= 4 {
			if s == "" {
				return ""
			}
			return "****"
		}
		return "****" + s[len(s)-4:]
	}
	c.ConsumerKey = mask(c.ConsumerKey)
	c.ConsumerSecret = mask(c.ConsumerSecret)
	c.WebhookSecret = mask(c.WebhookSecret)
	return c
}

func GetCredentialBySite(ctx context.Context, siteName string) (*WooCommerceCredential, error) {
	db := config.GetDB().WithContext(ctx)
	var cred WooCommerceCredential
	if err := db.Where("site_name = ?", strings.TrimSpace(siteName)).First(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &cred, nil
}

// GetCredentialsBySites loads many sites in one query. Missing sites are simply absent.
func GetCredentialsBySites(ctx context.Context, siteNames []string) ([]WooCommerceCredential, error) {
	db := config.GetDB().WithContext(ctx)
	var creds []WooCommerceCredential
	if len(siteNames) == 0 {
		return creds, nil
	}
	err := db.Where("site_name IN ?", siteNames).Find(&creds).Error
	return creds, err
}

func ListActiveCredentials(ctx context.Context) ([]WooCommerceCredential, error) {
	db := config.GetDB().WithContext(ctx)
	var creds []WooCommerceCredential
	err := db.Where("is_active = ?", true).Order("site_name").Find(&creds).Error
	return creds, err
}

func ListCredentials(ctx context.Context) ([]WooCommerceCredential, error) {
	db := config.GetDB().WithContext(ctx)
	var creds []WooCommerceCredential
	err := db.Order("site_name").Find(&creds).Error
	return creds, err
}

// UpsertCredential inserts or updates the row keyed by site_name. last_synced_at is never touched.
func UpsertCredential(ctx context.Context, input *WooCommerceCredential) (*WooCommerceCredential, error) {
	input.SiteName = strings.TrimSpace(input.SiteName)
	input.ApiUrl = strings.TrimRight(strings.TrimSpace(input.ApiUrl), "/")
	if input.IsActive == nil {
		input.IsActive = utils.NewTrue()
	}
	if input.Timezone == "" {
		input.Timezone = "Europe/Rome"
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if input.ProfitMargin != nil && (input.ProfitMargin.IsNegative() || input.ProfitMargin.GreaterThan(decimal.NewFromInt(100))) {
		return nil, fmt.Errorf("%w: profit_margin must be between 0 and 100", ErrInvalidCredential)
	}

	db := config.GetDB().WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "site_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tour_name", "api_url", "website_url", "consumer_key", "consumer_secret",
			"webhook_secret", "timezone", "is_active", "profit_margin", "updated_at",
		}),
	}).Create(input).Error
	if err != nil {
		return nil, err
	}
	return GetCredentialBySite(ctx, input.SiteName)
}

// MarkCredentialSynced moves the site's sync watermark; the next run fetches orders created after it.
func MarkCredentialSynced(db *gorm.DB, siteName string, at time.Time) error {
	return db.Model(&WooCommerceCredential{}).
		Where("site_name = ?", siteName).
		Update("last_synced_at", at).Error
}
