package admin

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/utils"
)

type CredentialInput struct {
	TourName       string           `json:"tour_name"`
	ApiUrl         string           `json:"api_url"`
	WebsiteUrl     string           `json:"website_url"`
	ConsumerKey    string           `json:"consumer_key"`
	ConsumerSecret string           `json:"consumer_secret"`
	WebhookSecret  *string          `json:"webhook_secret"`
	Timezone       string           `json:"timezone"`
	IsActive       *bool            `json:"is_active"`
	ProfitMargin   *decimal.Decimal `json:"profit_margin"`
}

// merge applies the input over the stored row. Blank secrets keep the stored
// value so the redacted values the list returns can be sent back unchanged.
func (in CredentialInput) merge(siteName string, existing *models.WooCommerceCredential) *models.WooCommerceCredential {
	cred := &models.WooCommerceCredential{SiteName: siteName}
	if existing != nil {
		*cred = *existing
		// the upsert is keyed on site_name
		cred.ID = 0
		cred.CreatedAt = time.Time{}
	}
	keep := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" && !strings.HasPrefix(v, "****") {
			*dst = v
		}
	}
	keep(&cred.TourName, in.TourName)
	keep(&cred.ApiUrl, in.ApiUrl)
	keep(&cred.WebsiteUrl, in.WebsiteUrl)
	keep(&cred.ConsumerKey, in.ConsumerKey)
	keep(&cred.ConsumerSecret, in.ConsumerSecret)
	keep(&cred.Timezone, in.Timezone)
	if in.WebhookSecret != nil && !strings.HasPrefix(*in.WebhookSecret, "****") {
		cred.WebhookSecret = strings.TrimSpace(*in.WebhookSecret)
	}
	if in.IsActive != nil {
		cred.IsActive = in.IsActive
	}
	if in.ProfitMargin != nil {
		cred.ProfitMargin = in.ProfitMargin
	}
	return cred
}

// ListCredentialsHandler serves GET /api/credentials with secrets masked.
func ListCredentialsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		creds, err := models.ListCredentials(c.Request.Context())
		if err != nil {
			config.LogError(config.GetLogger(), "admin", "ListCredentialsHandler", "list", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		items := make([]models.WooCommerceCredential, 0, len(creds))
		for _, cred := range creds {
			items = append(items, cred.Redacted())
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

// UpsertCredentialHandler serves PUT /api/credentials/:site.
func UpsertCredentialHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		site := strings.TrimSpace(c.Param("site"))
		var in CredentialInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		ctx := c.Request.Context()
		existing, err := models.GetCredentialBySite(ctx, site)
		if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
			config.LogError(config.GetLogger(), "admin", "UpsertCredentialHandler", "get", site, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		status := http.StatusOK
		if existing == nil {
			status = http.StatusCreated
		}

		saved, err := models.UpsertCredential(ctx, in.merge(site, existing))
		if err != nil {
			if errors.Is(err, models.ErrInvalidCredential) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			config.LogError(config.GetLogger(), "admin", "UpsertCredentialHandler", "upsert", site, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		config.GetLogger().WithField("site_name", site).Info("storefront credentials saved")
		c.JSON(status, saved.Redacted())
	}
}
