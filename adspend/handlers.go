package adspend

import (
	"crypto/subtle"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/utils"
)

const maxBodyBytes = 1 << 20

// WebhookSecret reads AD_SPEND_WEBHOOK_SECRET on every call so rotation needs no restart.
func WebhookSecret() string {
	return strings.TrimSpace(os.Getenv("AD_SPEND_WEBHOOK_SECRET"))
}

func authorized(header, secret string) bool {
	if secret == "" {
		return false
	}
	token, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(secret)) == 1
}

// WebhookHandler serves POST /webhooks/ad-spend.
func WebhookHandler(secret func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authorized(c.GetHeader("Authorization"), secret()) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
			return
		}

		report, err := Ingest(c.Request.Context(), config.GetDB(), body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(report.Errors) > 0 {
			config.GetLogger().WithFields(logrus.Fields{
				"module":   "adspend",
				"received": report.Received,
				"saved":    report.Saved,
				"errors":   report.Errors,
			}).Warn("ad spend records rejected")
		}
		c.JSON(http.StatusOK, report)
	}
}

// ListHandler serves GET /api/ad-spend?from=YYYY-MM-DD&to=YYYY-MM-DD (to is exclusive).
func ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		from := strings.TrimSpace(c.Query("from"))
		to := strings.TrimSpace(c.Query("to"))
		for _, v := range []string{from, to} {
			if v == "" {
				continue
			}
			if _, err := utils.ParseISODate(v); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "from and to must be YYYY-MM-DD"})
				return
			}
		}
		rows, err := models.ListAdSpend(c.Request.Context(), from, to)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"items":  rows,
			"totals": models.SummarizeAdSpend(rows),
		})
	}
}
