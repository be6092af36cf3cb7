// Package orders serves the admin order views and maintenance actions.
package orders

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/inbox"
	"github.com/tourdesk/backoffice/middlewares"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/models/reports"
	"github.com/tourdesk/backoffice/reconcile"
	"github.com/tourdesk/backoffice/utils"
)

const exportPageSize = 500

// filterFromQuery reads site, status, tag, q, from, to, page and page_size.
// from and to are ISO dates; to is inclusive.
func filterFromQuery(c *gin.Context) (models.OrderFilter, error) {
	filter := models.OrderFilter{
		SiteName: strings.TrimSpace(c.Query("site")),
		Status:   strings.TrimSpace(c.Query("status")),
		Tag:      strings.TrimSpace(c.Query("tag")),
		Search:   strings.TrimSpace(c.Query("q")),
	}
	if v := c.Query("from"); v != "" {
		from, err := utils.ParseISODate(v)
		if err != nil {
			return filter, errors.New("from must be YYYY-MM-DD")
		}
		filter.From = &from
	}
	if v := c.Query("to"); v != "" {
		to, err := utils.ParseISODate(v)
		if err != nil {
			return filter, errors.New("to must be YYYY-MM-DD")
		}
		to = to.AddDate(0, 0, 1)
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return filter, errors.New("from must not be after to")
	}
	filter.Page, _ = strconv.Atoi(c.Query("page"))
	filter.PageSize, _ = strconv.Atoi(c.Query("page_size"))
	return filter, nil
}

// loadOrder accepts either the numeric row id or the order key ("verona-arena-1234", "LP-42").
func loadOrder(c *gin.Context) (*models.Order, bool) {
	ctx := c.Request.Context()
	raw := strings.TrimSpace(c.Param("id"))
	var (
		order *models.Order
		err   error
	)
	if id, convErr := strconv.Atoi(raw); convErr == nil && id > 0 {
		order, err = models.GetOrder(ctx, uint(id))
	} else {
		order, err = models.GetOrderByOrderId(ctx, raw)
	}
	if errors.Is(err, utils.ErrorRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return nil, false
	}
	if err != nil {
		config.LogError(config.GetLogger(), "orders", "loadOrder", "get order", raw, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return nil, false
	}
	return order, true
}

// withStorefront resolves every order's storefront through the request loaders,
// so a page of orders costs one credential query and one landing tour query.
func withStorefront(c *gin.Context, rows []models.Order) []OrderResponse {
	ctx := c.Request.Context()
	loaders := middlewares.For(ctx)

	type pending struct {
		cred func() (*models.WooCommerceCredential, error)
		tour func() (*models.LandingTour, error)
	}
	thunks := make([]pending, len(rows))
	for i, o := range rows {
		if o.SiteName == "" {
			continue
		}
		if o.Source == models.OrderSourceDirect {
			thunks[i].tour = loaders.LandingTourLoader.Load(ctx, o.SiteName)
		} else {
			thunks[i].cred = loaders.CredentialLoader.Load(ctx, o.SiteName)
		}
	}

	out := make([]OrderResponse, len(rows))
	for i, o := range rows {
		out[i] = OrderResponse{Order: o, TourName: o.Tour}
		switch {
		case thunks[i].cred != nil:
			if cred, err := thunks[i].cred(); err == nil {
				out[i].SiteWebsiteUrl = cred.WebsiteUrl
				out[i].TourName = cred.TourName
			}
		case thunks[i].tour != nil:
			if tour, err := thunks[i].tour(); err == nil {
				out[i].TourName = tour.Name
			}
		}
	}
	return out
}

// ListOrdersHandler serves GET /api/orders.
func ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := filterFromQuery(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rows, total, err := models.ListOrders(c.Request.Context(), filter)
		if err != nil {
			config.LogError(config.GetLogger(), "orders", "ListOrdersHandler", "list", filter, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		filter = filter.Normalize()
		c.JSON(http.StatusOK, OrderListResponse{
			Items:    withStorefront(c, rows),
			Total:    total,
			Page:     filter.Page,
			PageSize: filter.PageSize,
		})
	}
}

func GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ok := loadOrder(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, withStorefront(c, []models.Order{*order})[0])
	}
}

// UpdateTagsHandler replaces the manual tags of an order. Tags are how operators
// park an order ("reserved_date", "awaiting_reply") without losing the synced status.
func UpdateTagsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ok := loadOrder(c)
		if !ok {
			return
		}
		var req UpdateTagsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := utils.ValidateStruct(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		updated, err := models.UpdateOrderTags(c.Request.Context(), order.ID, req.Tags)
		if err != nil {
			config.LogError(config.GetLogger(), "orders", "UpdateTagsHandler", "update", order.OrderId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

func RecomputeProfitHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ok := loadOrder(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		db := config.GetDB()
		margins, err := reconcile.LoadMarginTable(ctx, db)
		if err == nil {
			err = reconcile.RecomputeOrderProfit(ctx, db, order, margins)
		}
		if err != nil {
			config.LogError(config.GetLogger(), "orders", "RecomputeProfitHandler", "recompute", order.OrderId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

// DedupeHandler serves POST /api/orders/dedupe. An empty body runs a full pass.
func DedupeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DedupeRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		if err := utils.ValidateStruct(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		report, err := reconcile.ResolveDuplicates(c.Request.Context(), config.GetDB(), reconcile.DedupeOptions{
			DryRun: req.DryRun,
			Limit:  req.Limit,
		})
		if err != nil {
			config.LogError(config.GetLogger(), "orders", "DedupeHandler", "resolve", req, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		config.GetLogger().WithField("groups", report.Groups).
			WithField("deleted", report.Deleted).
			WithField("dry_run", report.DryRun).
			Info("duplicate orders resolved")
		c.JSON(http.StatusOK, report)
	}
}

// ExportHandler streams the filtered orders and the ad spend of the same period as xlsx.
func ExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := filterFromQuery(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx := c.Request.Context()

		var rows []models.Order
		filter.PageSize = exportPageSize
		for filter.Page = 1; ; filter.Page++ {
			page, total, err := models.ListOrders(ctx, filter)
			if err != nil {
				config.LogError(config.GetLogger(), "orders", "ExportHandler", "list", filter, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
			rows = append(rows, page...)
			if len(page) < exportPageSize || int64(len(rows)) >= total {
				break
			}
		}

		from, to := "", ""
		if filter.From != nil {
			from = filter.From.Format(utils.ISODateLayout)
		}
		if filter.To != nil {
			to = filter.To.Format(utils.ISODateLayout)
		}
		spend, err := models.ListAdSpend(ctx, from, to)
		if err != nil {
			config.LogError(config.GetLogger(), "orders", "ExportHandler", "ad spend", from+".."+to, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		filename := "orders-" + time.Now().UTC().Format("20060102-150405") + ".xlsx"
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
		c.Status(http.StatusOK)
		if err := reports.WriteOrdersWorkbook(c.Writer, rows, models.SummarizeAdSpend(spend)); err != nil {
			config.LogError(config.GetLogger(), "orders", "ExportHandler", "write", filename, err)
		}
	}
}

// CustomerEmailsHandler lists the mailbox correspondence with the order's customer.
func CustomerEmailsHandler(searcher inbox.Searcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		if searcher == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mailbox lookup is not configured"})
			return
		}
		order, ok := loadOrder(c)
		if !ok {
			return
		}
		if order.CustomerEmail == "" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "order has no customer email"})
			return
		}
		limit, _ := strconv.ParseInt(c.Query("max"), 10, 64)
		msgs, err := searcher.SearchCustomerMessages(c.Request.Context(), order.CustomerEmail, limit)
		if errors.Is(err, inbox.ErrInvalidEmail) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			config.LogError(config.GetLogger(), "orders", "CustomerEmailsHandler", "search", order.OrderId, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "mailbox lookup failed"})
			return
		}
		if msgs == nil {
			msgs = []inbox.MessageSummary{}
		}
		c.JSON(http.StatusOK, CustomerEmailsResponse{Email: order.CustomerEmail, Items: msgs})
	}
}
