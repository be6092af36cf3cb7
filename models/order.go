package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderStatusUnprocessed    OrderStatus = "unprocessed"
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusOnHold         OrderStatus = "on-hold"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusRefunded       OrderStatus = "refunded"
	OrderStatusFailed         OrderStatus = "failed"
	OrderStatusPendingPayment OrderStatus = "pending-payment"

	// Legacy manual statuses, migrated into tags by cmd/migrate-order-tags.
	OrderStatusReservedDate  OrderStatus = "reserved_date"
	OrderStatusAwaitingReply OrderStatus = "awaiting_reply"
	// OrderStatusNew is what some old import paths wrote for WooCommerce "processing".
	OrderStatusNew OrderStatus = "new"
)

const (
	OrderTagReservedDate  = "reserved_date"
	OrderTagAwaitingReply = "awaiting_reply"
)

type OrderSource string

const (
	OrderSourceWooCommerce OrderSource = "woocommerce"
	OrderSourceDirect      OrderSource = "direct"
)

var automaticStatuses = map[OrderStatus]bool{
	OrderStatusUnprocessed:    true,
	OrderStatusPending:        true,
	OrderStatusOnHold:         true,
	OrderStatusCompleted:      true,
	OrderStatusCancelled:      true,
	OrderStatusRefunded:       true,
	OrderStatusFailed:         true,
	OrderStatusPendingPayment: true,
}

// IsValid reports whether s is one of the statuses the sync can write.
func (s OrderStatus) IsValid() bool {
	return automaticStatuses[s]
}

type Ticket struct {
	Type          string          `json:"type"`
	Quantity      int             `json:"quantity"`
	CostPerTicket decimal.Decimal `json:"cost_per_ticket"`
}

type Order struct {
	ID              uint                        `gorm:"primary_key" json:"id"`
	OrderId         string                      `gorm:"size:128;not null;index:idx_orders_order_id" json:"order_id"`
	Source          OrderSource                 `gorm:"size:20;not null;default:woocommerce" json:"source"`
	SiteName        string                      `gorm:"size:100;index" json:"site_name"`
	ExternalOrderId string                      `gorm:"size:64" json:"external_order_id"`
	Tour            string                      `gorm:"size:255" json:"tour"`
	TourDate        string                      `gorm:"size:32" json:"tour_date"`
	TourTime        string                      `gorm:"size:32" json:"tour_time"`
	TourTimezone    string                      `gorm:"size:64" json:"tour_timezone"`
	Tickets         datatypes.JSONSlice[Ticket] `json:"tickets"`
	Status          OrderStatus                 `gorm:"size:32;not null;index" json:"status"`
	Tags            datatypes.JSONSlice[string] `json:"tags"`
	Currency        string                      `gorm:"size:8" json:"currency"`
	TotalCost       decimal.Decimal             `gorm:"type:decimal(14,2);not null;default:0" json:"total_cost"`
	TotalTicketCost decimal.Decimal             `gorm:"type:decimal(14,2);not null;default:0" json:"total_ticket_cost"`
	ProjectedProfit decimal.Decimal             `gorm:"type:decimal(14,2);not null;default:0" json:"projected_profit"`
	PaymentMethod   *string                     `gorm:"size:64" json:"payment_method"`
	PaymentStatus   *string                     `gorm:"size:32" json:"payment_status"`
	PaymentCaptured *bool                       `json:"payment_captured"`
	TransactionId   *string                     `gorm:"size:128" json:"transaction_id"`
	CustomerName    string                      `gorm:"size:255" json:"customer_name"`
	CustomerEmail   string                      `gorm:"size:255;index" json:"customer_email"`
	CustomerPhone   string                      `gorm:"size:32" json:"customer_phone"`
	BillingAddress  *string                     `gorm:"size:512" json:"billing_address"`
	BillingCity     *string                     `gorm:"size:128" json:"billing_city"`
	BillingPostcode *string                     `gorm:"size:32" json:"billing_postcode"`
	BillingCountry  *string                     `gorm:"size:8" json:"billing_country"`
	OfficialUrl     *string                     `gorm:"size:512" json:"official_url"`
	PurchasedAt     *time.Time                  `gorm:"index" json:"purchased_at"`
	CreatedAt       time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsStatusProtected is true when an operator parked the order by hand.
// Automatic syncs must leave the status of such orders alone.
func (o Order) IsStatusProtected() bool {
	if o.Status == OrderStatusReservedDate || o.Status == OrderStatusAwaitingReply {
		return true
	}
	return o.HasTag(OrderTagReservedDate) || o.HasTag(OrderTagAwaitingReply)
}

func (o Order) HasTag(tag string) bool {
	tag = strings.TrimSpace(tag)
	for _, t := range o.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// NormalizeTags trims, drops blanks and de-duplicates while keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func (o *Order) AddTag(tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" || o.HasTag(tag) {
		return false
	}
	o.Tags = append(o.Tags, tag)
	return true
}

func (o *Order) RemoveTag(tag string) bool {
	tag = strings.TrimSpace(tag)
	out := make([]string, 0, len(o.Tags))
	removed := false
	for _, t := range o.Tags {
		if t == tag {
			removed = true
			continue
		}
		out = append(out, t)
	}
	o.Tags = out
	return removed
}

func (o Order) TotalTickets() int {
	n := 0
	for _, t := range o.Tickets {
		n += t.Quantity
	}
	return n
}

type OrderFilter struct {
	SiteName string
	Status   string
	Tag      string
	Search   string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

func (f OrderFilter) Normalize() OrderFilter {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 50
	}
	if f.PageSize > 500 {
		f.PageSize = 500
	}
	return f
}

func GetOrderByOrderId(ctx context.Context, orderId string) (*Order, error) {
	db := config.GetDB().WithContext(ctx)
	var order Order
	err := db.Where("order_id = ?", orderId).Order("updated_at desc").Order("id desc").First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &order, nil
}

func GetOrder(ctx context.Context, id uint) (*Order, error) {
	db := config.GetDB().WithContext(ctx)
	var order Order
	if err := db.First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ListOrders returns one page of orders (newest purchase first) and the total matching count.
func ListOrders(ctx context.Context, filter OrderFilter) ([]Order, int64, error) {
	filter = filter.Normalize()
	db := config.GetDB().WithContext(ctx).Model(&Order{})

	if filter.SiteName != "" {
		db = db.Where("site_name = ?", filter.SiteName)
	}
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	if filter.Search != "" {
		like := "%" + strings.ToLower(filter.Search) + "%"
		db = db.Where("LOWER(order_id) LIKE ? OR LOWER(customer_email) LIKE ? OR LOWER(customer_name) LIKE ?", like, like, like)
	}
	if filter.From != nil {
		db = db.Where("purchased_at >= ?", *filter.From)
	}
	if filter.To != nil {
		db = db.Where("purchased_at < ?", *filter.To)
	}

	var orders []Order
	if filter.Tag != "" {
		// TODO: filter with datatypes.JSONArrayQuery once it builds for sqlite and postgres; v1.2.0 only emits JSON_CONTAINS on mysql.
		var tagged []Order
		var batch []Order
		err := db.FindInBatches(&batch, tagScanBatchSize, func(*gorm.DB, int) error {
			for _, o := range batch {
				if o.HasTag(filter.Tag) {
					tagged = append(tagged, o)
				}
			}
			return nil
		}).Error
		if err != nil {
			return nil, 0, err
		}
		sortNewestFirst(tagged)
		total := int64(len(tagged))
		start := (filter.Page - 1) * filter.PageSize
		if start >= len(tagged) {
			return []Order{}, total, nil
		}
		end := start + filter.PageSize
		if end > len(tagged) {
			end = len(tagged)
		}
		return tagged[start:end], total, nil
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("purchased_at desc").Order("id desc").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

const tagScanBatchSize = 500

// sortNewestFirst orders by purchased_at desc, then id desc. Rows without a purchase time sort last.
func sortNewestFirst(orders []Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i].PurchasedAt, orders[j].PurchasedAt
		switch {
		case a == nil && b == nil:
			return orders[i].ID > orders[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		}
		return orders[i].ID > orders[j].ID
	})
}

// UpdateOrderTags replaces the manual tag set of an order.
func UpdateOrderTags(ctx context.Context, id uint, tags []string) (*Order, error) {
	order, err := GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Tags = NormalizeTags(tags)
	sort.Strings(order.Tags)
	db := config.GetDB().WithContext(ctx)
	if err := db.Model(order).Update("tags", order.Tags).Error; err != nil {
		return nil, err
	}
	return order, nil
}

// UpdateOrderProfit persists recomputed tickets and money columns in one statement.
func UpdateOrderProfit(db *gorm.DB, order *Order) error {
	if !order.TotalTicketCost.Add(order.ProjectedProfit).Equal(order.TotalCost) {
		return fmt.Errorf("order %s: ticket cost %s + profit %s != total %s",
			order.OrderId, order.TotalTicketCost, order.ProjectedProfit, order.TotalCost)
	}
	return db.Model(&Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
		"tickets":           order.Tickets,
		"total_ticket_cost": order.TotalTicketCost,
		"projected_profit":  order.ProjectedProfit,
	}).Error
}
