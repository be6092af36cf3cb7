package reconcile

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/utils"
	"gorm.io/gorm"
)

const (
	// FixedMarginPerTicket is what the office keeps per ticket; the rest goes to the agent.
	FixedMarginPerTicket = 11
	DefaultMarginPercent = 25
)

var (
	fixedMargin    = decimal.NewFromInt(FixedMarginPerTicket)
	defaultPercent = decimal.NewFromInt(DefaultMarginPercent)
	hundred        = decimal.NewFromInt(100)
)

type ProfitResult struct {
	Tickets         []models.Ticket
	TotalTicketCost decimal.Decimal
	ProjectedProfit decimal.Decimal
}

// CalculateProfit splits totalCost into agent ticket cost and projected profit.
// TotalTicketCost + ProjectedProfit always equals totalCost.
func CalculateProfit(tickets []models.Ticket, totalCost decimal.Decimal, fallbackPercent decimal.Decimal) ProfitResult {
	totalTickets := 0
	for _, t := range tickets {
		if t.Quantity > 0 {
			totalTickets += t.Quantity
		}
	}

	out := ProfitResult{Tickets: make([]models.Ticket, len(tickets))}
	copy(out.Tickets, tickets)

	if totalTickets == 0 {
		profit := totalCost.Mul(fallbackPercent).Div(hundred).Round(2)
		out.ProjectedProfit = profit
		out.TotalTicketCost = totalCost.Sub(profit)
		return out
	}

	paidPerTicket := totalCost.Div(decimal.NewFromInt(int64(totalTickets)))
	agentCost := decimal.Max(decimal.Zero, paidPerTicket.Sub(fixedMargin)).Round(2)

	ticketCost := decimal.Zero
	for i := range out.Tickets {
		out.Tickets[i].CostPerTicket = agentCost
		if out.Tickets[i].Quantity > 0 {
			ticketCost = ticketCost.Add(agentCost.Mul(decimal.NewFromInt(int64(out.Tickets[i].Quantity))))
		}
	}
	out.TotalTicketCost = ticketCost
	out.ProjectedProfit = totalCost.Sub(ticketCost)
	return out
}

// MarginTable holds fallback profit percentages keyed by normalized tour name.
type MarginTable map[string]decimal.Decimal

func (m MarginTable) Set(tour string, percent decimal.Decimal) {
	m[utils.NormalizeText(tour)] = percent
}

// Lookup is accent and case insensitive and defaults to DefaultMarginPercent.
func (m MarginTable) Lookup(tour string) decimal.Decimal {
	if pct, ok := m[utils.NormalizeText(tour)]; ok {
		return pct
	}
	return defaultPercent
}

func MarginTableFromCredentials(creds []models.WooCommerceCredential) MarginTable {
	table := MarginTable{}
	for _, c := range creds {
		if c.ProfitMargin != nil {
			table.Set(c.TourName, *c.ProfitMargin)
		}
	}
	return table
}

func MarginTableFromLandingTours(tours []models.LandingTour) MarginTable {
	table := MarginTable{}
	for _, t := range tours {
		if t.ProfitMargin != nil {
			table.Set(t.Name, *t.ProfitMargin)
		}
	}
	return table
}

// Merge copies other into m; entries in other win.
func (m MarginTable) Merge(other MarginTable) MarginTable {
	for k, v := range other {
		m[k] = v
	}
	return m
}

// LoadMarginTable builds the table from every credential and landing tour.
func LoadMarginTable(ctx context.Context, db *gorm.DB) (MarginTable, error) {
	var creds []models.WooCommerceCredential
	if err := db.WithContext(ctx).Find(&creds).Error; err != nil {
		return nil, err
	}
	var tours []models.LandingTour
	if err := db.WithContext(ctx).Find(&tours).Error; err != nil {
		return nil, err
	}
	return MarginTableFromLandingTours(tours).Merge(MarginTableFromCredentials(creds)), nil
}

// RecomputeOrderProfit recalculates ticket costs and profit from the stored total and saves them.
func RecomputeOrderProfit(ctx context.Context, db *gorm.DB, order *models.Order, margins MarginTable) error {
	res := CalculateProfit(order.Tickets, order.TotalCost, margins.Lookup(order.Tour))
	order.Tickets = res.Tickets
	order.TotalTicketCost = res.TotalTicketCost
	order.ProjectedProfit = res.ProjectedProfit
	return models.UpdateOrderProfit(db.WithContext(ctx), order)
}
