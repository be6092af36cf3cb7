package reconcile

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/woocommerce"
)

var (
	trailingCount      = regexp.MustCompile(`(?i)^(.*?)\s+x\s*(\d+)$`)
	parenthesizedCount = regexp.MustCompile(`(?i)\(\s*x\s*(\d+)\s*\)`)
)

// ParseTicketLine reads the ticket type and count from a line item name.
// A count written in the name ("Adult x2", "Adult (x2)") wins over quantity.
func ParseTicketLine(name string, quantity int) models.Ticket {
	trimmed := strings.TrimSpace(name)

	if m := trailingCount.FindStringSubmatch(trimmed); m != nil {
		if n, ok := positiveCount(m[2]); ok {
			if t := strings.TrimSpace(m[1]); t != "" {
				return models.Ticket{Type: t, Quantity: n}
			}
		}
	}

	if loc := parenthesizedCount.FindStringSubmatchIndex(trimmed); loc != nil {
		if n, ok := positiveCount(trimmed[loc[2]:loc[3]]); ok {
			rest := trimmed[:loc[0]] + " " + trimmed[loc[1]:]
			if t := strings.Join(strings.Fields(rest), " "); t != "" {
				return models.Ticket{Type: t, Quantity: n}
			}
		}
	}

	if quantity <= 0 {
		quantity = 1
	}
	return models.Ticket{Type: trimmed, Quantity: quantity}
}

func positiveCount(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func TicketsFromLineItems(items []woocommerce.LineItem) []models.Ticket {
	tickets := make([]models.Ticket, 0, len(items))
	for _, li := range items {
		tickets = append(tickets, ParseTicketLine(li.Name, li.Quantity))
	}
	return tickets
}
