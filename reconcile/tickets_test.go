package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tourdesk/backoffice/woocommerce"
)

func TestParseTicketLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		quantity int
		wantType string
		wantQty  int
	}{
		{"trailing count", "Adult (18+) Day x2", 1, "Adult (18+) Day", 2},
		{"trailing count upper case", "Child X3", 1, "Child", 3},
		{"trailing count beats quantity field", "Adult x2", 5, "Adult", 2},
		{"parenthesized count", "Adult (x4)", 1, "Adult", 4},
		{"parenthesized count in the middle", "Student (x2) with guide", 1, "Student with guide", 2},
		{"quantity field", "Reduced", 3, "Reduced", 3},
		{"zero quantity defaults to one", "Reduced", 0, "Reduced", 1},
		{"x0 is not a count", "Adult x0", 2, "Adult x0", 2},
		{"word ending in x is not a count", "Max3", 1, "Max3", 1},
		{"surrounding spaces", "  Senior x2  ", 1, "Senior", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTicketLine(tt.line, tt.quantity)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.wantQty, got.Quantity)
		})
	}
}

func TestTicketsFromLineItems_KeepsOrder(t *testing.T) {
	got := TicketsFromLineItems([]woocommerce.LineItem{
		{Name: "Adult x2", Quantity: 1},
		{Name: "Child", Quantity: 1},
	})
	if assert.Len(t, got, 2) {
		assert.Equal(t, "Adult", got[0].Type)
		assert.Equal(t, 2, got[0].Quantity)
		assert.Equal(t, "Child", got[1].Type)
		assert.Equal(t, 1, got[1].Quantity)
	}
}
