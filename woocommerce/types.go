package woocommerce

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Order is the subset of the WooCommerce v3 order resource the back office reads.
type Order struct {
	ID                 int64      `json:"id"`
	Status             string     `json:"status"`
	Total              string     `json:"total"`
	Currency           string     `json:"currency"`
	DateCreated        string     `json:"date_created"`
	DateCreatedGmt     string     `json:"date_created_gmt"`
	TransactionID      string     `json:"transaction_id"`
	PaymentMethod      string     `json:"payment_method"`
	PaymentMethodTitle string     `json:"payment_method_title"`
	Billing            Billing    `json:"billing"`
	LineItems          []LineItem `json:"line_items"`
}

type Billing struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

func (b Billing) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(b.FirstName) + " " + strings.TrimSpace(b.LastName))
}

// Address joins the street lines.
func (b Billing) Address() string {
	parts := make([]string, 0, 2)
	for _, p := range []string{b.Address1, b.Address2} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

type LineItem struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	ProductID int64      `json:"product_id"`
	Quantity  int        `json:"quantity"`
	Total     string     `json:"total"`
	MetaData  []MetaData `json:"meta_data"`
}

type MetaData struct {
	ID           int64           `json:"id"`
	Key          string          `json:"key"`
	Value        json.RawMessage `json:"value"`
	DisplayKey   string          `json:"display_key"`
	DisplayValue json.RawMessage `json:"display_value"`
}

// StringValue renders the meta value as text. Plugins store strings, numbers or objects here.
func (m MetaData) StringValue() string {
	raw := m.Value
	if len(raw) == 0 {
		raw = m.DisplayValue
	}
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Meta finds the first meta entry whose key or display key matches one of keys (case-insensitive).
func (li LineItem) Meta(keys ...string) string {
	for _, want := range keys {
		for _, m := range li.MetaData {
			if strings.EqualFold(strings.TrimSpace(m.Key), want) || strings.EqualFold(strings.TrimSpace(m.DisplayKey), want) {
				if v := m.StringValue(); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

// ExternalID is the WooCommerce order id as the string used in order keys.
func (o Order) ExternalID() string {
	if o.ID <= 0 {
		return ""
	}
	return strconv.FormatInt(o.ID, 10)
}

type ListOrdersParams struct {
	Page    int
	PerPage int
	After   string
	Status  string
}

type PageInfo struct {
	Total      int
	TotalPages int
}
