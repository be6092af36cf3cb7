// Package adspend receives daily advertising costs pushed by the ads script.
package adspend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/utils"
	"gorm.io/gorm"
)

var (
	// Costs above this are Google Ads micros.
	microsThreshold = decimal.NewFromInt(10000)
	micros          = decimal.NewFromInt(1000000)

	ErrEmptyBody = errors.New("body must be a record or an array of records")
)

const (
	defaultCurrency = "EUR"
	defaultSource   = "google_ads"
)

type Record struct {
	Date     string          `json:"date" validate:"required,isodate"`
	TourName string          `json:"tour_name" validate:"required,max=255"`
	Cost     decimal.Decimal `json:"cost"`
	Currency string          `json:"currency" validate:"omitempty,len=3,alpha"`
	Source   string          `json:"source" validate:"omitempty,max=50"`
}

type RecordError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type Report struct {
	Received int           `json:"received"`
	Saved    int           `json:"saved"`
	Errors   []RecordError `json:"errors"`
}

// NormalizeCost turns micros into currency units and rounds to cents.
func NormalizeCost(cost decimal.Decimal) decimal.Decimal {
	if cost.GreaterThan(microsThreshold) {
		cost = cost.Div(micros)
	}
	return cost.Round(2)
}

// splitBody accepts one JSON object or an array of them.
func splitBody(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	if body[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	if body[0] != '{' {
		return nil, ErrEmptyBody
	}
	return []json.RawMessage{body}, nil
}

func toRow(raw json.RawMessage) (models.AdSpend, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.AdSpend{}, err
	}
	rec.TourName = strings.TrimSpace(rec.TourName)
	if err := utils.ValidateStruct(&rec); err != nil {
		return models.AdSpend{}, err
	}
	if rec.Cost.IsNegative() {
		return models.AdSpend{}, fmt.Errorf("cost must not be negative")
	}
	row := models.AdSpend{
		Date:     rec.Date,
		TourName: rec.TourName,
		Cost:     NormalizeCost(rec.Cost),
		Currency: strings.ToUpper(strings.TrimSpace(rec.Currency)),
		Source:   strings.TrimSpace(rec.Source),
	}
	if row.Currency == "" {
		row.Currency = defaultCurrency
	}
	if row.Source == "" {
		row.Source = defaultSource
	}
	return row, nil
}

// Ingest upserts every valid record. One bad record never blocks the others.
func Ingest(ctx context.Context, db *gorm.DB, body []byte) (Report, error) {
	items, err := splitBody(body)
	if err != nil {
		return Report{}, err
	}
	report := Report{Received: len(items), Errors: []RecordError{}}
	for i, raw := range items {
		row, err := toRow(raw)
		if err != nil {
			report.Errors = append(report.Errors, RecordError{Index: i, Error: err.Error()})
			continue
		}
		if err := models.UpsertAdSpend(db.WithContext(ctx), &row); err != nil {
			report.Errors = append(report.Errors, RecordError{Index: i, Error: err.Error()})
			continue
		}
		report.Saved++
	}
	return report, nil
}
