package reports

import (
	"fmt"
	"io"

	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/utils"
	"github.com/xuri/excelize/v2"
)

const (
	ordersSheet  = "Orders"
	adSpendSheet = "Ad spend"
)

var orderHeadings = []string{
	"Order ID", "Site", "Tour", "Tour date", "Tour time", "Status", "Tags",
	"Tickets", "Currency", "Total", "Ticket cost", "Projected profit",
	"Payment method", "Payment status", "Customer", "Email", "Purchased at",
}

var adSpendHeadings = []string{"Tour", "Currency", "Cost"}

type ExcelExporter interface {
	GetCellValues() []interface{}
}

type orderRow models.Order

func (o orderRow) GetCellValues() []interface{} {
	purchasedAt := ""
	if o.PurchasedAt != nil {
		purchasedAt = o.PurchasedAt.Format("2006-01-02 15:04")
	}
	tags := ""
	for i, t := range o.Tags {
		if i > 0 {
			tags += ", "
		}
		tags += t
	}
	return []interface{}{
		o.OrderId, o.SiteName, o.Tour, o.TourDate, o.TourTime, string(o.Status), tags,
		models.Order(o).TotalTickets(), o.Currency,
		o.TotalCost.InexactFloat64(), o.TotalTicketCost.InexactFloat64(), o.ProjectedProfit.InexactFloat64(),
		utils.DereferencePtr(o.PaymentMethod, ""), utils.DereferencePtr(o.PaymentStatus, ""),
		o.CustomerName, o.CustomerEmail, purchasedAt,
	}
}

type adSpendRow models.AdSpendTotal

func (a adSpendRow) GetCellValues() []interface{} {
	return []interface{}{a.TourName, a.Currency, a.Cost.InexactFloat64()}
}

// WriteOrdersWorkbook writes the orders sheet and an ad-spend summary sheet as xlsx.
func WriteOrdersWorkbook(w io.Writer, orders []models.Order, adSpend []models.AdSpendTotal) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ordersSheet); err != nil {
		return err
	}
	rows := make([]ExcelExporter, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, orderRow(o))
	}
	if err := fillSheet(f, ordersSheet, orderHeadings, rows); err != nil {
		return err
	}

	if _, err := f.NewSheet(adSpendSheet); err != nil {
		return err
	}
	spend := make([]ExcelExporter, 0, len(adSpend))
	for _, a := range adSpend {
		spend = append(spend, adSpendRow(a))
	}
	if err := fillSheet(f, adSpendSheet, adSpendHeadings, spend); err != nil {
		return err
	}

	return f.Write(w)
}

func fillSheet(f *excelize.File, sheetName string, headings []string, data []ExcelExporter) error {
	for i, h := range headings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}
	for r, d := range data {
		for c, value := range d.GetCellValues() {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return fmt.Errorf("%s %s: %w", sheetName, cell, err)
			}
		}
	}
	return nil
}
