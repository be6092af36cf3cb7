package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/tourdesk/backoffice/models"
)

const layoutHTML = `<!DOCTYPE html>
<html>
<body style="font-family:Arial,Helvetica,sans-serif;color:#222;max-width:600px;margin:0 auto">
{{template "content" .}}
<p style="color:#888;font-size:12px">Order {{.OrderId}}</p>
</body>
</html>`

const bookingHTML = `{{define "content"}}
<h2>Your booking is confirmed</h2>
<p>Dear {{.CustomerName}},</p>
<p>thank you for booking <strong>{{.Tour}}</strong>.</p>
<table cellpadding="4">
<tr><td>Date</td><td>{{.TourDate}}{{if .TourTime}} at {{.TourTime}}{{end}}</td></tr>
{{range .Tickets}}<tr><td>{{.Type}}</td><td>x{{.Quantity}}</td></tr>
{{end}}<tr><td>Total paid</td><td>{{.Total}} {{.Currency}}</td></tr>
</table>
<p>Your tickets will follow in a separate email. Please bring this confirmation on the day.</p>
{{end}}`

const customHTML = `{{define "content"}}
<p>Dear {{.CustomerName}},</p>
{{.Body}}
{{end}}`

var (
	bookingTemplate = template.Must(template.Must(template.New("layout").Parse(layoutHTML)).Parse(bookingHTML))
	customTemplate  = template.Must(template.Must(template.New("layout").Parse(layoutHTML)).Parse(customHTML))
)

type emailView struct {
	OrderId      string
	CustomerName string
	Tour         string
	TourDate     string
	TourTime     string
	Tickets      []models.Ticket
	Total        string
	Currency     string
	Body         template.HTML
}

func viewFor(order models.Order) emailView {
	name := strings.TrimSpace(order.CustomerName)
	if name == "" {
		name = "customer"
	}
	return emailView{
		OrderId:      order.OrderId,
		CustomerName: name,
		Tour:         order.Tour,
		TourDate:     order.TourDate,
		TourTime:     order.TourTime,
		Tickets:      order.Tickets,
		Total:        order.TotalCost.StringFixed(2),
		Currency:     strings.ToUpper(order.Currency),
	}
}

// RenderBookingConfirmation returns the subject and HTML body sent after a direct booking.
func RenderBookingConfirmation(order models.Order) (string, string, error) {
	var buf bytes.Buffer
	if err := bookingTemplate.Execute(&buf, viewFor(order)); err != nil {
		return "", "", err
	}
	subject := fmt.Sprintf("Booking confirmed: %s on %s", order.Tour, order.TourDate)
	return subject, buf.String(), nil
}

// RenderCustomMessage wraps an operator-written HTML body in the standard layout.
// The body comes from admins and is not escaped.
func RenderCustomMessage(order models.Order, body string) (string, error) {
	view := viewFor(order)
	view.Body = template.HTML(body)
	var buf bytes.Buffer
	if err := customTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}
