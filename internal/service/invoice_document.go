package service

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/tickrace/tickrace-sub001/internal/config"
	"github.com/tickrace/tickrace-sub001/internal/models"

	"github.com/shopspring/decimal"
)

var invoiceTemplate = template.Must(template.New("invoice").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Invoice {{.Reference}}</title>
<style>
body { font-family: sans-serif; margin: 40px; color: #222; }
table { border-collapse: collapse; width: 100%; margin-top: 24px; }
th, td { border: 1px solid #ccc; padding: 8px 12px; text-align: left; }
td.amount, th.amount { text-align: right; }
.totals td { border: none; }
</style>
</head>
<body>
<h1>Invoice {{.Reference}}</h1>
<p><strong>{{.IssuerName}}</strong><br>{{.IssuerAddress}}<br>VAT {{.IssuerVatID}}</p>
<p>Billed to: <strong>{{.OrganizerName}}</strong><br>{{.OrganizerAddress}}{{if .OrganizerVatID}}<br>VAT {{.OrganizerVatID}}{{end}}</p>
<p>Period: {{.PeriodFrom}} to {{.PeriodTo}}<br>Issued: {{.IssuedAt}}</p>
<table>
<tr><th>Course</th><th class="amount">Payments</th><th class="amount">Platform fees</th></tr>
{{range .Lines}}<tr><td>{{.CourseName}}</td><td class="amount">{{.PaymentCount}}</td><td class="amount">{{.PlatformFee}}</td></tr>
{{end}}</table>
<table class="totals">
<tr><td>Subtotal</td><td class="amount">{{.Subtotal}}</td></tr>
<tr><td>VAT ({{.VatRatePercent}}%)</td><td class="amount">{{.Vat}}</td></tr>
<tr><td><strong>Total</strong></td><td class="amount"><strong>{{.Total}}</strong></td></tr>
</table>
</body>
</html>
`))

type invoiceDocumentData struct {
	Reference        string
	IssuerName       string
	IssuerAddress    string
	IssuerVatID      string
	OrganizerName    string
	OrganizerAddress string
	OrganizerVatID   string
	PeriodFrom       string
	PeriodTo         string
	IssuedAt         string
	Lines            []invoiceDocumentLine
	Subtotal         string
	Vat              string
	VatRatePercent   string
	Total            string
}

type invoiceDocumentLine struct {
	CourseName   string
	PaymentCount int
	PlatformFee  string
}

// renderInvoiceDocument writes the HTML billing document and returns its
// path.
func renderInvoiceDocument(billing config.BillingConfig, organizer *models.Organizer, invoice *models.Invoice, lines []InvoiceLine) (string, error) {
	dir := billing.DocumentDir
	if dir == "" {
		dir = "./documents"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	data := invoiceDocumentData{
		Reference:        invoice.Reference,
		IssuerName:       billing.IssuerName,
		IssuerAddress:    billing.IssuerAddress,
		IssuerVatID:      billing.IssuerVatID,
		OrganizerName:    organizer.Name,
		OrganizerAddress: organizerAddress(organizer),
		OrganizerVatID:   organizer.VatID,
		PeriodFrom:       invoice.PeriodFrom.Format("2006-01-02"),
		PeriodTo:         invoice.PeriodTo.Format("2006-01-02"),
		IssuedAt:         invoice.IssuedAt.Format("2006-01-02"),
		Subtotal:         FormatCents(invoice.SubtotalCents),
		Vat:              FormatCents(invoice.VatCents),
		VatRatePercent:   decimal.NewFromInt(invoice.VatRateBp).Div(decimal.NewFromInt(100)).String(),
		Total:            FormatCents(invoice.TotalCents),
	}
	for _, line := range lines {
		data.Lines = append(data.Lines, invoiceDocumentLine{
			CourseName:   line.CourseName,
			PaymentCount: line.PaymentCount,
			PlatformFee:  FormatCents(line.PlatformFeeCents),
		})
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.html", invoice.Reference))
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	if err := invoiceTemplate.Execute(file, data); err != nil {
		return "", err
	}
	return path, nil
}

func organizerAddress(organizer *models.Organizer) string {
	address := organizer.AddressLine
	if organizer.City != "" {
		if address != "" {
			address += ", "
		}
		address += organizer.City
	}
	if organizer.Country != "" {
		if address != "" {
			address += ", "
		}
		address += organizer.Country
	}
	return address
}

// FormatCents renders integer minor units as a euro amount string.
func FormatCents(cents int64) string {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).StringFixed(2) + " EUR"
}
