package service

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/tickrace/tickrace-sub001/internal/config"
	"github.com/tickrace/tickrace-sub001/internal/repository"

	"gorm.io/gorm"
)

func setupInvoiceServiceTest(t *testing.T, name string) (*InvoiceService, *gorm.DB) {
	t.Helper()
	db := openSettlementTestDB(t, name)
	billing := config.BillingConfig{
		VatRateBp:     2000,
		InvoicePrefix: "TR",
		DocumentDir:   t.TempDir(),
		IssuerName:    "Tickrace SAS",
	}
	svc := NewInvoiceService(
		repository.NewCourseRepository(db),
		repository.NewLedgerRepository(db),
		repository.NewInvoiceRepository(db),
		disabledQueueClient(t),
		billing,
	)
	return svc, db
}

func TestInvoiceGenerateTotals(t *testing.T) {
	svc, db := setupInvoiceServiceTest(t, "invoice_generate")
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	seedLedgerPeriod(t, db, from)

	invoice, err := svc.Generate(GenerateInput{OrganizerID: 1, From: from, To: to})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	// Platform fees: 250 on course 1, 500 on course 2.
	if invoice.SubtotalCents != 750 {
		t.Fatalf("unexpected subtotal: %+v", invoice)
	}
	if invoice.VatRateBp != 2000 || invoice.VatCents != 150 {
		t.Fatalf("unexpected vat: %+v", invoice)
	}
	if invoice.TotalCents != 900 {
		t.Fatalf("unexpected total: %+v", invoice)
	}
	if invoice.Number != 1 {
		t.Fatalf("unexpected number: %+v", invoice)
	}
	want := fmt.Sprintf("TR-1-%d-000001", invoice.IssuedAt.Year())
	if invoice.Reference != want {
		t.Fatalf("expected reference %s, got %s", want, invoice.Reference)
	}
	items, ok := invoice.Lines["items"].([]interface{})
	if !ok || len(items) != 2 {
		t.Fatalf("unexpected lines: %+v", invoice.Lines)
	}
	if invoice.DocumentPath == "" {
		t.Fatalf("document not rendered: %+v", invoice)
	}
	if _, err := os.Stat(invoice.DocumentPath); err != nil {
		t.Fatalf("document missing on disk: %v", err)
	}
}

func TestInvoiceSequentialNumbers(t *testing.T) {
	svc, db := setupInvoiceServiceTest(t, "invoice_sequence")
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	seedLedgerPeriod(t, db, from)

	first, err := svc.Generate(GenerateInput{OrganizerID: 1, From: from, To: to})
	if err != nil {
		t.Fatalf("first Generate error: %v", err)
	}
	// Overlap is allowed, the sequence must still advance without gaps.
	second, err := svc.Generate(GenerateInput{OrganizerID: 1, From: from, To: to})
	if err != nil {
		t.Fatalf("second Generate error: %v", err)
	}
	if first.Number != 1 || second.Number != 2 {
		t.Fatalf("expected numbers 1 and 2, got %d and %d", first.Number, second.Number)
	}
	if first.Reference == second.Reference {
		t.Fatalf("references must be unique: %s", first.Reference)
	}

	invoices, err := svc.ListByOrganizer(1)
	if err != nil {
		t.Fatalf("ListByOrganizer error: %v", err)
	}
	if len(invoices) != 2 {
		t.Fatalf("expected 2 invoices, got %d", len(invoices))
	}
}

func TestInvoiceEmptyPeriod(t *testing.T) {
	svc, db := setupInvoiceServiceTest(t, "invoice_empty")
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	seedLedgerPeriod(t, db, from)

	// A month with no confirmed payments yields no invoice.
	emptyFrom := from.AddDate(0, 2, 0)
	_, err := svc.Generate(GenerateInput{OrganizerID: 1, From: emptyFrom, To: emptyFrom.AddDate(0, 1, 0)})
	if !errors.Is(err, ErrInvoiceEmpty) {
		t.Fatalf("expected ErrInvoiceEmpty, got %v", err)
	}
}

func TestInvoicePeriodValidation(t *testing.T) {
	svc, _ := setupInvoiceServiceTest(t, "invoice_validation")
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	if _, err := svc.Generate(GenerateInput{OrganizerID: 1, From: from, To: from}); !errors.Is(err, ErrInvoicePeriodInvalid) {
		t.Fatalf("expected ErrInvoicePeriodInvalid, got %v", err)
	}
	if _, err := svc.Generate(GenerateInput{OrganizerID: 42, From: from, To: from.AddDate(0, 1, 0)}); !errors.Is(err, ErrOrganizerNotFound) {
		t.Fatalf("expected ErrOrganizerNotFound, got %v", err)
	}
}
