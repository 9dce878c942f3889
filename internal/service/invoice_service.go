package service

import (
	"fmt"
	"time"

	"github.com/tickrace/tickrace-sub001/internal/config"
	"github.com/tickrace/tickrace-sub001/internal/logger"
	"github.com/tickrace/tickrace-sub001/internal/models"
	"github.com/tickrace/tickrace-sub001/internal/queue"
	"github.com/tickrace/tickrace-sub001/internal/repository"

	"gorm.io/gorm"
)

// InvoiceService bills an organizer for the platform fees collected on its
// courses over a period. Numbers are per organizer, strictly sequential.
type InvoiceService struct {
	courseRepo  repository.CourseRepository
	ledgerRepo  repository.LedgerRepository
	invoiceRepo repository.InvoiceRepository
	queueClient *queue.Client
	billing     config.BillingConfig
	now         func() time.Time
}

// NewInvoiceService creates the service.
func NewInvoiceService(courseRepo repository.CourseRepository, ledgerRepo repository.LedgerRepository, invoiceRepo repository.InvoiceRepository, queueClient *queue.Client, billing config.BillingConfig) *InvoiceService {
	return &InvoiceService{
		courseRepo:  courseRepo,
		ledgerRepo:  ledgerRepo,
		invoiceRepo: invoiceRepo,
		queueClient: queueClient,
		billing:     billing,
		now:         time.Now,
	}
}

// GenerateInput one invoicing request.
type GenerateInput struct {
	OrganizerID uint
	From        time.Time
	To          time.Time
}

// InvoiceLine one per-course aggregation on the invoice.
type InvoiceLine struct {
	CourseID         uint   `json:"course_id"`
	CourseName       string `json:"course_name"`
	PaymentCount     int    `json:"payment_count"`
	PlatformFeeCents int64  `json:"platform_fee_cents"`
}

// Generate issues the invoice for one organizer and period. Overlapping a
// previously invoiced period is allowed but logged, the caller owns period
// hygiene.
func (s *InvoiceService) Generate(input GenerateInput) (*models.Invoice, error) {
	if !input.From.Before(input.To) {
		return nil, ErrInvoicePeriodInvalid
	}
	organizer, err := s.courseRepo.GetOrganizer(input.OrganizerID)
	if err != nil {
		return nil, err
	}
	if organizer == nil {
		return nil, ErrOrganizerNotFound
	}
	courseIDs, err := s.courseRepo.ListCourseIDsByOrganizer(input.OrganizerID)
	if err != nil {
		return nil, err
	}

	payments, err := s.ledgerRepo.ListConfirmedPayments(courseIDs, input.From, input.To)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, ErrInvoiceEmpty
	}

	lines, subtotal := buildInvoiceLines(payments, s.courseNames(courseIDs))
	vat := vatCents(subtotal, s.billing.VatRateBp)
	now := s.now()

	s.warnOnOverlap(input)

	var invoice *models.Invoice
	err = models.DB.Transaction(func(tx *gorm.DB) error {
		invoiceRepo := s.invoiceRepo.WithTx(tx)

		number, err := invoiceRepo.NextNumber(input.OrganizerID)
		if err != nil {
			return err
		}
		invoice = &models.Invoice{
			OrganizerID:   input.OrganizerID,
			Number:        number,
			Reference:     s.reference(input.OrganizerID, number, now),
			PeriodFrom:    input.From,
			PeriodTo:      input.To,
			SubtotalCents: subtotal,
			VatRateBp:     s.billing.VatRateBp,
			VatCents:      vat,
			TotalCents:    subtotal + vat,
			Lines:         linesJSON(lines),
			IssuedAt:      now,
		}
		return invoiceRepo.Create(invoice)
	})
	if err != nil {
		return nil, err
	}

	path, err := renderInvoiceDocument(s.billing, organizer, invoice, lines)
	if err != nil {
		// The invoice row is authoritative, the document can be re-rendered.
		logger.Warnw("invoice_document_render_failed",
			"invoice_id", invoice.ID,
			"error", err,
		)
	} else {
		invoice.DocumentPath = path
		if updErr := models.DB.Model(&models.Invoice{}).
			Where("id = ?", invoice.ID).
			Update("document_path", path).Error; updErr != nil {
			logger.Warnw("invoice_document_path_update_failed",
				"invoice_id", invoice.ID,
				"error", updErr,
			)
		}
	}

	if err := s.queueClient.EnqueueInvoiceEmail(queue.InvoiceEmailPayload{InvoiceID: invoice.ID}); err != nil {
		logger.Warnw("invoice_email_enqueue_failed",
			"invoice_id", invoice.ID,
			"error", err,
		)
	}
	return invoice, nil
}

// GetByID fetches one invoice, nil when it does not exist.
func (s *InvoiceService) GetByID(id uint) (*models.Invoice, error) {
	return s.invoiceRepo.GetByID(id)
}

// ListByOrganizer lists an organizer's invoices.
func (s *InvoiceService) ListByOrganizer(organizerID uint) ([]models.Invoice, error) {
	return s.invoiceRepo.ListByOrganizer(organizerID)
}

func (s *InvoiceService) reference(organizerID uint, number int64, now time.Time) string {
	prefix := s.billing.InvoicePrefix
	if prefix == "" {
		prefix = "TR"
	}
	return fmt.Sprintf("%s-%d-%d-%06d", prefix, organizerID, now.Year(), number)
}

func (s *InvoiceService) courseNames(courseIDs []uint) map[uint]string {
	names := make(map[uint]string, len(courseIDs))
	for _, id := range courseIDs {
		course, err := s.courseRepo.GetCourse(id)
		if err != nil || course == nil {
			continue
		}
		names[id] = course.Name
	}
	return names
}

func (s *InvoiceService) warnOnOverlap(input GenerateInput) {
	existing, err := s.invoiceRepo.ListByOrganizer(input.OrganizerID)
	if err != nil {
		return
	}
	for _, inv := range existing {
		if inv.PeriodFrom.Before(input.To) && input.From.Before(inv.PeriodTo) {
			logger.Warnw("invoice_period_overlap",
				"organizer_id", input.OrganizerID,
				"existing_reference", inv.Reference,
			)
			return
		}
	}
}

func buildInvoiceLines(payments []models.Payment, names map[uint]string) ([]InvoiceLine, int64) {
	byCourse := make(map[uint]*InvoiceLine)
	order := make([]uint, 0)
	var subtotal int64
	for _, p := range payments {
		line, ok := byCourse[p.CourseID]
		if !ok {
			line = &InvoiceLine{CourseID: p.CourseID, CourseName: names[p.CourseID]}
			byCourse[p.CourseID] = line
			order = append(order, p.CourseID)
		}
		line.PaymentCount++
		line.PlatformFeeCents += p.PlatformFeeCents
		subtotal += p.PlatformFeeCents
	}
	lines := make([]InvoiceLine, 0, len(order))
	for _, id := range order {
		lines = append(lines, *byCourse[id])
	}
	return lines, subtotal
}

func linesJSON(lines []InvoiceLine) models.JSON {
	items := make([]interface{}, 0, len(lines))
	for _, line := range lines {
		items = append(items, map[string]interface{}{
			"course_id":          line.CourseID,
			"course_name":        line.CourseName,
			"payment_count":      line.PaymentCount,
			"platform_fee_cents": line.PlatformFeeCents,
		})
	}
	return models.JSON{"items": items}
}

// vatCents applies the basis-point VAT rate with half-up rounding.
func vatCents(subtotal, rateBp int64) int64 {
	if subtotal <= 0 || rateBp <= 0 {
		return 0
	}
	return (subtotal*rateBp + 5000) / 10000
}
