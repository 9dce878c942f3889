package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tickrace/tickrace-sub001/internal/constants"
	"github.com/tickrace/tickrace-sub001/internal/logger"
	"github.com/tickrace/tickrace-sub001/internal/models"
	"github.com/tickrace/tickrace-sub001/internal/payment/stripe"
	"github.com/tickrace/tickrace-sub001/internal/policy"
	"github.com/tickrace/tickrace-sub001/internal/queue"
	"github.com/tickrace/tickrace-sub001/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RefundService handles refunds of individually paid registrations.
type RefundService struct {
	registrationRepo repository.RegistrationRepository
	groupRepo        repository.GroupRepository
	paymentRepo      repository.PaymentRepository
	refundRepo       repository.RefundRecordRepository
	optionRepo       repository.OptionRepository
	courseRepo       repository.CourseRepository
	gateway          ProcessorGateway
	queueClient      *queue.Client
	now              func() time.Time
}

// NewRefundService creates the service.
func NewRefundService(registrationRepo repository.RegistrationRepository, groupRepo repository.GroupRepository, paymentRepo repository.PaymentRepository, refundRepo repository.RefundRecordRepository, optionRepo repository.OptionRepository, courseRepo repository.CourseRepository, gateway ProcessorGateway, queueClient *queue.Client) *RefundService {
	return &RefundService{
		registrationRepo: registrationRepo,
		groupRepo:        groupRepo,
		paymentRepo:      paymentRepo,
		refundRepo:       refundRepo,
		optionRepo:       optionRepo,
		courseRepo:       courseRepo,
		gateway:          gateway,
		queueClient:      queueClient,
		now:              time.Now,
	}
}

// RefundQuote preview of a refund under the current schedule.
type RefundQuote struct {
	RegistrationID     uint   `json:"registration_id"`
	PaymentID          uint   `json:"payment_id"`
	Tier               string `json:"tier"`
	Percent            int64  `json:"percent"`
	DaysBefore         int    `json:"days_before"`
	BaseCents          int64  `json:"base_cents"`
	RefundCents        int64  `json:"refund_cents"`
	NonRefundableCents int64  `json:"non_refundable_cents"`
	Currency           string `json:"currency"`
}

// RefundOutcome result of a confirmed refund.
type RefundOutcome struct {
	Record          *models.RefundRecord `json:"record"`
	Quote           RefundQuote          `json:"quote"`
	Already         bool                 `json:"already"`
	EffectiveRefund bool                 `json:"effective_refund"`
	PaymentStatus   string               `json:"payment_status"`
}

// Quote computes what a cancellation would refund right now. Read only,
// never touches the processor.
func (s *RefundService) Quote(ctx context.Context, registrationID, userID uint) (*RefundQuote, error) {
	registration, payment, format, err := s.loadRefundContext(registrationID, userID)
	if err != nil {
		return nil, err
	}
	if active, err := s.refundRepo.GetActiveByRegistrationID(registration.ID); err != nil {
		return nil, err
	} else if active != nil {
		return nil, ErrAlreadyRefunded
	}
	quote := s.buildQuote(registration, payment, format)
	return &quote, nil
}

// Confirm executes the refund. The processor call happens outside any
// transaction; bookkeeping before it reserves the attempt, bookkeeping
// after it applies the money movement. A bookkeeping failure after the
// processor accepted is reported as success and repaired asynchronously.
// A transport failure leaves the record requested, so a retried confirm
// resumes it under the same idempotency key instead of refunding twice.
func (s *RefundService) Confirm(ctx context.Context, registrationID, userID uint, reason string) (*RefundOutcome, error) {
	registration, payment, format, err := s.loadRefundContext(registrationID, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var (
		record   *models.RefundRecord
		already  *models.RefundRecord
		quote    RefundQuote
		zeroDone bool
	)
	err = models.DB.Transaction(func(tx *gorm.DB) error {
		paymentRepo := s.paymentRepo.WithTx(tx)
		refundRepo := s.refundRepo.WithTx(tx)
		registrationRepo := s.registrationRepo.WithTx(tx)
		optionRepo := s.optionRepo.WithTx(tx)

		locked, err := paymentRepo.GetByIDForUpdate(payment.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return ErrPaymentNotFound
		}
		if err := checkRefundable(locked); err != nil {
			return err
		}

		active, err := refundRepo.GetActiveByRegistrationID(registration.ID)
		if err != nil {
			return err
		}
		if active != nil {
			if active.Status == constants.RefundStatusSucceeded {
				already = active
				return nil
			}
			// A requested record means a prior attempt never got a
			// definitive answer from the processor. Resume it so the
			// retry reuses its idempotency key.
			record = active
			quote = quoteFromRecord(registration.ID, locked, active, format, now)
			return nil
		}

		quote = s.buildQuoteFrom(registration, locked, format, now)
		if quote.RefundCents > 0 && locked.AvailableToRefundCents() == 0 {
			return ErrNothingToRefund
		}

		record = &models.RefundRecord{
			Reference:          uuid.NewString(),
			PaymentID:          locked.ID,
			RegistrationID:     &registration.ID,
			RequestedByUserID:  userID,
			Tier:               quote.Tier,
			Percent:            quote.Percent,
			BaseCents:          quote.BaseCents,
			RefundCents:        quote.RefundCents,
			NonRefundableCents: quote.NonRefundableCents,
			EffectiveRefund:    quote.RefundCents > 0,
			Status:             constants.RefundStatusRequested,
			Reason:             strings.TrimSpace(reason),
			RequestedAt:        now,
		}
		if quote.RefundCents == 0 {
			// Nothing to move, the cancellation still takes effect.
			record.Status = constants.RefundStatusSucceeded
			record.ProcessedAt = &now
			zeroDone = true
		}
		if err := refundRepo.Create(record); err != nil {
			return err
		}
		if zeroDone {
			if err := registrationRepo.MarkCancelled(registration.ID, now); err != nil {
				return err
			}
			if _, err := optionRepo.CancelConfirmedByRegistration(registration.ID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if already != nil {
		quote = s.buildQuoteFrom(registration, payment, format, now)
		return &RefundOutcome{
			Record:          already,
			Quote:           quote,
			Already:         true,
			EffectiveRefund: already.EffectiveRefund,
			PaymentStatus:   payment.Status,
		}, nil
	}
	if zeroDone {
		return &RefundOutcome{
			Record:          record,
			Quote:           quote,
			EffectiveRefund: false,
			PaymentStatus:   payment.Status,
		}, nil
	}

	amount := quote.RefundCents
	if available := payment.AvailableToRefundCents(); amount > available {
		amount = available
	}
	key := RefundIdempotencyKey(payment.ID, "registration", registration.ID, record.ID)
	result, err := s.gateway.CreateRefund(ctx, stripe.RefundInput{
		ChargeRef:      payment.ChargeRef,
		IntentRef:      payment.IntentRef,
		AmountCents:    amount,
		IdempotencyKey: key,
		Reason:         "requested_by_customer",
		Metadata: map[string]string{
			"refund_reference": record.Reference,
		},
	})
	if err != nil {
		if errors.Is(err, stripe.ErrRefundRejected) {
			failedAt := s.now()
			if markErr := s.refundRepo.MarkFailed(record.ID, err.Error(), failedAt); markErr != nil {
				logger.Errorw("refund_mark_failed_error",
					"refund_record_id", record.ID,
					"error", markErr,
				)
			}
			return nil, ErrProcessorRefundFailed
		}
		// The call may have executed at the processor despite the error.
		// The record stays requested, the retry reuses its idempotency key
		// and the processor deduplicates.
		logger.Warnw("refund_processor_unreachable",
			"refund_record_id", record.ID,
			"payment_id", payment.ID,
			"error", err,
		)
		return nil, ErrProcessorUnavailable
	}

	outcome := &RefundOutcome{
		Record:          record,
		Quote:           quote,
		EffectiveRefund: true,
	}
	finishedAt := s.now()
	var updated *models.Payment
	err = models.DB.Transaction(func(tx *gorm.DB) error {
		paymentRepo := s.paymentRepo.WithTx(tx)
		refundRepo := s.refundRepo.WithTx(tx)
		registrationRepo := s.registrationRepo.WithTx(tx)
		optionRepo := s.optionRepo.WithTx(tx)

		var err error
		updated, err = paymentRepo.ApplyRefund(payment.ID, amount, finishedAt)
		if err != nil {
			return err
		}
		if err := refundRepo.MarkSucceeded(record.ID, result.RefundID, finishedAt); err != nil {
			return err
		}
		if err := registrationRepo.MarkCancelled(registration.ID, finishedAt); err != nil {
			return err
		}
		if _, err := optionRepo.CancelConfirmedByRegistration(registration.ID, finishedAt); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		// Money already moved at the processor. Report success and repair
		// the books asynchronously.
		logger.Errorw("refund_bookkeeping_failed",
			"refund_record_id", record.ID,
			"payment_id", payment.ID,
			"external_ref", result.RefundID,
			"error", err,
		)
		if enqErr := s.queueClient.EnqueueRefundReconcile(queue.RefundReconcilePayload{
			RefundRecordID: record.ID,
			ExternalRef:    result.RefundID,
		}); enqErr != nil {
			logger.Errorw("refund_reconcile_enqueue_failed",
				"refund_record_id", record.ID,
				"error", enqErr,
			)
		}
		record.Status = constants.RefundStatusSucceeded
		record.ExternalRef = result.RefundID
		outcome.PaymentStatus = payment.Status
		return outcome, nil
	}

	record.Status = constants.RefundStatusSucceeded
	record.ExternalRef = result.RefundID
	record.ProcessedAt = &finishedAt
	outcome.PaymentStatus = updated.Status

	if err := s.queueClient.EnqueueRefundEmail(queue.RefundEmailPayload{RefundRecordID: record.ID}); err != nil {
		logger.Warnw("refund_email_enqueue_failed",
			"refund_record_id", record.ID,
			"error", err,
		)
	}
	return outcome, nil
}

// loadRefundContext resolves and validates everything a quote or confirm
// needs before touching the payment row.
func (s *RefundService) loadRefundContext(registrationID, userID uint) (*models.Registration, *models.Payment, *models.Format, error) {
	registration, err := s.registrationRepo.GetByID(registrationID)
	if err != nil {
		return nil, nil, nil, err
	}
	if registration == nil {
		return nil, nil, nil, ErrRegistrationNotFound
	}
	if userID != 0 && (registration.UserID == nil || *registration.UserID != userID) {
		return nil, nil, nil, ErrNotRegistrationOwner
	}
	if registration.Status == constants.RegistrationStatusCancelled {
		return nil, nil, nil, ErrRegistrationCancelled
	}

	link, err := ResolvePaymentLink(s.paymentRepo, s.groupRepo, registration)
	if err != nil {
		return nil, nil, nil, err
	}
	if link.Kind == LinkTeam {
		return nil, nil, nil, ErrTeamPayment
	}
	if err := checkRefundable(link.Payment); err != nil {
		return nil, nil, nil, err
	}

	format, err := s.courseRepo.GetFormat(registration.FormatID)
	if err != nil {
		return nil, nil, nil, err
	}
	if format == nil {
		return nil, nil, nil, ErrFormatNotFound
	}
	return registration, link.Payment, format, nil
}

func (s *RefundService) buildQuote(registration *models.Registration, payment *models.Payment, format *models.Format) RefundQuote {
	return s.buildQuoteFrom(registration, payment, format, s.now())
}

func (s *RefundService) buildQuoteFrom(registration *models.Registration, payment *models.Payment, format *models.Format, now time.Time) RefundQuote {
	q := policy.Compute(payment.GrossCents, format.EventDate, now)
	refund := q.RefundCents
	if available := payment.AvailableToRefundCents(); refund > available {
		refund = available
	}
	return RefundQuote{
		RegistrationID:     registration.ID,
		PaymentID:          payment.ID,
		Tier:               q.Tier,
		Percent:            q.Percent,
		DaysBefore:         q.DaysBefore,
		BaseCents:          q.BaseCents,
		RefundCents:        refund,
		NonRefundableCents: q.BaseCents - refund,
		Currency:           constants.SettlementCurrency,
	}
}

// quoteFromRecord rebuilds the quote of an interrupted attempt from its
// stored record, clamped to what is still refundable today.
func quoteFromRecord(registrationID uint, payment *models.Payment, record *models.RefundRecord, format *models.Format, now time.Time) RefundQuote {
	refund := record.RefundCents
	if available := payment.AvailableToRefundCents(); refund > available {
		refund = available
	}
	return RefundQuote{
		RegistrationID:     registrationID,
		PaymentID:          payment.ID,
		Tier:               record.Tier,
		Percent:            record.Percent,
		DaysBefore:         policy.DaysBefore(format.EventDate, now),
		BaseCents:          record.BaseCents,
		RefundCents:        refund,
		NonRefundableCents: record.BaseCents - refund,
		Currency:           constants.SettlementCurrency,
	}
}

func checkRefundable(payment *models.Payment) error {
	switch payment.Status {
	case constants.PaymentStatusConfirmed, constants.PaymentStatusPartiallyRefunded:
		return nil
	case constants.PaymentStatusRefunded:
		return ErrNothingToRefund
	default:
		return ErrPaymentNotSettled
	}
}
