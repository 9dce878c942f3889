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

// TeamRefundService refunds a whole group at once. Unlike an individual
// cancellation, a team cancellation this close to the event that nothing
// would be refunded is rejected outright.
type TeamRefundService struct {
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

// NewTeamRefundService creates the service.
func NewTeamRefundService(registrationRepo repository.RegistrationRepository, groupRepo repository.GroupRepository, paymentRepo repository.PaymentRepository, refundRepo repository.RefundRecordRepository, optionRepo repository.OptionRepository, courseRepo repository.CourseRepository, gateway ProcessorGateway, queueClient *queue.Client) *TeamRefundService {
	return &TeamRefundService{
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

// TeamRefundQuote preview of a group refund.
type TeamRefundQuote struct {
	GroupID            uint   `json:"group_id"`
	PaymentID          uint   `json:"payment_id"`
	MemberCount        int    `json:"member_count"`
	Tier               string `json:"tier"`
	Percent            int64  `json:"percent"`
	DaysBefore         int    `json:"days_before"`
	BaseCents          int64  `json:"base_cents"`
	RefundCents        int64  `json:"refund_cents"`
	NonRefundableCents int64  `json:"non_refundable_cents"`
	Currency           string `json:"currency"`
}

// TeamRefundOutcome result of a confirmed group refund.
type TeamRefundOutcome struct {
	Record           *models.RefundRecord `json:"record"`
	Quote            TeamRefundQuote      `json:"quote"`
	Already          bool                 `json:"already"`
	CancelledMembers int64                `json:"cancelled_members"`
	PaymentStatus    string               `json:"payment_status"`
}

// Quote computes what cancelling the whole group would refund right now.
func (s *TeamRefundService) Quote(ctx context.Context, groupID, userID uint) (*TeamRefundQuote, error) {
	group, payment, format, members, err := s.loadTeamContext(groupID, userID)
	if err != nil {
		return nil, err
	}
	if active, err := s.refundRepo.GetActiveByGroupID(group.ID); err != nil {
		return nil, err
	} else if active != nil {
		return nil, ErrAlreadyRefunded
	}
	quote := s.buildQuote(group, payment, format, len(members), s.now())
	return &quote, nil
}

// Confirm cancels the group, all member registrations and their option
// lines, and refunds the team payment. Rejected with ErrNoRefundAllowed
// when the schedule yields zero.
func (s *TeamRefundService) Confirm(ctx context.Context, groupID, userID uint, reason string) (*TeamRefundOutcome, error) {
	group, payment, format, members, err := s.loadTeamContext(groupID, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var (
		record  *models.RefundRecord
		already *models.RefundRecord
		quote   TeamRefundQuote
	)
	err = models.DB.Transaction(func(tx *gorm.DB) error {
		paymentRepo := s.paymentRepo.WithTx(tx)
		refundRepo := s.refundRepo.WithTx(tx)

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

		active, err := refundRepo.GetActiveByGroupID(group.ID)
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
			quote = teamQuoteFromRecord(group.ID, locked, active, format, len(members), now)
			return nil
		}

		quote = s.buildQuote(group, locked, format, len(members), now)
		if quote.RefundCents == 0 {
			return ErrNoRefundAllowed
		}
		if locked.AvailableToRefundCents() == 0 {
			return ErrNothingToRefund
		}

		record = &models.RefundRecord{
			Reference:          uuid.NewString(),
			PaymentID:          locked.ID,
			GroupID:            &group.ID,
			RequestedByUserID:  userID,
			Tier:               quote.Tier,
			Percent:            quote.Percent,
			BaseCents:          quote.BaseCents,
			RefundCents:        quote.RefundCents,
			NonRefundableCents: quote.NonRefundableCents,
			EffectiveRefund:    true,
			Status:             constants.RefundStatusRequested,
			Reason:             strings.TrimSpace(reason),
			RequestedAt:        now,
		}
		return refundRepo.Create(record)
	})
	if err != nil {
		return nil, err
	}
	if already != nil {
		return &TeamRefundOutcome{
			Record:        already,
			Quote:         s.buildQuote(group, payment, format, len(members), now),
			Already:       true,
			PaymentStatus: payment.Status,
		}, nil
	}

	amount := quote.RefundCents
	key := RefundIdempotencyKey(payment.ID, "group", group.ID, record.ID)
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
				logger.Errorw("team_refund_mark_failed_error",
					"refund_record_id", record.ID,
					"error", markErr,
				)
			}
			return nil, ErrProcessorRefundFailed
		}
		// The call may have executed at the processor despite the error.
		// The record stays requested, the retry reuses its idempotency key
		// and the processor deduplicates.
		logger.Warnw("team_refund_processor_unreachable",
			"refund_record_id", record.ID,
			"payment_id", payment.ID,
			"error", err,
		)
		return nil, ErrProcessorUnavailable
	}

	outcome := &TeamRefundOutcome{Record: record, Quote: quote}
	finishedAt := s.now()
	var updated *models.Payment
	err = models.DB.Transaction(func(tx *gorm.DB) error {
		paymentRepo := s.paymentRepo.WithTx(tx)
		refundRepo := s.refundRepo.WithTx(tx)
		registrationRepo := s.registrationRepo.WithTx(tx)
		groupRepo := s.groupRepo.WithTx(tx)
		optionRepo := s.optionRepo.WithTx(tx)

		var err error
		updated, err = paymentRepo.ApplyRefund(payment.ID, amount, finishedAt)
		if err != nil {
			return err
		}
		if err := refundRepo.MarkSucceeded(record.ID, result.RefundID, finishedAt); err != nil {
			return err
		}
		if err := groupRepo.MarkCancelled(group.ID, finishedAt); err != nil {
			return err
		}
		cancelled, err := registrationRepo.CancelGroupMembers(group.ID, finishedAt)
		if err != nil {
			return err
		}
		outcome.CancelledMembers = cancelled
		for _, member := range members {
			if _, err := optionRepo.CancelConfirmedByRegistration(member.ID, finishedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Errorw("team_refund_bookkeeping_failed",
			"refund_record_id", record.ID,
			"payment_id", payment.ID,
			"external_ref", result.RefundID,
			"error", err,
		)
		if enqErr := s.queueClient.EnqueueRefundReconcile(queue.RefundReconcilePayload{
			RefundRecordID: record.ID,
			ExternalRef:    result.RefundID,
		}); enqErr != nil {
			logger.Errorw("team_refund_reconcile_enqueue_failed",
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
		logger.Warnw("team_refund_email_enqueue_failed",
			"refund_record_id", record.ID,
			"error", err,
		)
	}
	return outcome, nil
}

func (s *TeamRefundService) loadTeamContext(groupID, userID uint) (*models.Group, *models.Payment, *models.Format, []models.Registration, error) {
	group, err := s.groupRepo.GetByID(groupID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if group == nil {
		return nil, nil, nil, nil, ErrGroupNotFound
	}
	if userID != 0 && (group.CaptainUserID == nil || *group.CaptainUserID != userID) {
		return nil, nil, nil, nil, ErrNotRegistrationOwner
	}
	if group.Status == constants.GroupStatusCancelled {
		return nil, nil, nil, nil, ErrGroupCancelled
	}

	var payment *models.Payment
	if group.PaymentID != nil {
		payment, err = s.paymentRepo.GetByID(*group.PaymentID)
	} else {
		payment, err = s.paymentRepo.GetByGroupID(group.ID)
	}
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if payment == nil {
		return nil, nil, nil, nil, ErrPaymentNotFound
	}
	if err := checkRefundable(payment); err != nil {
		return nil, nil, nil, nil, err
	}

	format, err := s.courseRepo.GetFormat(group.FormatID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if format == nil {
		return nil, nil, nil, nil, ErrFormatNotFound
	}

	members, err := s.registrationRepo.ListByGroupID(group.ID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return group, payment, format, members, nil
}

// teamQuoteFromRecord rebuilds the quote of an interrupted attempt from
// its stored record, clamped to what is still refundable today.
func teamQuoteFromRecord(groupID uint, payment *models.Payment, record *models.RefundRecord, format *models.Format, memberCount int, now time.Time) TeamRefundQuote {
	refund := record.RefundCents
	if available := payment.AvailableToRefundCents(); refund > available {
		refund = available
	}
	return TeamRefundQuote{
		GroupID:            groupID,
		PaymentID:          payment.ID,
		MemberCount:        memberCount,
		Tier:               record.Tier,
		Percent:            record.Percent,
		DaysBefore:         policy.DaysBefore(format.EventDate, now),
		BaseCents:          record.BaseCents,
		RefundCents:        refund,
		NonRefundableCents: record.BaseCents - refund,
		Currency:           constants.SettlementCurrency,
	}
}

func (s *TeamRefundService) buildQuote(group *models.Group, payment *models.Payment, format *models.Format, memberCount int, now time.Time) TeamRefundQuote {
	q := policy.Compute(payment.GrossCents, format.EventDate, now)
	refund := q.RefundCents
	if available := payment.AvailableToRefundCents(); refund > available {
		refund = available
	}
	return TeamRefundQuote{
		GroupID:            group.ID,
		PaymentID:          payment.ID,
		MemberCount:        memberCount,
		Tier:               q.Tier,
		Percent:            q.Percent,
		DaysBefore:         q.DaysBefore,
		BaseCents:          q.BaseCents,
		RefundCents:        refund,
		NonRefundableCents: q.BaseCents - refund,
		Currency:           constants.SettlementCurrency,
	}
}
