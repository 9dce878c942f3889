package service

import (
	"context"
	"strings"
	"time"

	"github.com/tickrace/tickrace-sub001/internal/constants"
	"github.com/tickrace/tickrace-sub001/internal/logger"
	"github.com/tickrace/tickrace-sub001/internal/models"
	"github.com/tickrace/tickrace-sub001/internal/repository"

	"gorm.io/gorm"
)

// FeeSyncService pulls the settled processor fee and purchased line items
// back into the local books. Safe to re-run, fee changes land as
// adjustment rows and option lines are upserted.
type FeeSyncService struct {
	paymentRepo repository.PaymentRepository
	optionRepo  repository.OptionRepository
	ledgerRepo  repository.LedgerRepository
	gateway     ProcessorGateway
	now         func() time.Time
}

// NewFeeSyncService creates the service.
func NewFeeSyncService(paymentRepo repository.PaymentRepository, optionRepo repository.OptionRepository, ledgerRepo repository.LedgerRepository, gateway ProcessorGateway) *FeeSyncService {
	return &FeeSyncService{
		paymentRepo: paymentRepo,
		optionRepo:  optionRepo,
		ledgerRepo:  ledgerRepo,
		gateway:     gateway,
		now:         time.Now,
	}
}

// FeeSyncInput identifies the payment to sync, by row id or by any of its
// processor references.
type FeeSyncInput struct {
	PaymentID    uint
	ProcessorRef string
}

// FeeSyncResult what the sync changed.
type FeeSyncResult struct {
	PaymentID         uint   `json:"payment_id"`
	ProcessorFeeCents int64  `json:"processor_fee_cents"`
	DeltaCents        int64  `json:"delta_cents"`
	AdjustmentCreated bool   `json:"adjustment_created"`
	BalanceTxnRef     string `json:"balance_txn_ref"`
	ReceiptURL        string `json:"receipt_url"`
	OptionLines       int    `json:"option_lines"`
}

// Sync fetches the charge detail and writes fees, receipt and option lines
// back onto the payment.
func (s *FeeSyncService) Sync(ctx context.Context, input FeeSyncInput) (*FeeSyncResult, error) {
	payment, err := s.resolvePayment(input)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	if strings.TrimSpace(payment.ChargeRef) == "" {
		return nil, ErrPaymentNotSettled
	}

	charge, err := s.gateway.GetCharge(ctx, payment.ChargeRef)
	if err != nil {
		return nil, ErrProcessorUnavailable
	}

	now := s.now()
	result := &FeeSyncResult{
		PaymentID:         payment.ID,
		ProcessorFeeCents: charge.FeeCents,
		BalanceTxnRef:     charge.BalanceTxnRef,
		ReceiptURL:        charge.ReceiptURL,
	}
	err = models.DB.Transaction(func(tx *gorm.DB) error {
		paymentRepo := s.paymentRepo.WithTx(tx)
		ledgerRepo := s.ledgerRepo.WithTx(tx)

		locked, err := paymentRepo.GetByIDForUpdate(payment.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return ErrPaymentNotFound
		}

		if locked.ProcessorFeeCents != nil && *locked.ProcessorFeeCents != charge.FeeCents {
			// Fee moved after the first sync, usually a dispute or a
			// currency-conversion correction. Book the delta instead of
			// silently rewriting history.
			result.DeltaCents = charge.FeeCents - *locked.ProcessorFeeCents
			result.AdjustmentCreated = true
			if err := ledgerRepo.CreateFeeAdjustment(&models.FeeAdjustment{
				PaymentID:  locked.ID,
				CourseID:   locked.CourseID,
				DeltaCents: result.DeltaCents,
				Reason:     "processor_fee_resync",
				OccurredAt: now,
			}); err != nil {
				return err
			}
		}

		fee := charge.FeeCents
		locked.ProcessorFeeCents = &fee
		if charge.BalanceTxnRef != "" {
			locked.BalanceTxnRef = charge.BalanceTxnRef
		}
		if charge.ReceiptURL != "" {
			locked.ReceiptURL = charge.ReceiptURL
		}
		locked.FeeSyncedAt = &now
		return paymentRepo.Update(locked)
	})
	if err != nil {
		return nil, err
	}

	if payment.RegistrationID != nil && strings.TrimSpace(payment.SessionRef) != "" {
		lines, err := s.syncOptionLines(ctx, payment, now)
		if err != nil {
			// Fees are already booked, a line-item hiccup should not fail
			// the whole sync.
			logger.Warnw("fee_sync_option_lines_failed",
				"payment_id", payment.ID,
				"error", err,
			)
		}
		result.OptionLines = lines
	}
	return result, nil
}

func (s *FeeSyncService) resolvePayment(input FeeSyncInput) (*models.Payment, error) {
	if input.PaymentID != 0 {
		return s.paymentRepo.GetByID(input.PaymentID)
	}
	if strings.TrimSpace(input.ProcessorRef) != "" {
		return s.paymentRepo.GetByProcessorRef(input.ProcessorRef)
	}
	return nil, ErrPaymentNotFound
}

// syncOptionLines mirrors the checkout's add-on lines onto the registration.
// Lines without a matching catalog entry are skipped, that covers the
// entrance fee line itself. Labels always come from the local catalog.
func (s *FeeSyncService) syncOptionLines(ctx context.Context, payment *models.Payment, now time.Time) (int, error) {
	items, err := s.gateway.ListLineItems(ctx, payment.SessionRef)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, item := range items {
		if item.PriceRef == "" || item.Quantity <= 0 {
			continue
		}
		option, err := s.optionRepo.GetCatalogOptionByPriceRef(payment.CourseID, item.PriceRef)
		if err != nil {
			return count, err
		}
		if option == nil {
			continue
		}
		line := &models.RegistrationOption{
			RegistrationID: *payment.RegistrationID,
			OptionID:       option.ID,
			Label:          option.Label,
			Quantity:       int(item.Quantity),
			UnitPriceCents: item.AmountTotalCents / item.Quantity,
			Status:         constants.OptionStatusConfirmed,
			UpdatedAt:      now,
		}
		if err := s.optionRepo.UpsertLine(line); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
