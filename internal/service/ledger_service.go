package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tickrace/tickrace-sub001/internal/cache"
	"github.com/tickrace/tickrace-sub001/internal/constants"
	"github.com/tickrace/tickrace-sub001/internal/repository"
)

const ledgerCacheTTL = 10 * time.Minute

// LedgerService assembles an organizer's money movements into a running
// view with a summary. Read only.
type LedgerService struct {
	courseRepo repository.CourseRepository
	ledgerRepo repository.LedgerRepository
}

// NewLedgerService creates the service.
func NewLedgerService(courseRepo repository.CourseRepository, ledgerRepo repository.LedgerRepository) *LedgerService {
	return &LedgerService{courseRepo: courseRepo, ledgerRepo: ledgerRepo}
}

// LedgerMovement one entry in the organizer's ledger, always in minor
// units. Inflows carry a positive gross, outflows a negative one, and
// every row satisfies Net = Gross - PlatformFee - ProcessorFee.
type LedgerMovement struct {
	Kind              string    `json:"kind"`
	OrganizerID       uint      `json:"organizer_id"`
	CourseID          uint      `json:"course_id,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
	GrossCents        int64     `json:"gross_cents"`
	PlatformFeeCents  int64     `json:"platform_fee_cents"`
	ProcessorFeeCents int64     `json:"processor_fee_cents"`
	NetCents          int64     `json:"net_cents"`
	PaymentID         uint      `json:"payment_id,omitempty"`
	Reference         string    `json:"reference,omitempty"`
	Detail            string    `json:"detail,omitempty"`
}

// LedgerSummary aggregate totals over the period. NetCents is gross minus
// both fee kinds; DueCents is what remains to pay out after refunds,
// adjustments and past payouts.
type LedgerSummary struct {
	GrossCents         int64 `json:"gross_cents"`
	PlatformFeeCents   int64 `json:"platform_fee_cents"`
	ProcessorFeeCents  int64 `json:"processor_fee_cents"`
	NetCents           int64 `json:"net_cents"`
	RefundedCents      int64 `json:"refunded_cents"`
	FeeAdjustmentCents int64 `json:"fee_adjustment_cents"`
	PayoutCents        int64 `json:"payout_cents"`
	DueCents           int64 `json:"due_cents"`
}

// LedgerView the full response of a ledger query.
type LedgerView struct {
	OrganizerID uint             `json:"organizer_id"`
	PeriodFrom  time.Time        `json:"period_from"`
	PeriodTo    time.Time        `json:"period_to"`
	Currency    string           `json:"currency"`
	Movements   []LedgerMovement `json:"movements"`
	Summary     LedgerSummary    `json:"summary"`
}

// View builds the ledger of one organizer over a half-open period.
// Fully elapsed periods are served from cache when redis is wired; the
// current period is always rebuilt.
func (s *LedgerService) View(ctx context.Context, organizerID uint, from, to time.Time) (*LedgerView, error) {
	if !from.Before(to) {
		return nil, ErrInvoicePeriodInvalid
	}
	cacheKey := ""
	if to.Before(time.Now()) {
		cacheKey = fmt.Sprintf("ledger:view:%d:%d:%d", organizerID, from.Unix(), to.Unix())
		var cached LedgerView
		if hit, err := cache.GetJSON(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}
	organizer, err := s.courseRepo.GetOrganizer(organizerID)
	if err != nil {
		return nil, err
	}
	if organizer == nil {
		return nil, ErrOrganizerNotFound
	}
	courseIDs, err := s.courseRepo.ListCourseIDsByOrganizer(organizerID)
	if err != nil {
		return nil, err
	}

	view := &LedgerView{
		OrganizerID: organizerID,
		PeriodFrom:  from,
		PeriodTo:    to,
		Currency:    constants.SettlementCurrency,
		Movements:   []LedgerMovement{},
	}

	payments, err := s.ledgerRepo.ListConfirmedPayments(courseIDs, from, to)
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		occurredAt := p.CreatedAt
		if p.ConfirmedAt != nil {
			occurredAt = *p.ConfirmedAt
		}
		processorFee := int64(0)
		if p.ProcessorFeeCents != nil {
			processorFee = *p.ProcessorFeeCents
		}
		view.Movements = append(view.Movements, LedgerMovement{
			Kind:              constants.MovementPayment,
			OrganizerID:       organizerID,
			CourseID:          p.CourseID,
			OccurredAt:        occurredAt,
			GrossCents:        p.GrossCents,
			PlatformFeeCents:  p.PlatformFeeCents,
			ProcessorFeeCents: processorFee,
			NetCents:          p.GrossCents - p.PlatformFeeCents - processorFee,
			PaymentID:         p.ID,
			Reference:         p.ChargeRef,
		})
		view.Summary.GrossCents += p.GrossCents
		view.Summary.PlatformFeeCents += p.PlatformFeeCents
		view.Summary.ProcessorFeeCents += processorFee
	}

	refunds, err := s.ledgerRepo.ListSucceededRefunds(courseIDs, from, to)
	if err != nil {
		return nil, err
	}
	for _, r := range refunds {
		occurredAt := r.RequestedAt
		if r.ProcessedAt != nil {
			occurredAt = *r.ProcessedAt
		}
		view.Movements = append(view.Movements, LedgerMovement{
			Kind:        constants.MovementRefund,
			OrganizerID: organizerID,
			CourseID:    r.CourseID,
			OccurredAt:  occurredAt,
			GrossCents:  -r.RefundCents,
			NetCents:    -r.RefundCents,
			PaymentID:   r.PaymentID,
			Reference:   r.Reference,
			Detail:      r.Tier,
		})
		view.Summary.RefundedCents += r.RefundCents
	}

	adjustments, err := s.ledgerRepo.ListFeeAdjustments(courseIDs, from, to)
	if err != nil {
		return nil, err
	}
	for _, a := range adjustments {
		view.Movements = append(view.Movements, LedgerMovement{
			Kind:              constants.MovementFeeAdjustment,
			OrganizerID:       organizerID,
			CourseID:          a.CourseID,
			OccurredAt:        a.OccurredAt,
			ProcessorFeeCents: a.DeltaCents,
			NetCents:          -a.DeltaCents,
			PaymentID:         a.PaymentID,
			Detail:            a.Reason,
		})
		view.Summary.FeeAdjustmentCents += a.DeltaCents
	}

	payouts, err := s.ledgerRepo.ListPayouts(organizerID, from, to)
	if err != nil {
		return nil, err
	}
	for _, p := range payouts {
		view.Movements = append(view.Movements, LedgerMovement{
			Kind:        constants.MovementPayout,
			OrganizerID: organizerID,
			OccurredAt:  p.ExecutedAt,
			GrossCents:  -p.AmountCents,
			NetCents:    -p.AmountCents,
			Reference:   p.Reference,
		})
		view.Summary.PayoutCents += p.AmountCents
	}

	sort.SliceStable(view.Movements, func(i, j int) bool {
		return view.Movements[i].OccurredAt.Before(view.Movements[j].OccurredAt)
	})

	view.Summary.NetCents = view.Summary.GrossCents - view.Summary.PlatformFeeCents - view.Summary.ProcessorFeeCents
	view.Summary.DueCents = view.Summary.NetCents -
		view.Summary.RefundedCents -
		view.Summary.FeeAdjustmentCents -
		view.Summary.PayoutCents

	if cacheKey != "" {
		_ = cache.SetJSON(ctx, cacheKey, view, ledgerCacheTTL)
	}
	return view, nil
}
