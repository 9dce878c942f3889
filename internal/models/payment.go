package models

import (
	"time"
)

// Payment is one external charge. All amounts are integer minor units.
// Invariant: RefundedCents <= GrossCents, enforced by a guarded update.
// Mutated only by refund success and fee synchronization; never deleted.
type Payment struct {
	ID                uint       `gorm:"primarykey" json:"id"`
	CourseID          uint       `gorm:"index;not null" json:"course_id"`
	PayerUserID       *uint      `gorm:"index" json:"payer_user_id,omitempty"`
	RegistrationID    *uint      `gorm:"index" json:"registration_id,omitempty"`
	RegistrationIDs   UintArray  `gorm:"type:json" json:"registration_ids,omitempty"`
	GroupID           *uint      `gorm:"index" json:"group_id,omitempty"`
	GrossCents        int64      `gorm:"not null;default:0" json:"gross_cents"`
	PlatformFeeCents  int64      `gorm:"not null;default:0" json:"platform_fee_cents"`
	ProcessorFeeCents *int64     `json:"processor_fee_cents,omitempty"` // null until synchronized
	RefundedCents     int64      `gorm:"not null;default:0" json:"refunded_cents"`
	Status            string     `gorm:"index;not null;default:pending" json:"status"`
	IntentRef         string     `gorm:"index" json:"intent_ref,omitempty"`
	ChargeRef         string     `gorm:"index" json:"charge_ref,omitempty"`
	SessionRef        string     `gorm:"index" json:"session_ref,omitempty"`
	BalanceTxnRef     string     `json:"balance_txn_ref,omitempty"`
	ReceiptURL        string     `json:"receipt_url,omitempty"`
	ConfirmedAt       *time.Time `gorm:"index" json:"confirmed_at,omitempty"`
	FeeSyncedAt       *time.Time `json:"fee_synced_at,omitempty"`
	CreatedAt         time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName overrides the table name.
func (Payment) TableName() string {
	return "payments"
}

// AvailableToRefundCents returns what remains refundable.
func (p *Payment) AvailableToRefundCents() int64 {
	if p == nil {
		return 0
	}
	return p.GrossCents - p.RefundedCents
}

// FeeAdjustment records a change of the authoritative processor fee after a
// payment was already synchronized once. Feeds the ledger's fee_adjustment
// movements.
type FeeAdjustment struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	PaymentID  uint      `gorm:"index;not null" json:"payment_id"`
	CourseID   uint      `gorm:"index;not null" json:"course_id"`
	DeltaCents int64     `gorm:"not null" json:"delta_cents"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `gorm:"index;not null" json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName overrides the table name.
func (FeeAdjustment) TableName() string {
	return "fee_adjustments"
}

// Payout is money already transferred to an organizer. Ledger payout
// movements are derived from these rows with a negative net amount.
type Payout struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	OrganizerID uint      `gorm:"index;not null" json:"organizer_id"`
	AmountCents int64     `gorm:"not null" json:"amount_cents"`
	Reference   string    `gorm:"index" json:"reference,omitempty"`
	ExecutedAt  time.Time `gorm:"index;not null" json:"executed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName overrides the table name.
func (Payout) TableName() string {
	return "payouts"
}
