package models

import (
	"time"
)

// RefundRecord is one row per refund attempt, including zero-amount
// administrative cancellations (for audit). Immutable once succeeded except
// for the external reference filled in at execution.
type RefundRecord struct {
	ID                 uint       `gorm:"primarykey" json:"id"`
	Reference          string     `gorm:"uniqueIndex;not null" json:"reference"`
	PaymentID          uint       `gorm:"index;not null" json:"payment_id"`
	RegistrationID     *uint      `gorm:"index" json:"registration_id,omitempty"` // null for team refunds
	GroupID            *uint      `gorm:"index" json:"group_id,omitempty"`
	RequestedByUserID  uint       `gorm:"index;not null" json:"requested_by_user_id"`
	Tier               string     `gorm:"not null" json:"tier"`
	Percent            int64      `gorm:"not null" json:"percent"`
	BaseCents          int64      `gorm:"not null" json:"base_cents"`
	RefundCents        int64      `gorm:"not null" json:"refund_cents"`
	NonRefundableCents int64      `gorm:"not null" json:"non_refundable_cents"`
	EffectiveRefund    bool       `gorm:"not null;default:false" json:"effective_refund"` // true only if money moved
	Status             string     `gorm:"index;not null" json:"status"`
	ExternalRef        string     `gorm:"index" json:"external_ref,omitempty"` // empty until executed
	Reason             string     `gorm:"type:text" json:"reason,omitempty"`
	RequestedAt        time.Time  `gorm:"index;not null" json:"requested_at"`
	ProcessedAt        *time.Time `gorm:"index" json:"processed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// TableName overrides the table name.
func (RefundRecord) TableName() string {
	return "refund_records"
}
