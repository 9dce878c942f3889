package models

import (
	"time"
)

// Invoice is one billing document per organizer per period. Immutable once
// issued.
type Invoice struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	OrganizerID   uint      `gorm:"index:idx_invoice_org_number,unique;not null" json:"organizer_id"`
	Number        int64     `gorm:"index:idx_invoice_org_number,unique;not null" json:"number"`
	Reference     string    `gorm:"uniqueIndex;not null" json:"reference"`
	PeriodFrom    time.Time `gorm:"index;not null" json:"period_from"`
	PeriodTo      time.Time `gorm:"index;not null" json:"period_to"`
	SubtotalCents int64     `gorm:"not null" json:"subtotal_cents"`
	VatRateBp     int64     `gorm:"not null" json:"vat_rate_bp"`
	VatCents      int64     `gorm:"not null" json:"vat_cents"`
	TotalCents    int64     `gorm:"not null" json:"total_cents"`
	Lines         JSON      `gorm:"type:json" json:"lines"`
	DocumentPath  string    `json:"document_path,omitempty"`
	IssuedAt      time.Time `gorm:"index;not null" json:"issued_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName overrides the table name.
func (Invoice) TableName() string {
	return "invoices"
}

// InvoiceSequence is the per-organizer invoice counter. The row is locked
// FOR UPDATE inside the issuing transaction so numbers stay gap-free and
// monotonic under concurrent invoicing.
type InvoiceSequence struct {
	OrganizerID uint      `gorm:"primarykey" json:"organizer_id"`
	NextNumber  int64     `gorm:"not null;default:1" json:"next_number"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName overrides the table name.
func (InvoiceSequence) TableName() string {
	return "invoice_sequences"
}
