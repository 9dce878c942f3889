package models

import (
	"time"
)

// User is the minimal participant profile the settlement core reads.
type User struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Email     string    `gorm:"index" json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name.
func (User) TableName() string {
	return "users"
}

// Registration is one participant's entry into a race format. Soft state
// only: refunds flip the status, rows are never deleted.
type Registration struct {
	ID          uint       `gorm:"primarykey" json:"id"`
	FormatID    uint       `gorm:"index;not null" json:"format_id"`
	UserID      *uint      `gorm:"index" json:"user_id,omitempty"`
	GroupID     *uint      `gorm:"index" json:"group_id,omitempty"`
	Email       string     `gorm:"index" json:"email"`
	Status      string     `gorm:"index;not null;default:active" json:"status"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName overrides the table name.
func (Registration) TableName() string {
	return "registrations"
}

// Group is a team/relay registration aggregate covered by a single payment.
type Group struct {
	ID            uint       `gorm:"primarykey" json:"id"`
	FormatID      uint       `gorm:"index;not null" json:"format_id"`
	CaptainUserID *uint      `gorm:"index" json:"captain_user_id,omitempty"`
	PaymentID     *uint      `gorm:"index" json:"payment_id,omitempty"`
	Name          string     `json:"name"`
	Status        string     `gorm:"index;not null;default:active" json:"status"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Members []Registration `gorm:"foreignKey:GroupID" json:"members,omitempty"`
}

// TableName overrides the table name.
func (Group) TableName() string {
	return "groups"
}

// RegistrationOption is a purchased add-on anchored to a registration.
// Upsert key is (registration_id, option_id).
type RegistrationOption struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	RegistrationID uint      `gorm:"index:idx_reg_option,unique;not null" json:"registration_id"`
	OptionID       uint      `gorm:"index:idx_reg_option,unique;not null" json:"option_id"`
	Label          string    `json:"label"`
	Quantity       int       `gorm:"not null;default:1" json:"quantity"`
	UnitPriceCents int64     `gorm:"not null;default:0" json:"unit_price_cents"`
	Status         string    `gorm:"index;not null;default:confirmed" json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName overrides the table name.
func (RegistrationOption) TableName() string {
	return "registration_options"
}
