package models

import (
	"time"
)

// Organizer is the billing counterpart for a set of courses.
type Organizer struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Email       string    `gorm:"index" json:"email"`
	AddressLine string    `json:"address_line"`
	City        string    `json:"city"`
	Country     string    `json:"country"`
	VatID       string    `json:"vat_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName overrides the table name.
func (Organizer) TableName() string {
	return "organizers"
}

// Course is one race event. The settlement core only reads courses.
type Course struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	OrganizerID uint      `gorm:"index;not null" json:"organizer_id"`
	Name        string    `gorm:"not null" json:"name"`
	City        string    `json:"city"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Formats []Format `gorm:"foreignKey:CourseID" json:"formats,omitempty"`
}

// TableName overrides the table name.
func (Course) TableName() string {
	return "courses"
}

// Format is one distance/discipline of a course, carrying the event date
// the refund policy is evaluated against.
type Format struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	CourseID   uint      `gorm:"index;not null" json:"course_id"`
	Name       string    `gorm:"not null" json:"name"`
	EventDate  time.Time `gorm:"index;not null" json:"event_date"`
	PriceCents int64     `gorm:"not null;default:0" json:"price_cents"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName overrides the table name.
func (Format) TableName() string {
	return "formats"
}

// CourseOption is the local add-on catalog entry. Labels shown anywhere come
// from here, never from processor line items.
type CourseOption struct {
	ID               uint      `gorm:"primarykey" json:"id"`
	CourseID         uint      `gorm:"index;not null" json:"course_id"`
	Label            string    `gorm:"not null" json:"label"`
	PriceCents       int64     `gorm:"not null;default:0" json:"price_cents"`
	ExternalPriceRef string    `gorm:"index" json:"external_price_ref"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName overrides the table name.
func (CourseOption) TableName() string {
	return "course_options"
}
