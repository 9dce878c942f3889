package repository

import (
	"errors"

	"github.com/tickrace/tickrace-sub001/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InvoiceRepository invoice and numbering data access.
type InvoiceRepository interface {
	Create(invoice *models.Invoice) error
	GetByID(id uint) (*models.Invoice, error)
	ListByOrganizer(organizerID uint) ([]models.Invoice, error)
	NextNumber(organizerID uint) (int64, error)
	WithTx(tx *gorm.DB) *GormInvoiceRepository
}

// GormInvoiceRepository GORM implementation.
type GormInvoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository creates the repository.
func NewInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *GormInvoiceRepository) WithTx(tx *gorm.DB) *GormInvoiceRepository {
	if tx == nil {
		return r
	}
	return &GormInvoiceRepository{db: tx}
}

// Create inserts an invoice.
func (r *GormInvoiceRepository) Create(invoice *models.Invoice) error {
	return r.db.Create(invoice).Error
}

// GetByID fetches an invoice, nil when absent.
func (r *GormInvoiceRepository) GetByID(id uint) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.First(&invoice, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

// ListByOrganizer lists an organizer's invoices, newest first.
func (r *GormInvoiceRepository) ListByOrganizer(organizerID uint) ([]models.Invoice, error) {
	var invoices []models.Invoice
	if err := r.db.Where("organizer_id = ?", organizerID).Order("id desc").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// NextNumber allocates the next per-organizer invoice number. The sequence
// row is locked FOR UPDATE so concurrent generators serialize and numbers
// stay gapless within a transaction's success path. Must be called inside
// a transaction-bound repository.
func (r *GormInvoiceRepository) NextNumber(organizerID uint) (int64, error) {
	var seq models.InvoiceSequence
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("organizer_id = ?", organizerID).
		First(&seq).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, err
		}
		seq = models.InvoiceSequence{OrganizerID: organizerID, NextNumber: 1}
		if createErr := r.db.Create(&seq).Error; createErr != nil {
			return 0, createErr
		}
	}
	number := seq.NextNumber
	if err := r.db.Model(&models.InvoiceSequence{}).
		Where("organizer_id = ?", organizerID).
		Update("next_number", gorm.Expr("next_number + 1")).Error; err != nil {
		return 0, err
	}
	return number, nil
}
