package repository

import (
	"time"

	"github.com/tickrace/tickrace-sub001/internal/constants"
	"github.com/tickrace/tickrace-sub001/internal/models"

	"gorm.io/gorm"
)

// RefundLedgerRow one succeeded refund joined with its payment's course.
type RefundLedgerRow struct {
	models.RefundRecord
	CourseID uint
}

// LedgerRepository assembles the raw money movements of an organizer's
// courses. Period bounds are half-open, from inclusive, to exclusive.
type LedgerRepository interface {
	ListConfirmedPayments(courseIDs []uint, from, to time.Time) ([]models.Payment, error)
	ListSucceededRefunds(courseIDs []uint, from, to time.Time) ([]RefundLedgerRow, error)
	ListFeeAdjustments(courseIDs []uint, from, to time.Time) ([]models.FeeAdjustment, error)
	ListPayouts(organizerID uint, from, to time.Time) ([]models.Payout, error)
	CreateFeeAdjustment(adj *models.FeeAdjustment) error
	WithTx(tx *gorm.DB) *GormLedgerRepository
}

// GormLedgerRepository GORM implementation.
type GormLedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates the repository.
func NewLedgerRepository(db *gorm.DB) *GormLedgerRepository {
	return &GormLedgerRepository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *GormLedgerRepository) WithTx(tx *gorm.DB) *GormLedgerRepository {
	if tx == nil {
		return r
	}
	return &GormLedgerRepository{db: tx}
}

// ListConfirmedPayments lists settled payments of the given courses whose
// confirmation falls into the period.
func (r *GormLedgerRepository) ListConfirmedPayments(courseIDs []uint, from, to time.Time) ([]models.Payment, error) {
	if len(courseIDs) == 0 {
		return nil, nil
	}
	var payments []models.Payment
	err := r.db.
		Where("course_id IN ?", courseIDs).
		Where("status IN ?", []string{
			constants.PaymentStatusConfirmed,
			constants.PaymentStatusPartiallyRefunded,
			constants.PaymentStatusRefunded,
		}).
		Where("confirmed_at >= ? AND confirmed_at < ?", from, to).
		Order("confirmed_at asc, id asc").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// ListSucceededRefunds lists processed refunds against the given courses'
// payments whose processing falls into the period.
func (r *GormLedgerRepository) ListSucceededRefunds(courseIDs []uint, from, to time.Time) ([]RefundLedgerRow, error) {
	if len(courseIDs) == 0 {
		return nil, nil
	}
	var rows []RefundLedgerRow
	err := r.db.Model(&models.RefundRecord{}).
		Select("refund_records.*, payments.course_id AS course_id").
		Joins("JOIN payments ON payments.id = refund_records.payment_id").
		Where("payments.course_id IN ?", courseIDs).
		Where("refund_records.status = ?", constants.RefundStatusSucceeded).
		Where("refund_records.refund_cents > 0").
		Where("refund_records.processed_at >= ? AND refund_records.processed_at < ?", from, to).
		Order("refund_records.processed_at asc, refund_records.id asc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListFeeAdjustments lists fee corrections of the given courses in the period.
func (r *GormLedgerRepository) ListFeeAdjustments(courseIDs []uint, from, to time.Time) ([]models.FeeAdjustment, error) {
	if len(courseIDs) == 0 {
		return nil, nil
	}
	var adjustments []models.FeeAdjustment
	err := r.db.
		Where("course_id IN ?", courseIDs).
		Where("occurred_at >= ? AND occurred_at < ?", from, to).
		Order("occurred_at asc, id asc").
		Find(&adjustments).Error
	if err != nil {
		return nil, err
	}
	return adjustments, nil
}

// ListPayouts lists executed payouts of the organizer in the period.
func (r *GormLedgerRepository) ListPayouts(organizerID uint, from, to time.Time) ([]models.Payout, error) {
	var payouts []models.Payout
	err := r.db.
		Where("organizer_id = ?", organizerID).
		Where("executed_at >= ? AND executed_at < ?", from, to).
		Order("executed_at asc, id asc").
		Find(&payouts).Error
	if err != nil {
		return nil, err
	}
	return payouts, nil
}

// CreateFeeAdjustment records a fee correction.
func (r *GormLedgerRepository) CreateFeeAdjustment(adj *models.FeeAdjustment) error {
	return r.db.Create(adj).Error
}
