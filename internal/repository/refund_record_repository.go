package repository

import (
	"errors"
	"time"

	"github.com/tickrace/tickrace-sub001/internal/constants"
	"github.com/tickrace/tickrace-sub001/internal/models"

	"gorm.io/gorm"
)

// RefundRecordRepository refund attempt data access.
type RefundRecordRepository interface {
	Create(record *models.RefundRecord) error
	GetByID(id uint) (*models.RefundRecord, error)
	GetByReference(reference string) (*models.RefundRecord, error)
	GetActiveByRegistrationID(registrationID uint) (*models.RefundRecord, error)
	GetActiveByGroupID(groupID uint) (*models.RefundRecord, error)
	ListByPaymentID(paymentID uint) ([]models.RefundRecord, error)
	MarkSucceeded(id uint, externalRef string, at time.Time) error
	MarkFailed(id uint, reason string, at time.Time) error
	WithTx(tx *gorm.DB) *GormRefundRecordRepository
}

// GormRefundRecordRepository GORM implementation.
type GormRefundRecordRepository struct {
	db *gorm.DB
}

// NewRefundRecordRepository creates the repository.
func NewRefundRecordRepository(db *gorm.DB) *GormRefundRecordRepository {
	return &GormRefundRecordRepository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *GormRefundRecordRepository) WithTx(tx *gorm.DB) *GormRefundRecordRepository {
	if tx == nil {
		return r
	}
	return &GormRefundRecordRepository{db: tx}
}

// Create inserts a refund record.
func (r *GormRefundRecordRepository) Create(record *models.RefundRecord) error {
	return r.db.Create(record).Error
}

// GetByID fetches a record, nil when absent.
func (r *GormRefundRecordRepository) GetByID(id uint) (*models.RefundRecord, error) {
	var record models.RefundRecord
	if err := r.db.First(&record, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// GetByReference fetches a record by its stable reference.
func (r *GormRefundRecordRepository) GetByReference(reference string) (*models.RefundRecord, error) {
	var record models.RefundRecord
	result := r.db.Where("reference = ?", reference).Limit(1).Find(&record)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &record, nil
}

// GetActiveByRegistrationID returns the requested-or-succeeded record of a
// registration, nil when none blocks a new attempt. Failed records do not
// count, a retry is allowed after a failed attempt.
func (r *GormRefundRecordRepository) GetActiveByRegistrationID(registrationID uint) (*models.RefundRecord, error) {
	var record models.RefundRecord
	result := r.db.
		Where("registration_id = ? AND status IN ?", registrationID, activeRefundStatuses()).
		Order("id desc").Limit(1).Find(&record)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &record, nil
}

// GetActiveByGroupID returns the requested-or-succeeded record of a group.
func (r *GormRefundRecordRepository) GetActiveByGroupID(groupID uint) (*models.RefundRecord, error) {
	var record models.RefundRecord
	result := r.db.
		Where("group_id = ? AND status IN ?", groupID, activeRefundStatuses()).
		Order("id desc").Limit(1).Find(&record)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &record, nil
}

// ListByPaymentID lists all records of a payment, oldest first.
func (r *GormRefundRecordRepository) ListByPaymentID(paymentID uint) ([]models.RefundRecord, error) {
	var records []models.RefundRecord
	if err := r.db.Where("payment_id = ?", paymentID).Order("id asc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// MarkSucceeded finalizes a record after the processor accepted the refund.
func (r *GormRefundRecordRepository) MarkSucceeded(id uint, externalRef string, at time.Time) error {
	return r.db.Model(&models.RefundRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       constants.RefundStatusSucceeded,
			"external_ref": externalRef,
			"processed_at": at,
			"updated_at":   at,
		}).Error
}

// MarkFailed finalizes a record after a processor rejection.
func (r *GormRefundRecordRepository) MarkFailed(id uint, reason string, at time.Time) error {
	return r.db.Model(&models.RefundRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       constants.RefundStatusFailed,
			"reason":       reason,
			"processed_at": at,
			"updated_at":   at,
		}).Error
}

func activeRefundStatuses() []string {
	return []string{constants.RefundStatusRequested, constants.RefundStatusSucceeded}
}
