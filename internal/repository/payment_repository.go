package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/tickrace/tickrace-sub001/internal/constants"
	"github.com/tickrace/tickrace-sub001/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrRefundExceedsGross is returned when a cumulative-refund update would
// push refunded_cents past gross_cents.
var ErrRefundExceedsGross = errors.New("refund exceeds gross amount")

// PaymentRepository payment data access.
type PaymentRepository interface {
	GetByID(id uint) (*models.Payment, error)
	GetByIDForUpdate(id uint) (*models.Payment, error)
	GetByRegistrationID(registrationID uint) (*models.Payment, error)
	GetByGroupID(groupID uint) (*models.Payment, error)
	GetByProcessorRef(ref string) (*models.Payment, error)
	ApplyRefund(id uint, refundCents int64, at time.Time) (*models.Payment, error)
	Update(payment *models.Payment) error
	WithTx(tx *gorm.DB) *GormPaymentRepository
}

// GormPaymentRepository GORM implementation.
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates the repository.
func NewPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *GormPaymentRepository) WithTx(tx *gorm.DB) *GormPaymentRepository {
	if tx == nil {
		return r
	}
	return &GormPaymentRepository{db: tx}
}

// GetByID fetches a payment, nil when absent.
func (r *GormPaymentRepository) GetByID(id uint) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.First(&payment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// GetByIDForUpdate fetches a payment under a row lock. Must be called inside
// a transaction-bound repository.
func (r *GormPaymentRepository) GetByIDForUpdate(id uint) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&payment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// GetByRegistrationID resolves the payment directly linked to a registration,
// either through the one-to-one link or through the multi-member id array.
func (r *GormPaymentRepository) GetByRegistrationID(registrationID uint) (*models.Payment, error) {
	var payment models.Payment
	result := r.db.Where("registration_id = ?", registrationID).Order("id desc").Limit(1).Find(&payment)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected > 0 {
		return &payment, nil
	}

	// Array-membership link: scan candidate multi-member payments. The JSON
	// column is small (team sizes), so filtering in Go keeps the query
	// portable across sqlite and postgres.
	var candidates []models.Payment
	if err := r.db.Where("registration_ids IS NOT NULL").Order("id desc").Find(&candidates).Error; err != nil {
		return nil, err
	}
	for i := range candidates {
		if candidates[i].RegistrationIDs.Contains(registrationID) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// GetByGroupID resolves the payment attached to a group.
func (r *GormPaymentRepository) GetByGroupID(groupID uint) (*models.Payment, error) {
	var payment models.Payment
	result := r.db.Where("group_id = ?", groupID).Order("id desc").Limit(1).Find(&payment)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &payment, nil
}

// GetByProcessorRef resolves a payment by intent, charge or session reference.
func (r *GormPaymentRepository) GetByProcessorRef(ref string) (*models.Payment, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	var payment models.Payment
	result := r.db.
		Where("intent_ref = ? OR charge_ref = ? OR session_ref = ?", ref, ref, ref).
		Order("id desc").Limit(1).Find(&payment)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &payment, nil
}

// ApplyRefund adds refundCents to the payment's cumulative refunded amount
// with a guard against exceeding the gross amount, then refreshes the
// settlement status. The guarded UPDATE makes concurrent partial refunds
// safe without a read-then-write race.
func (r *GormPaymentRepository) ApplyRefund(id uint, refundCents int64, at time.Time) (*models.Payment, error) {
	if refundCents < 0 {
		return nil, ErrRefundExceedsGross
	}
	result := r.db.Model(&models.Payment{}).
		Where("id = ? AND refunded_cents + ? <= gross_cents", id, refundCents).
		Updates(map[string]interface{}{
			"refunded_cents": gorm.Expr("refunded_cents + ?", refundCents),
			"updated_at":     at,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrRefundExceedsGross
	}

	payment, err := r.GetByID(id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, gorm.ErrRecordNotFound
	}
	status := constants.PaymentStatusPartiallyRefunded
	if payment.RefundedCents >= payment.GrossCents {
		status = constants.PaymentStatusRefunded
	}
	if payment.Status != status {
		if err := r.db.Model(&models.Payment{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{"status": status, "updated_at": at}).Error; err != nil {
			return nil, err
		}
		payment.Status = status
	}
	return payment, nil
}

// Update persists a payment.
func (r *GormPaymentRepository) Update(payment *models.Payment) error {
	return r.db.Save(payment).Error
}
