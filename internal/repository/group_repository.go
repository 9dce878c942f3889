package repository

import (
	"errors"
	"time"

	"github.com/tickrace/tickrace-sub001/internal/constants"
	"github.com/tickrace/tickrace-sub001/internal/models"

	"gorm.io/gorm"
)

// GroupRepository team/group data access.
type GroupRepository interface {
	GetByID(id uint) (*models.Group, error)
	GetByPaymentID(paymentID uint) (*models.Group, error)
	MarkCancelled(id uint, at time.Time) error
	WithTx(tx *gorm.DB) *GormGroupRepository
}

// GormGroupRepository GORM implementation.
type GormGroupRepository struct {
	db *gorm.DB
}

// NewGroupRepository creates the repository.
func NewGroupRepository(db *gorm.DB) *GormGroupRepository {
	return &GormGroupRepository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *GormGroupRepository) WithTx(tx *gorm.DB) *GormGroupRepository {
	if tx == nil {
		return r
	}
	return &GormGroupRepository{db: tx}
}

// GetByID fetches a group, nil when absent.
func (r *GormGroupRepository) GetByID(id uint) (*models.Group, error) {
	var group models.Group
	if err := r.db.First(&group, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}

// GetByPaymentID fetches the group covered by a payment, nil when absent.
func (r *GormGroupRepository) GetByPaymentID(paymentID uint) (*models.Group, error) {
	var group models.Group
	result := r.db.Where("payment_id = ?", paymentID).Limit(1).Find(&group)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &group, nil
}

// MarkCancelled flips a group to cancelled.
func (r *GormGroupRepository) MarkCancelled(id uint, at time.Time) error {
	return r.db.Model(&models.Group{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       constants.GroupStatusCancelled,
			"cancelled_at": at,
			"updated_at":   at,
		}).Error
}
