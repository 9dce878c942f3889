package repository

import (
	"errors"
	"time"

	"github.com/tickrace/tickrace-sub001/internal/constants"
	"github.com/tickrace/tickrace-sub001/internal/models"

	"gorm.io/gorm"
)

// RegistrationRepository registration data access.
type RegistrationRepository interface {
	GetByID(id uint) (*models.Registration, error)
	ListByGroupID(groupID uint) ([]models.Registration, error)
	MarkCancelled(id uint, at time.Time) error
	CancelGroupMembers(groupID uint, at time.Time) (int64, error)
	WithTx(tx *gorm.DB) *GormRegistrationRepository
}

// GormRegistrationRepository GORM implementation.
type GormRegistrationRepository struct {
	db *gorm.DB
}

// NewRegistrationRepository creates the repository.
func NewRegistrationRepository(db *gorm.DB) *GormRegistrationRepository {
	return &GormRegistrationRepository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *GormRegistrationRepository) WithTx(tx *gorm.DB) *GormRegistrationRepository {
	if tx == nil {
		return r
	}
	return &GormRegistrationRepository{db: tx}
}

// GetByID fetches a registration, nil when absent.
func (r *GormRegistrationRepository) GetByID(id uint) (*models.Registration, error) {
	var registration models.Registration
	if err := r.db.First(&registration, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &registration, nil
}

// ListByGroupID fetches all member registrations of a group, oldest first.
func (r *GormRegistrationRepository) ListByGroupID(groupID uint) ([]models.Registration, error) {
	var registrations []models.Registration
	if err := r.db.Where("group_id = ?", groupID).Order("id asc").Find(&registrations).Error; err != nil {
		return nil, err
	}
	return registrations, nil
}

// MarkCancelled flips a registration to cancelled.
func (r *GormRegistrationRepository) MarkCancelled(id uint, at time.Time) error {
	return r.db.Model(&models.Registration{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       constants.RegistrationStatusCancelled,
			"cancelled_at": at,
			"updated_at":   at,
		}).Error
}

// CancelGroupMembers cancels every member registration of a group and
// reports how many rows it touched.
func (r *GormRegistrationRepository) CancelGroupMembers(groupID uint, at time.Time) (int64, error) {
	result := r.db.Model(&models.Registration{}).
		Where("group_id = ? AND status <> ?", groupID, constants.RegistrationStatusCancelled).
		Updates(map[string]interface{}{
			"status":       constants.RegistrationStatusCancelled,
			"cancelled_at": at,
			"updated_at":   at,
		})
	return result.RowsAffected, result.Error
}
