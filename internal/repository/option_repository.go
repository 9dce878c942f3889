package repository

import (
	"errors"
	"time"

	"github.com/tickrace/tickrace-sub001/internal/constants"
	"github.com/tickrace/tickrace-sub001/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OptionRepository registration option lines and the option catalog.
type OptionRepository interface {
	GetCatalogOption(id uint) (*models.CourseOption, error)
	GetCatalogOptionByPriceRef(courseID uint, priceRef string) (*models.CourseOption, error)
	ListByRegistrationID(registrationID uint) ([]models.RegistrationOption, error)
	UpsertLine(line *models.RegistrationOption) error
	CancelConfirmedByRegistration(registrationID uint, at time.Time) (int64, error)
	WithTx(tx *gorm.DB) *GormOptionRepository
}

// GormOptionRepository GORM implementation.
type GormOptionRepository struct {
	db *gorm.DB
}

// NewOptionRepository creates the repository.
func NewOptionRepository(db *gorm.DB) *GormOptionRepository {
	return &GormOptionRepository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *GormOptionRepository) WithTx(tx *gorm.DB) *GormOptionRepository {
	if tx == nil {
		return r
	}
	return &GormOptionRepository{db: tx}
}

// GetCatalogOption fetches a catalog option, nil when absent.
func (r *GormOptionRepository) GetCatalogOption(id uint) (*models.CourseOption, error) {
	var option models.CourseOption
	if err := r.db.First(&option, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &option, nil
}

// GetCatalogOptionByPriceRef resolves a catalog option from the processor
// price reference it was published under.
func (r *GormOptionRepository) GetCatalogOptionByPriceRef(courseID uint, priceRef string) (*models.CourseOption, error) {
	if priceRef == "" {
		return nil, nil
	}
	var option models.CourseOption
	result := r.db.
		Where("course_id = ? AND external_price_ref = ?", courseID, priceRef).
		Limit(1).Find(&option)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &option, nil
}

// ListByRegistrationID lists a registration's option lines.
func (r *GormOptionRepository) ListByRegistrationID(registrationID uint) ([]models.RegistrationOption, error) {
	var lines []models.RegistrationOption
	if err := r.db.Where("registration_id = ?", registrationID).Order("id asc").Find(&lines).Error; err != nil {
		return nil, err
	}
	return lines, nil
}

// UpsertLine inserts an option line or refreshes the existing one keyed by
// (registration_id, option_id). Re-running a fee sync must not duplicate
// lines.
func (r *GormOptionRepository) UpsertLine(line *models.RegistrationOption) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "registration_id"}, {Name: "option_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"label", "quantity", "unit_price_cents", "status", "updated_at",
		}),
	}).Create(line).Error
}

// CancelConfirmedByRegistration marks all confirmed option lines of a
// registration cancelled and returns how many were touched.
func (r *GormOptionRepository) CancelConfirmedByRegistration(registrationID uint, at time.Time) (int64, error) {
	result := r.db.Model(&models.RegistrationOption{}).
		Where("registration_id = ? AND status = ?", registrationID, constants.OptionStatusConfirmed).
		Updates(map[string]interface{}{
			"status":     constants.OptionStatusCancelled,
			"updated_at": at,
		})
	return result.RowsAffected, result.Error
}
