package repository

import (
	"errors"

	"github.com/tickrace/tickrace-sub001/internal/models"

	"gorm.io/gorm"
)

// CourseRepository course, format and organizer reads.
type CourseRepository interface {
	GetCourse(id uint) (*models.Course, error)
	GetFormat(id uint) (*models.Format, error)
	GetOrganizer(id uint) (*models.Organizer, error)
	ListCourseIDsByOrganizer(organizerID uint) ([]uint, error)
	WithTx(tx *gorm.DB) *GormCourseRepository
}

// GormCourseRepository GORM implementation.
type GormCourseRepository struct {
	db *gorm.DB
}

// NewCourseRepository creates the repository.
func NewCourseRepository(db *gorm.DB) *GormCourseRepository {
	return &GormCourseRepository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *GormCourseRepository) WithTx(tx *gorm.DB) *GormCourseRepository {
	if tx == nil {
		return r
	}
	return &GormCourseRepository{db: tx}
}

// GetCourse fetches a course, nil when absent.
func (r *GormCourseRepository) GetCourse(id uint) (*models.Course, error) {
	var course models.Course
	if err := r.db.First(&course, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &course, nil
}

// GetFormat fetches a race format, nil when absent.
func (r *GormCourseRepository) GetFormat(id uint) (*models.Format, error) {
	var format models.Format
	if err := r.db.First(&format, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &format, nil
}

// GetOrganizer fetches an organizer, nil when absent.
func (r *GormCourseRepository) GetOrganizer(id uint) (*models.Organizer, error) {
	var organizer models.Organizer
	if err := r.db.First(&organizer, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &organizer, nil
}

// ListCourseIDsByOrganizer collects the ids of an organizer's courses.
func (r *GormCourseRepository) ListCourseIDsByOrganizer(organizerID uint) ([]uint, error) {
	var ids []uint
	if err := r.db.Model(&models.Course{}).
		Where("organizer_id = ?", organizerID).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
