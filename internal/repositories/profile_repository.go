package repositories

import (
	"errors"

	"social_backend/internal/models"

	"gorm.io/gorm"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
)

// ProfileRepository is the read side of the profile directory.
type ProfileRepository interface {
	FindByUserID(db *gorm.DB, userID uint) (*models.Profile, error)
	FindByID(db *gorm.DB, id uint) (*models.Profile, error)
	FindByIDs(db *gorm.DB, ids []uint) ([]models.Profile, error)
}

type ProfileRepositoryImpl struct{}

func NewProfileRepository() ProfileRepository {
	return &ProfileRepositoryImpl{}
}

func (r *ProfileRepositoryImpl) FindByUserID(db *gorm.DB, userID uint) (*models.Profile, error) {
	var profile models.Profile
	if err := db.Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

func (r *ProfileRepositoryImpl) FindByID(db *gorm.DB, id uint) (*models.Profile, error) {
	var profile models.Profile
	if err := db.First(&profile, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

// FindByIDs returns the profiles that exist; missing ids are simply absent.
func (r *ProfileRepositoryImpl) FindByIDs(db *gorm.DB, ids []uint) ([]models.Profile, error) {
	var profiles []models.Profile
	if len(ids) == 0 {
		return profiles, nil
	}
	err := db.Where("id IN ?", ids).Find(&profiles).Error
	return profiles, err
}
