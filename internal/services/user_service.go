// internal/services/user_service.go
package services

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/opencohort/bootcamp-backend/internal/database"
	"github.com/opencohort/bootcamp-backend/internal/models"
)

// UserService owns profile reads and updates. Profile completion is a state
// derivation input, so an update re-derives every open application the user
// has.
type UserService struct {
	db                 *gorm.DB
	applicationService *ApplicationService
}

func NewUserService(db *gorm.DB, applicationService *ApplicationService) *UserService {
	return &UserService{
		db:                 db,
		applicationService: applicationService,
	}
}

func (s *UserService) GetUser(userID uint) (*models.User, error) {
	var user models.User
	if err := s.db.Preload("Profile").First(&user, userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewValidationError("user %d not found", userID)
		}
		return nil, err
	}
	return &user, nil
}

type UpdateProfileRequest struct {
	Name string `json:"name" validate:"required"`
}

func (s *UserService) UpdateProfile(userID uint, req *UpdateProfileRequest) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.Where("user_id = ?", userID).First(&profile).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		profile = models.Profile{UserID: userID}
	case err != nil:
		return nil, err
	}

	err = database.WithTransaction(s.db, func(tx *gorm.DB) error {
		profile.Name = req.Name
		if err := tx.Save(&profile).Error; err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}

		var apps []models.BootcampApplication
		if err := tx.Where("user_id = ?", userID).Find(&apps).Error; err != nil {
			return err
		}
		for i := range apps {
			if err := s.applicationService.RefreshState(tx, &apps[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &profile, nil
}
