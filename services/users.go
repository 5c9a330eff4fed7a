package services

import (
	"errors"
	"strings"

	"battle-arena-service/models"

	"gorm.io/gorm"
)

type UserService struct {
	DB *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{DB: db}
}

// UserSummary is the minimal shape exposed to invite pickers; internal
// snapshot fields (email, ban flags) stay private.
type UserSummary struct {
	ExternalUserID    string  `json:"external_user_id"`
	Username          string  `json:"username"`
	ProfilePictureURL *string `json:"profile_picture_url,omitempty"`
}

// GetByExternalID resolves a user from the local snapshot table.
func (s *UserService) GetByExternalID(externalUserID string) (*models.BattleUser, error) {
	var user models.BattleUser
	err := s.DB.First(&user, "external_user_id = ?", externalUserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SearchUsers searches the local snapshot table by username prefix/substring.
func (s *UserService) SearchUsers(query string, limit int) ([]UserSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var users []models.BattleUser
	db := s.DB.Model(&models.BattleUser{}).Where("is_banned = false").Limit(limit)
	if query != "" {
		searchTerm := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
		db = db.Where("LOWER(username) LIKE ?", searchTerm)
	}
	if err := db.Order("username ASC").Find(&users).Error; err != nil {
		return nil, err
	}

	summaries := make([]UserSummary, 0, len(users))
	for _, u := range users {
		summaries = append(summaries, UserSummary{
			ExternalUserID:    u.ExternalUserID,
			Username:          u.Username,
			ProfilePictureURL: u.ProfilePictureURL,
		})
	}
	return summaries, nil
}
