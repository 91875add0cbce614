package repository

import (
	"context"

	"gorm.io/gorm"

	"trace-service/internal/models"
)

// UserRepository provides methods to interact with the User model in the database.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new UserRepository instance with the provided GORM database connection.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindVisibleByDisplayName resolves a display name to a visible user.
func (r *UserRepository) FindVisibleByDisplayName(ctx context.Context, displayName string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where("visible = ? AND display_name = ?", true, displayName).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}
