package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trace-service/internal/models"
)

// PreferenceRepository stores per-user key/value preferences.
type PreferenceRepository struct {
	db *gorm.DB
}

// NewPreferenceRepository creates a new PreferenceRepository instance with the provided GORM database connection.
func NewPreferenceRepository(db *gorm.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// Get returns the value of key for user and whether it was set.
func (r *PreferenceRepository) Get(ctx context.Context, user uuid.UUID, key string) (string, bool, error) {
	var pref models.Preference
	err := r.db.WithContext(ctx).First(&pref, "user_id = ? AND k = ?", user, key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return pref.Value, true, nil
}

// Upsert sets key to value for user.
func (r *PreferenceRepository) Upsert(ctx context.Context, user uuid.UUID, key, value string) error {
	pref := models.Preference{UserID: user, Key: key, Value: value}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "k"}},
		DoUpdates: clause.AssignmentColumns([]string{"v"}),
	}).Create(&pref).Error
}
