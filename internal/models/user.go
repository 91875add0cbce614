package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Identity is an authenticated caller, passed explicitly to every store call.
type Identity struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
}

// User is the subset of the account record the trace store reads.
type User struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DisplayName string    `gorm:"not null;uniqueIndex" json:"display_name"`
	Visible     bool      `gorm:"not null;default:true" json:"-"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// BeforeCreate assigns the user identity.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Identity returns u as a caller identity.
func (u *User) Identity() *Identity {
	return &Identity{ID: u.ID, DisplayName: u.DisplayName}
}

// Preference keys used by the trace store.
const (
	PreferenceTraceVisibility = "gps.trace.visibility"
	// PreferenceTracePublic is the legacy boolean key; value "default" means public.
	PreferenceTracePublic = "gps.trace.public"
)

// Preference is a per-user key/value pair.
type Preference struct {
	UserID uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	Key    string    `gorm:"column:k;primaryKey" json:"k"`
	Value  string    `gorm:"column:v;not null" json:"v"`
}

// TableName matches the preferences table of the account service.
func (Preference) TableName() string {
	return "user_preferences"
}
