package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Visibility is the access level a user picked for a trace.
type Visibility string

const (
	VisibilityPrivate      Visibility = "private"
	VisibilityPublic       Visibility = "public"
	VisibilityIdentifiable Visibility = "identifiable"
	VisibilityTrackable    Visibility = "trackable"
)

// PubliclyListable holds the visibility levels shown to users other than the owner.
var PubliclyListable = []Visibility{VisibilityPublic, VisibilityIdentifiable}

// ParseVisibility validates a raw visibility value.
func ParseVisibility(s string) (Visibility, error) {
	switch v := Visibility(s); v {
	case VisibilityPrivate, VisibilityPublic, VisibilityIdentifiable, VisibilityTrackable:
		return v, nil
	}
	return "", fmt.Errorf("invalid visibility %q", s)
}

// IsPublic reports whether v is one of the publicly listable levels.
func (v Visibility) IsPublic() bool {
	for _, p := range PubliclyListable {
		if v == p {
			return true
		}
	}
	return false
}

// LifecycleState tracks a trace from upload to import.
type LifecycleState string

const (
	// StatePending: the blob is written but the metadata commit is not finalized.
	StatePending LifecycleState = "pending"
	// StateAwaitingProcessing: committed and eligible for the import daemon.
	StateAwaitingProcessing LifecycleState = "awaiting-processing"
	// StateProcessed: the import daemon populated the summary and derivatives.
	StateProcessed LifecycleState = "processed"
)

// Trace is the metadata record of an uploaded GPS track.
type Trace struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	User        *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Name        string         `gorm:"not null" json:"name"`
	Description string         `json:"description"`
	Visibility  Visibility     `gorm:"type:varchar(16);not null;index" json:"visibility"`
	TagString   string         `json:"tag_string"`
	Tags        []Tag          `gorm:"foreignKey:TraceID;constraint:OnDelete:CASCADE" json:"tags,omitempty"`
	Latitude    *float64       `json:"latitude,omitempty"`
	Longitude   *float64       `json:"longitude,omitempty"`
	PointCount  int64          `json:"point_count"`
	Extension   string         `gorm:"type:varchar(16);not null" json:"-"`
	MimeType    string         `gorm:"type:varchar(64);not null" json:"-"`
	Size        int64          `json:"size"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
	Visible     bool           `gorm:"not null;default:true;index" json:"-"`
	State       LifecycleState `gorm:"type:varchar(24);not null;index" json:"state"`
}

// BeforeCreate assigns the trace identity.
func (t *Trace) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// TagNames returns the tags attached to t.
func (t *Trace) TagNames() []string {
	names := make([]string, 0, len(t.Tags))
	for _, tag := range t.Tags {
		names = append(names, tag.Tag)
	}
	return names
}

// OwnedBy reports whether viewer owns t. A nil viewer owns nothing.
func (t *Trace) OwnedBy(viewer *Identity) bool {
	return viewer != nil && viewer.ID == t.UserID
}

// Committed reports whether the create protocol finished for t.
func (t *Trace) Committed() bool {
	return t.State == StateAwaitingProcessing || t.State == StateProcessed
}

// Tag associates one normalized token with a trace.
type Tag struct {
	ID      uint      `gorm:"primaryKey" json:"-"`
	TraceID uuid.UUID `gorm:"type:uuid;not null;index" json:"-"`
	Tag     string    `gorm:"not null;index" json:"tag"`
}

// TableName keeps tags next to their traces.
func (Tag) TableName() string {
	return "trace_tags"
}
