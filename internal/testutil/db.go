// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trace-service/internal/config"
	"trace-service/internal/models"
)

// NewTestDB opens a migrated SQLite database in a temp dir owned by t.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "traces.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err, "Failed to create test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps SQLite writers serialized.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, config.MigrateDatabase(db), "Failed to migrate schema")
	return db
}

// CreateUser inserts a visible user and returns its identity.
func CreateUser(t *testing.T, db *gorm.DB, displayName string) *models.Identity {
	t.Helper()
	u := &models.User{DisplayName: displayName, Visible: true}
	require.NoError(t, db.WithContext(context.Background()).Create(u).Error)
	return u.Identity()
}

// InsertTrace stores a visible trace row directly, bypassing the create
// protocol. Zero fields get committed, public defaults.
func InsertTrace(t *testing.T, db *gorm.DB, tr *models.Trace) *models.Trace {
	t.Helper()
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	if tr.Name == "" {
		tr.Name = "track.gpx"
	}
	if tr.Visibility == "" {
		tr.Visibility = models.VisibilityPublic
	}
	if tr.State == "" {
		tr.State = models.StateAwaitingProcessing
	}
	if tr.Extension == "" {
		tr.Extension = ".gpx"
		tr.MimeType = "application/gpx+xml"
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	tr.Tags = models.NewTags(tr.TagString)
	tr.Visible = true
	require.NoError(t, db.Create(tr).Error)
	return tr
}

// HideTrace marks a trace soft-deleted.
func HideTrace(t *testing.T, db *gorm.DB, tr *models.Trace) {
	t.Helper()
	require.NoError(t, db.Model(&models.Trace{}).Where("id = ?", tr.ID).Update("visible", false).Error)
	tr.Visible = false
}
