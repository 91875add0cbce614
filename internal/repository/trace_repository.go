package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"trace-service/internal/models"
	"trace-service/internal/query"
)

// TraceRepository defines the metadata operations on traces.
type TraceRepository interface {
	// Transaction runs fn against a repository bound to one database transaction.
	Transaction(ctx context.Context, fn func(TraceRepository) error) error

	Create(ctx context.Context, trace *models.Trace) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Trace, error)
	MarkAwaitingProcessing(ctx context.Context, id uuid.UUID) error
	DeletePending(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateDetails(ctx context.Context, id, owner uuid.UUID, details Details) error
	SoftDelete(ctx context.Context, id, owner uuid.UUID) (bool, error)

	List(ctx context.Context, spec query.Spec, page int) ([]models.Trace, int64, error)
	TraceIDsWithTag(ctx context.Context, tag string) ([]uuid.UUID, error)
	TagsFor(ctx context.Context, traceID uuid.UUID) ([]string, error)

	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]models.Trace, error)
	ListAwaitingImport(ctx context.Context, limit int) ([]models.Trace, error)
	CompleteImport(ctx context.Context, id uuid.UUID, summary ImportSummary) error
}

// Details are the owner-editable fields of a trace.
type Details struct {
	Description string
	TagString   string
	Visibility  models.Visibility
}

// ImportSummary is what the import daemon derives from a trace file.
type ImportSummary struct {
	Latitude   float64
	Longitude  float64
	PointCount int64
}

// TraceRepositoryImpl provides methods to interact with the Trace model in the database.
type TraceRepositoryImpl struct {
	db *gorm.DB
}

// NewTraceRepository creates a new TraceRepositoryImpl instance with the provided GORM database connection.
func NewTraceRepository(db *gorm.DB) *TraceRepositoryImpl {
	return &TraceRepositoryImpl{db: db}
}

// Transaction runs fn inside a database transaction; fn's error rolls it back.
func (r *TraceRepositoryImpl) Transaction(ctx context.Context, fn func(TraceRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&TraceRepositoryImpl{db: tx})
	})
}

// Create inserts a trace with its tags and assigns its ID.
func (r *TraceRepositoryImpl) Create(ctx context.Context, trace *models.Trace) error {
	return r.db.WithContext(ctx).Create(trace).Error
}

// GetByID retrieves a trace and its tags by ID.
func (r *TraceRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*models.Trace, error) {
	var trace models.Trace
	err := r.db.WithContext(ctx).Preload("Tags").Preload("User").First(&trace, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &trace, nil
}

// MarkAwaitingProcessing finalizes the create protocol for a pending trace.
func (r *TraceRepositoryImpl) MarkAwaitingProcessing(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&models.Trace{}).
		Where("id = ? AND state = ?", id, models.StatePending).
		Update("state", models.StateAwaitingProcessing)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeletePending removes a trace whose create protocol never finished and
// reports whether a pending row was removed. Committed traces are left alone.
func (r *TraceRepositoryImpl) DeletePending(ctx context.Context, id uuid.UUID) (bool, error) {
	removed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND state = ?", id, models.StatePending).Delete(&models.Trace{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		removed = true
		return tx.Where("trace_id = ?", id).Delete(&models.Tag{}).Error
	})
	return removed, err
}

// UpdateDetails rewrites the editable fields and the tag set of a visible,
// committed trace owned by owner.
func (r *TraceRepositoryImpl) UpdateDetails(ctx context.Context, id, owner uuid.UUID, details Details) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Trace{}).
			Where("id = ? AND user_id = ? AND visible = ? AND state <> ?", id, owner, true, models.StatePending).
			Updates(map[string]any{
				"description": details.Description,
				"tag_string":  details.TagString,
				"visibility":  details.Visibility,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.Where("trace_id = ?", id).Delete(&models.Tag{}).Error; err != nil {
			return err
		}
		tags := models.NewTags(details.TagString)
		if len(tags) == 0 {
			return nil
		}
		for i := range tags {
			tags[i].TraceID = id
		}
		return tx.Create(&tags).Error
	})
}

// SoftDelete hides a visible trace owned by owner. It reports false when no
// visible trace of that owner matched.
func (r *TraceRepositoryImpl) SoftDelete(ctx context.Context, id, owner uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Trace{}).
		Where("id = ? AND user_id = ? AND visible = ?", id, owner, true).
		Update("visible", false)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// List returns one page of traces matching spec plus the total match count.
// Tag-filtered listings resolve the tagged trace ids first.
func (r *TraceRepositoryImpl) List(ctx context.Context, spec query.Spec, page int) ([]models.Trace, int64, error) {
	var tagged []uuid.UUID
	if spec.Tagged() {
		ids, err := r.TraceIDsWithTag(ctx, *spec.Tag)
		if err != nil {
			return nil, 0, err
		}
		tagged = ids
	}

	db := r.db.WithContext(ctx)

	var total int64
	if err := spec.Filter(db.Model(&models.Trace{}), tagged).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var traces []models.Trace
	q := db.Preload("User")
	if !spec.Tagged() {
		q = q.Preload("Tags")
	}
	if err := spec.Page(q, tagged, page).Find(&traces).Error; err != nil {
		return nil, 0, err
	}
	return traces, total, nil
}

// TraceIDsWithTag returns the ids of all traces carrying tag.
func (r *TraceRepositoryImpl) TraceIDsWithTag(ctx context.Context, tag string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.Tag{}).
		Where("tag = ?", tag).
		Distinct().
		Pluck("trace_id", &ids).Error
	return ids, err
}

// TagsFor returns the tags of one trace.
func (r *TraceRepositoryImpl) TagsFor(ctx context.Context, traceID uuid.UUID) ([]string, error) {
	var tags []string
	err := r.db.WithContext(ctx).Model(&models.Tag{}).
		Where("trace_id = ?", traceID).
		Order("id").
		Pluck("tag", &tags).Error
	return tags, err
}

// ListPendingBefore returns pending traces created before cutoff.
func (r *TraceRepositoryImpl) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]models.Trace, error) {
	var traces []models.Trace
	err := r.db.WithContext(ctx).
		Where("state = ? AND created_at < ?", models.StatePending, cutoff).
		Find(&traces).Error
	return traces, err
}

// ListAwaitingImport returns the oldest visible traces eligible for import.
func (r *TraceRepositoryImpl) ListAwaitingImport(ctx context.Context, limit int) ([]models.Trace, error) {
	var traces []models.Trace
	err := r.db.WithContext(ctx).
		Where("state = ? AND visible = ?", models.StateAwaitingProcessing, true).
		Order("created_at").
		Limit(limit).
		Find(&traces).Error
	return traces, err
}

// CompleteImport records the import daemon's summary and marks the trace processed.
func (r *TraceRepositoryImpl) CompleteImport(ctx context.Context, id uuid.UUID, summary ImportSummary) error {
	res := r.db.WithContext(ctx).Model(&models.Trace{}).
		Where("id = ? AND state = ?", id, models.StateAwaitingProcessing).
		Updates(map[string]any{
			"latitude":    summary.Latitude,
			"longitude":   summary.Longitude,
			"point_count": summary.PointCount,
			"state":       models.StateProcessed,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
