package services

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"trace-service/internal/metrics"
	"trace-service/internal/models"
	"trace-service/internal/query"
	"trace-service/internal/repository"
	"trace-service/internal/storage"
)

// UserResolver resolves listing scopes given by display name.
type UserResolver interface {
	FindVisibleByDisplayName(ctx context.Context, displayName string) (*models.User, error)
}

// TraceService is the entry point for trace operations. Every call takes the
// viewer explicitly; a nil viewer is anonymous.
type TraceService struct {
	Writer *TraceWriter

	repo    repository.TraceRepository
	users   UserResolver
	prefs   PreferenceStore
	blobs   storage.BlobStore
	metrics *metrics.Metrics
	log     *logrus.Logger
}

// NewTraceService creates a new TraceService.
func NewTraceService(writer *TraceWriter, repo repository.TraceRepository, users UserResolver,
	prefs PreferenceStore, blobs storage.BlobStore, m *metrics.Metrics, log *logrus.Logger) *TraceService {
	return &TraceService{
		Writer:  writer,
		repo:    repo,
		users:   users,
		prefs:   prefs,
		blobs:   blobs,
		metrics: m,
		log:     log,
	}
}

// Blob is an opened trace file ready to be streamed.
type Blob struct {
	Content     io.ReadCloser
	Filename    string
	ContentType string
	Trace       *models.Trace
}

// EditRequest holds the fields to change; nil fields keep their value.
type EditRequest struct {
	Description *string
	TagString   *string
	Visibility  *string
}

// ListRequest selects a listing page. Target takes precedence over DisplayName.
type ListRequest struct {
	Target      *models.Identity
	DisplayName string
	Tag         *string
	Page        int
}

// Listing is one page of traces with the tags found on it.
type Listing struct {
	Traces   []models.Trace   `json:"traces"`
	Tags     []string         `json:"tags"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Target   *models.Identity `json:"target,omitempty"`
	Case     query.Case       `json:"case"`
}

// Create stores a new trace owned by owner.
func (s *TraceService) Create(ctx context.Context, owner *models.Identity, req CreateRequest) (*models.Trace, error) {
	return s.Writer.Create(ctx, owner, req)
}

// Get returns a trace if viewer may see it. Traces the viewer may not see are
// reported as not found.
func (s *TraceService) Get(ctx context.Context, viewer *models.Identity, id uuid.UUID) (*models.Trace, error) {
	trace, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !trace.Visibility.IsPublic() && !trace.OwnedBy(viewer) {
		return nil, ErrNotFound.New("trace %s", id)
	}
	return trace, nil
}

// GetBlob opens a file of a trace viewer may see. Derived variants exist
// only once the import daemon processed the trace.
func (s *TraceService) GetBlob(ctx context.Context, viewer *models.Identity, id uuid.UUID, variant models.BlobVariant) (*Blob, error) {
	trace, err := s.Get(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	if variant.Derived() && trace.State != models.StateProcessed {
		return nil, ErrNotFound.New("%s of trace %s", variant, id)
	}

	key := trace.BlobKey(variant)
	content, err := s.blobs.Read(ctx, key)
	if errors.Is(err, storage.ErrBlobNotFound) {
		return nil, ErrNotFound.New("%s of trace %s", variant, id)
	}
	if err != nil {
		return nil, ErrStorage.Wrap(errors.Wrap(err, "failed to read trace file"))
	}
	return &Blob{
		Content:     content,
		Filename:    key,
		ContentType: trace.BlobContentType(variant),
		Trace:       trace,
	}, nil
}

// Edit changes description, tags or visibility of a trace owned by viewer.
func (s *TraceService) Edit(ctx context.Context, viewer *models.Identity, id uuid.UUID, req EditRequest) (*models.Trace, error) {
	trace, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !trace.OwnedBy(viewer) {
		return nil, ErrForbidden.New("trace %s belongs to another user", id)
	}

	details := repository.Details{
		Description: trace.Description,
		TagString:   trace.TagString,
		Visibility:  trace.Visibility,
	}
	if req.Description != nil {
		details.Description = *req.Description
	}
	if req.TagString != nil {
		details.TagString = *req.TagString
	}
	if req.Visibility != nil {
		v, err := models.ParseVisibility(*req.Visibility)
		if err != nil {
			return nil, ErrValidation.Wrap(err)
		}
		details.Visibility = v
	}

	if err := s.repo.UpdateDetails(ctx, id, viewer.ID, details); err != nil {
		if isRecordNotFound(err) {
			// Soft-deleted since the lookup.
			return nil, ErrNotFound.New("trace %s", id)
		}
		return nil, ErrStorage.Wrap(errors.Wrap(err, "failed to update trace"))
	}

	s.log.WithFields(logrus.Fields{
		"trace_id":   id,
		"user_id":    viewer.ID,
		"visibility": details.Visibility,
	}).Info("Trace updated")
	return s.lookup(ctx, id)
}

// SoftDelete hides a visible trace owned by viewer. Deleting a trace twice,
// or someone else's trace, is forbidden.
func (s *TraceService) SoftDelete(ctx context.Context, viewer *models.Identity, id uuid.UUID) error {
	trace, err := s.repo.GetByID(ctx, id)
	if isRecordNotFound(err) || (err == nil && !trace.Committed()) {
		return ErrNotFound.New("trace %s", id)
	}
	if err != nil {
		return ErrStorage.Wrap(errors.Wrap(err, "failed to load trace"))
	}
	if viewer == nil {
		return ErrForbidden.New("authentication required to delete traces")
	}

	ok, err := s.repo.SoftDelete(ctx, id, viewer.ID)
	if err != nil {
		return ErrStorage.Wrap(errors.Wrap(err, "failed to delete trace"))
	}
	if !ok {
		return ErrForbidden.New("trace %s is not a visible trace of the caller", id)
	}

	s.metrics.IncrementSoftDeletes()
	s.log.WithFields(logrus.Fields{"trace_id": id, "user_id": viewer.ID}).Info("Trace deleted")
	return nil
}

// List returns one page of traces visible to viewer.
func (s *TraceService) List(ctx context.Context, viewer *models.Identity, req ListRequest) (*Listing, error) {
	target := req.Target
	if target == nil && req.DisplayName != "" {
		var err error
		if target, err = s.resolveUser(ctx, req.DisplayName); err != nil {
			return nil, err
		}
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	if page > query.MaxPage {
		return nil, ErrValidation.New("page %d is out of range", page)
	}

	spec := query.BuildListQuery(viewer, target, req.Tag)
	s.metrics.IncrementListRequests(string(spec.Predicate.Case()))

	traces, total, err := s.repo.List(ctx, spec, page)
	if err != nil {
		return nil, ErrStorage.Wrap(errors.Wrap(err, "failed to list traces"))
	}
	tags, err := AggregateTags(ctx, traces, spec.Tagged(), s.repo)
	if err != nil {
		return nil, ErrStorage.Wrap(errors.Wrap(err, "failed to load tags"))
	}

	return &Listing{
		Traces:   traces,
		Tags:     tags,
		Total:    total,
		Page:     page,
		PageSize: spec.Limit,
		Target:   target,
		Case:     spec.Predicate.Case(),
	}, nil
}

// Feed returns the newest publicly listable traces, optionally of one user.
func (s *TraceService) Feed(ctx context.Context, displayName string, tag *string) ([]models.Trace, error) {
	var owner *models.Identity
	if displayName != "" {
		var err error
		if owner, err = s.resolveUser(ctx, displayName); err != nil {
			return nil, err
		}
	}
	traces, _, err := s.repo.List(ctx, query.BuildFeedQuery(owner, tag), 1)
	if err != nil {
		return nil, ErrStorage.Wrap(errors.Wrap(err, "failed to list feed"))
	}
	return traces, nil
}

// DefaultVisibility is the visibility preselected for the next upload of user.
func (s *TraceService) DefaultVisibility(ctx context.Context, user *models.Identity) (models.Visibility, error) {
	if user == nil {
		return models.VisibilityPrivate, nil
	}
	raw, ok, err := s.prefs.Get(ctx, user.ID, models.PreferenceTraceVisibility)
	if err != nil {
		return "", ErrStorage.Wrap(errors.Wrap(err, "failed to read preferences"))
	}
	if ok {
		if v, err := models.ParseVisibility(raw); err == nil {
			return v, nil
		}
		s.log.WithFields(logrus.Fields{"user_id": user.ID, "value": raw}).Warn("Ignoring invalid visibility preference")
	}

	legacy, ok, err := s.prefs.Get(ctx, user.ID, models.PreferenceTracePublic)
	if err != nil {
		return "", ErrStorage.Wrap(errors.Wrap(err, "failed to read preferences"))
	}
	if ok && legacy == "default" {
		return models.VisibilityPublic, nil
	}
	return models.VisibilityPrivate, nil
}

// lookup loads a trace that exists for readers: committed and not soft-deleted.
func (s *TraceService) lookup(ctx context.Context, id uuid.UUID) (*models.Trace, error) {
	trace, err := s.repo.GetByID(ctx, id)
	if isRecordNotFound(err) {
		return nil, ErrNotFound.New("trace %s", id)
	}
	if err != nil {
		return nil, ErrStorage.Wrap(errors.Wrap(err, "failed to load trace"))
	}
	if !trace.Visible || !trace.Committed() {
		return nil, ErrNotFound.New("trace %s", id)
	}
	return trace, nil
}

func (s *TraceService) resolveUser(ctx context.Context, displayName string) (*models.Identity, error) {
	user, err := s.users.FindVisibleByDisplayName(ctx, displayName)
	if isRecordNotFound(err) {
		return nil, ErrUserNotFound.New("%s", displayName)
	}
	if err != nil {
		return nil, ErrStorage.Wrap(errors.Wrap(err, "failed to resolve user"))
	}
	return user.Identity(), nil
}
