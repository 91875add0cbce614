package services

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/errs"

	"trace-service/internal/filetype"
	"trace-service/internal/handoff"
	"trace-service/internal/metrics"
	"trace-service/internal/models"
	"trace-service/internal/repository"
	"trace-service/internal/storage"
)

// backgroundTimeout bounds the best-effort work done after a create returns.
const backgroundTimeout = 30 * time.Second

// PreferenceStore reads and writes per-user preferences.
type PreferenceStore interface {
	Get(ctx context.Context, user uuid.UUID, key string) (string, bool, error)
	Upsert(ctx context.Context, user uuid.UUID, key, value string) error
}

// Upload is the uploaded trace file.
type Upload struct {
	Filename string
	Content  io.Reader
}

// CreateRequest carries a new trace and its metadata.
type CreateRequest struct {
	Upload      Upload
	TagString   string
	Description string
	// Visibility is the raw requested level; when empty the legacy Public
	// flag decides, and private applies if that is unset too.
	Visibility string
	// Public is the legacy flag, consulted only when Visibility is empty.
	Public *bool
}

// ResolveVisibility picks the visibility of a new trace.
func ResolveVisibility(raw string, public *bool) (models.Visibility, error) {
	if raw != "" {
		v, err := models.ParseVisibility(raw)
		if err != nil {
			return "", ErrValidation.Wrap(err)
		}
		return v, nil
	}
	if public != nil && *public {
		return models.VisibilityPublic, nil
	}
	return models.VisibilityPrivate, nil
}

// TraceWriter binds uploaded blobs to trace records. A trace is inserted
// pending, its blob moved to the final key in the same transaction, and only
// then flipped to awaiting-processing for the import daemon.
type TraceWriter struct {
	repo     repository.TraceRepository
	blobs    storage.BlobStore
	prefs    PreferenceStore
	notifier handoff.Notifier
	metrics  *metrics.Metrics
	log      *logrus.Logger
	now      func() time.Time

	background sync.WaitGroup
}

// NewTraceWriter creates a TraceWriter. A nil notifier disables handoff notifications.
func NewTraceWriter(repo repository.TraceRepository, blobs storage.BlobStore, prefs PreferenceStore,
	notifier handoff.Notifier, m *metrics.Metrics, log *logrus.Logger) *TraceWriter {
	if notifier == nil {
		notifier = handoff.Nop{}
	}
	return &TraceWriter{
		repo:     repo,
		blobs:    blobs,
		prefs:    prefs,
		notifier: notifier,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Create stores a new trace owned by owner.
func (w *TraceWriter) Create(ctx context.Context, owner *models.Identity, req CreateRequest) (*models.Trace, error) {
	start := time.Now()
	if owner == nil {
		return nil, ErrForbidden.New("authentication required to upload traces")
	}

	visibility, err := ResolveVisibility(req.Visibility, req.Public)
	if err != nil {
		w.metrics.IncrementCreateFailures(metrics.StageValidate)
		return nil, err
	}
	stream, ft, err := w.openUpload(ctx, req.Upload)
	if err != nil {
		w.metrics.IncrementCreateFailures(metrics.StageValidate)
		return nil, err
	}

	writeStart := time.Now()
	tmp, err := w.blobs.WriteTemp(ctx, stream)
	w.metrics.RecordBlobWriteLatency(time.Since(writeStart).Milliseconds())
	if err != nil {
		w.metrics.IncrementCreateFailures(metrics.StageBlobWrite)
		return nil, ErrStorage.Wrap(err)
	}

	trace := &models.Trace{
		UserID:      owner.ID,
		Name:        models.SanitizeFilename(req.Upload.Filename),
		Description: req.Description,
		Visibility:  visibility,
		TagString:   req.TagString,
		Tags:        models.NewTags(req.TagString),
		Extension:   ft.Extension,
		MimeType:    ft.MediaType,
		Size:        tmp.Size,
		CreatedAt:   w.now().UTC(),
		Visible:     true,
		State:       models.StatePending,
	}

	err = w.repo.Transaction(ctx, func(tx repository.TraceRepository) error {
		if err := tx.Create(ctx, trace); err != nil {
			return errors.Wrap(err, "failed to save metadata to database")
		}
		return errors.Wrap(w.blobs.Commit(ctx, tmp, trace.BlobKey(models.VariantOriginal)), "failed to commit trace file")
	})
	if err != nil {
		// The insert rolled back; the blob is either still temporary or was
		// moved before the commit failed.
		cctx := context.WithoutCancel(ctx)
		var group errs.Group
		group.Add(w.blobs.DeleteIfExists(cctx, tmp.Key))
		if trace.ID != uuid.Nil {
			group.Add(w.blobs.DeleteIfExists(cctx, trace.BlobKey(models.VariantOriginal)))
		}
		if cerr := group.Err(); cerr != nil {
			w.metrics.IncrementCleanupFailures()
			w.log.WithFields(logrus.Fields{
				"trace_id": trace.ID,
				"error":    errs.Combine(err, cerr),
			}).Error("Failed to clean up blobs of a rolled back trace")
		}
		w.metrics.IncrementCreateFailures(metrics.StageInsert)
		return nil, ErrStorage.Wrap(err)
	}

	if err := w.repo.MarkAwaitingProcessing(ctx, trace.ID); err != nil {
		if !w.abandon(context.WithoutCancel(ctx), trace, err) {
			w.metrics.IncrementCreateFailures(metrics.StageHandoff)
			return nil, ErrStorage.Wrap(errors.Wrap(err, "failed to release trace for import"))
		}
	}
	trace.State = models.StateAwaitingProcessing

	w.metrics.IncrementTracesCreated(trace.Size)
	w.metrics.RecordCreateLatency(time.Since(start).Milliseconds())
	w.log.WithFields(logrus.Fields{
		"trace_id":   trace.ID,
		"user_id":    owner.ID,
		"name":       trace.Name,
		"size":       trace.Size,
		"visibility": trace.Visibility,
	}).Info("Trace uploaded")

	w.afterCreate(owner.ID, trace.ID, visibility)
	return trace, nil
}

// Wait blocks until best-effort work started by earlier creates finished.
func (w *TraceWriter) Wait() {
	w.background.Wait()
}

// openUpload rejects empty or unreadable uploads before anything is written.
func (w *TraceWriter) openUpload(ctx context.Context, up Upload) (io.Reader, filetype.Type, error) {
	if up.Content == nil {
		return nil, filetype.Type{}, ErrValidation.New("gpx_file can't be blank")
	}
	body := bufio.NewReader(up.Content)
	if _, err := body.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, filetype.Type{}, ErrValidation.New("gpx_file can't be blank")
		}
		return nil, filetype.Type{}, ErrValidation.Wrap(errors.Wrap(err, "gpx_file is unreadable"))
	}
	ft, stream, err := filetype.Identify(ctx, body)
	if err != nil {
		return nil, filetype.Type{}, ErrValidation.Wrap(errors.Wrap(err, "gpx_file is unreadable"))
	}
	return stream, ft, nil
}

// abandon undoes a create whose final state flip failed. It reports true
// when the trace turns out to be committed after all, in which case nothing
// is undone.
func (w *TraceWriter) abandon(ctx context.Context, trace *models.Trace, cause error) bool {
	entry := w.log.WithFields(logrus.Fields{"trace_id": trace.ID, "error": cause})

	removed, err := w.repo.DeletePending(ctx, trace.ID)
	if err == nil && !removed {
		entry.Warn("State flip reported failure but the trace is no longer pending; keeping it")
		return true
	}
	if err != nil {
		// The row stays pending, hidden from readers, until the sweeper removes it.
		w.metrics.IncrementCleanupFailures()
		entry.WithField("cleanup_error", err).Error("Failed to remove pending trace")
	}
	w.cleanup(ctx, trace.ID, "final blob", func(c context.Context) error {
		return w.blobs.DeleteIfExists(c, trace.BlobKey(models.VariantOriginal))
	})
	return false
}

// cleanup runs a compensating action; its failure is logged, never returned.
func (w *TraceWriter) cleanup(ctx context.Context, id uuid.UUID, what string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		w.metrics.IncrementCleanupFailures()
		w.log.WithFields(logrus.Fields{
			"trace_id": id,
			"error":    err,
		}).Errorf("Failed to clean up %s", what)
	}
}

// afterCreate notifies the import daemon and remembers the chosen visibility.
// Both are best-effort and run after the caller has its result.
func (w *TraceWriter) afterCreate(owner, id uuid.UUID, visibility models.Visibility) {
	w.background.Add(1)
	go func() {
		defer w.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()

		if err := w.notifier.TraceReady(ctx, id); err != nil {
			w.log.WithFields(logrus.Fields{"trace_id": id, "error": err}).Warn("Failed to notify import daemon")
		}
		if err := w.prefs.Upsert(ctx, owner, models.PreferenceTraceVisibility, string(visibility)); err != nil {
			w.log.WithFields(logrus.Fields{"user_id": owner, "error": err}).Warn("Failed to save visibility preference")
		}
	}()
}
