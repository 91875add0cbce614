package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"trace-service/internal/metrics"
	"trace-service/internal/models"
	"trace-service/internal/repository"
	"trace-service/internal/storage"
)

// Recovery removes what crashed creates left behind: pending records whose
// state flip never happened and temporary blobs that were never committed.
type Recovery struct {
	repo    repository.TraceRepository
	blobs   storage.BlobStore
	metrics *metrics.Metrics
	log     *logrus.Logger
	now     func() time.Time
}

// NewRecovery creates a new Recovery.
func NewRecovery(repo repository.TraceRepository, blobs storage.BlobStore, m *metrics.Metrics, log *logrus.Logger) *Recovery {
	return &Recovery{repo: repo, blobs: blobs, metrics: m, log: log, now: time.Now}
}

// Sweep recovers everything that has been pending for longer than olderThan
// and returns the number of pending records removed.
func (r *Recovery) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := r.now().UTC().Add(-olderThan)

	stale, err := r.repo.ListPendingBefore(ctx, cutoff)
	if err != nil {
		return 0, ErrStorage.Wrap(errors.Wrap(err, "failed to list pending traces"))
	}

	removed := 0
	for i := range stale {
		trace := &stale[i]
		entry := r.log.WithField("trace_id", trace.ID)

		// The conditional delete loses against a late state flip, so the
		// blob of a trace that got committed after all is never touched.
		ok, err := r.repo.DeletePending(ctx, trace.ID)
		if err != nil {
			r.metrics.IncrementCleanupFailures()
			entry.WithField("error", err).Warn("Failed to delete pending trace")
			continue
		}
		if !ok {
			continue
		}
		removed++
		if err := r.blobs.DeleteIfExists(ctx, trace.BlobKey(models.VariantOriginal)); err != nil {
			r.metrics.IncrementCleanupFailures()
			entry.WithField("error", err).Warn("Failed to delete blob of pending trace")
		}
	}

	purged := 0
	if sweeper, ok := r.blobs.(storage.TempSweeper); ok {
		purged, err = sweeper.PurgeTemp(ctx, cutoff)
		if err != nil {
			r.metrics.AddPendingRecovered(removed)
			return removed, ErrStorage.Wrap(errors.Wrap(err, "failed to purge temporary blobs"))
		}
	}

	r.metrics.AddPendingRecovered(removed)
	if removed > 0 || purged > 0 {
		r.log.WithFields(logrus.Fields{
			"pending_removed": removed,
			"temp_purged":     purged,
			"cutoff":          cutoff,
		}).Info("Recovered abandoned uploads")
	}
	return removed, nil
}

// Run sweeps every interval until ctx is done.
func (r *Recovery) Run(ctx context.Context, interval, olderThan time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx, olderThan); err != nil {
				r.log.WithField("error", err).Error("Pending trace sweep failed")
			}
		}
	}
}
