package workers

import (
	"context"
	"fmt"
	"time"

	"propmarket/logging"
	"propmarket/models"
)

// SweepStore is the ops-DB queue of deleted listings
type SweepStore interface {
	PendingSweeps(limit int) ([]models.SweepItem, error)
	MarkSweepDone(listingID string) error
	MarkSweepFailed(listingID, lastError string, maxAttempts int) (bool, error)
}

// ListingReconciler clears one listing prefix of everything not in keep
type ListingReconciler interface {
	ReconcileListing(ctx context.Context, listingID string, keep map[string]struct{}) (models.ListingReconcile, error)
}

// MediaLookup reads the current media claims of a listing
type MediaLookup interface {
	ListMedia(ctx context.Context, listingID string) ([]models.Media, error)
}

// SweepWorker drains the sweep queue: every deleted listing gets its storage
// prefix cleared without waiting for the next full reconcile. If a listing
// with the same id exists again by the time the sweep runs, its current
// media claims are kept.
type SweepWorker struct {
	queue       SweepStore
	reconciler  ListingReconciler
	media       MediaLookup
	maxAttempts int
	triggerCh   chan struct{}
	logFunc     LogFunc
}

func NewSweepWorker(queue SweepStore, reconciler ListingReconciler, media MediaLookup, maxAttempts int) *SweepWorker {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &SweepWorker{
		queue:       queue,
		reconciler:  reconciler,
		media:       media,
		maxAttempts: maxAttempts,
		triggerCh:   make(chan struct{}, 1),
		logFunc:     NoOpLogger,
	}
}

func (w *SweepWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Trigger causes the worker to run immediately
func (w *SweepWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run starts the sweep loop
func (w *SweepWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Infof("[Sweep] worker stopping")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx, batchSize)
		case <-w.triggerCh:
			logging.Infof("[Sweep] worker triggered manually")
			w.ProcessBatch(ctx, batchSize)
		}
	}
}

// ProcessBatch sweeps up to batchSize queued listings and returns how many
// were cleared.
func (w *SweepWorker) ProcessBatch(ctx context.Context, batchSize int) int {
	items, err := w.queue.PendingSweeps(batchSize)
	if err != nil {
		logging.Errorf("[Sweep] query error: %v", err)
		return 0
	}
	if len(items) == 0 {
		return 0
	}

	logging.Infof("[Sweep] processing %d listings", len(items))

	var done, failed, deleted int
	for _, it := range items {
		if ctx.Err() != nil {
			break
		}

		lr, err := w.Sweep(ctx, it.ListingID)
		if err != nil {
			failed++
			parked, mErr := w.queue.MarkSweepFailed(it.ListingID, err.Error(), w.maxAttempts)
			if mErr != nil {
				logging.Errorf("[Sweep] failed to record attempt for %s: %v", it.ListingID, mErr)
				continue
			}
			if parked {
				logging.Warnf("[Sweep] %s parked after %d attempts: %v", it.ListingID, w.maxAttempts, err)
				w.logFunc(models.LogLevelWarn, "sweep", fmt.Sprintf("%s parked: %v", it.ListingID, err))
			}
			continue
		}

		if err := w.queue.MarkSweepDone(it.ListingID); err != nil {
			logging.Errorf("[Sweep] failed to mark %s done: %v", it.ListingID, err)
			continue
		}
		done++
		deleted += lr.Deleted
	}

	msg := fmt.Sprintf("swept %d listings, %d objects deleted, %d failed", done, deleted, failed)
	logging.Infof("[Sweep] %s", msg)
	w.logFunc(models.LogLevelInfo, "sweep", msg)
	return done
}

// Sweep clears one listing prefix right away
func (w *SweepWorker) Sweep(ctx context.Context, listingID string) (models.ListingReconcile, error) {
	var keep map[string]struct{}
	if w.media != nil {
		media, err := w.media.ListMedia(ctx, listingID)
		if err != nil {
			return models.ListingReconcile{ListingID: listingID}, fmt.Errorf("list media: %w", err)
		}
		if len(media) > 0 {
			keep = make(map[string]struct{}, len(media))
			for _, m := range media {
				keep[m.Filename] = struct{}{}
			}
		}
	}
	return w.reconciler.ReconcileListing(ctx, listingID, keep)
}
