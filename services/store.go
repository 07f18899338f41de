package services

import (
	"context"
	"fmt"

	"propmarket/models"
	"propmarket/storage"
)

// ListingStore is the relational surface the listing services run on.
// *storage.PostgresStore and *storage.MemoryStore both satisfy it.
type ListingStore interface {
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	InsertListing(ctx context.Context, l *models.Listing) error
	DeleteListing(ctx context.Context, id string) (bool, error)
	ListListings(ctx context.Context, f storage.ListFilter) ([]models.Listing, error)

	ListMedia(ctx context.Context, listingID string) ([]models.Media, error)
	MediaFor(ctx context.Context, listingIDs []string) (map[string][]string, error)
	InsertMedia(ctx context.Context, media []models.Media) (int, error)

	ListStatusChanges(ctx context.Context, listingID string) ([]models.StatusChange, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)

	InTx(ctx context.Context, fn func(tx storage.Tx) error) error
}

// SweepQueue takes deleted listings whose storage prefix must be cleared
type SweepQueue interface {
	EnqueueSweep(listingID string) error
}

// RunRecorder keeps the history of reconcile runs
type RunRecorder interface {
	CreateRun(run *models.ReconcileRun) (int64, error)
	FinishRun(run *models.ReconcileRun) error
	RecentRuns(limit int) ([]models.ReconcileRun, error)
}

// loadWithMedia returns the listing joined with its media filenames
func loadWithMedia(ctx context.Context, store ListingStore, id string) (*models.ListingWithMedia, error) {
	l, err := store.GetListing(ctx, id)
	if err != nil {
		return nil, models.NewStoreError("get listing", err)
	}
	if l == nil {
		return nil, fmt.Errorf("listing %s: %w", id, models.ErrNotFound)
	}
	media, err := store.ListMedia(ctx, id)
	if err != nil {
		return nil, models.NewStoreError("list media", err)
	}

	out := &models.ListingWithMedia{Listing: *l, Media: make([]string, 0, len(media))}
	for _, m := range media {
		out.Media = append(out.Media, m.Filename)
	}
	return out, nil
}
