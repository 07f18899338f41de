package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"propmarket/identity"
	"propmarket/logging"
	"propmarket/models"
	"propmarket/schema"
	"propmarket/storage"
)

// ListingService handles the listing lifecycle: create with staged media,
// read, update through the status machine, and delete with a queued
// storage sweep.
type ListingService struct {
	store  ListingStore
	status *StatusService
	media  *MediaAttacher
	sweeps SweepQueue
	now    func() time.Time
}

func NewListingService(store ListingStore, status *StatusService, media *MediaAttacher, sweeps SweepQueue) *ListingService {
	return &ListingService{
		store:  store,
		status: status,
		media:  media,
		sweeps: sweeps,
		now:    time.Now,
	}
}

// CreateRequest is a new listing plus the filenames already uploaded under
// staging/<StagingID>/
type CreateRequest struct {
	Listing   models.Listing
	StagingID string
	Media     []string
}

// UpdateRequest is the generic update: field patch, optional status move,
// and an optional full desired media list (nil leaves media alone).
type UpdateRequest struct {
	Patch            *models.ListingPatch
	Media            []string
	StagingID        string
	Note             string
	ActorID          *string
	NotificationLink string
}

func (s *ListingService) Create(ctx context.Context, req CreateRequest) (*models.ListingWithMedia, error) {
	l := req.Listing
	l.ID = strings.TrimSpace(l.ID)
	if !identity.ValidListingID(l.ID) {
		return nil, fmt.Errorf("%w: id is required (letters, digits, '-' or '_')", models.ErrInvalidRequest)
	}
	if strings.TrimSpace(l.OwnerID) == "" {
		return nil, fmt.Errorf("%w: ownerId is required", models.ErrInvalidRequest)
	}
	if l.PostingStatus == "" {
		l.PostingStatus = models.StatusPending
	} else {
		status, err := models.ParsePostingStatus(string(l.PostingStatus))
		if err != nil {
			return nil, err
		}
		l.PostingStatus = status
	}
	if len(req.Media) > 0 {
		if _, err := identity.NormalizeFilenames(req.Media); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
		}
	}

	now := s.now().UTC()
	l.PostedAt = now
	l.UpdatedAt = now

	if err := s.store.InsertListing(ctx, &l); err != nil {
		if errors.Is(err, models.ErrInvalidRequest) {
			return nil, err
		}
		return nil, models.NewStoreError("insert listing", err)
	}

	if len(req.Media) > 0 {
		res, err := s.media.AttachOnCreate(ctx, l.ID, req.StagingID, req.Media)
		if err != nil {
			return nil, err
		}
		if len(res.MoveFailures) > 0 {
			logging.Warnf("[Listings] %s: %d staged files not moved: %v", l.ID, len(res.MoveFailures), res.MoveFailures)
		}
	}

	logging.Infof("[Listings] created %s (%s) with %d media", l.ID, l.PostingStatus, len(req.Media))
	return loadWithMedia(ctx, s.store, l.ID)
}

func (s *ListingService) Get(ctx context.Context, id string) (*models.ListingWithMedia, error) {
	if !identity.ValidListingID(id) {
		return nil, fmt.Errorf("%w: listing id is required", models.ErrInvalidRequest)
	}
	return loadWithMedia(ctx, s.store, id)
}

// List returns a page of listings, each joined with its media
func (s *ListingService) List(ctx context.Context, f storage.ListFilter) ([]models.ListingWithMedia, error) {
	listings, err := s.store.ListListings(ctx, f)
	if err != nil {
		return nil, models.NewStoreError("list listings", err)
	}

	ids := make([]string, len(listings))
	for i, l := range listings {
		ids[i] = l.ID
	}
	media, err := s.store.MediaFor(ctx, ids)
	if err != nil {
		return nil, models.NewStoreError("list media", err)
	}

	out := make([]models.ListingWithMedia, len(listings))
	for i, l := range listings {
		files := media[l.ID]
		if files == nil {
			files = []string{}
		}
		out[i] = models.ListingWithMedia{Listing: l, Media: files}
	}
	return out, nil
}

// Update applies the patch and any status move in one transaction, then
// claims new media. A status move follows the same audit and notification
// rules as the moderation endpoint.
func (s *ListingService) Update(ctx context.Context, id string, req UpdateRequest) (*models.ListingWithMedia, error) {
	if !identity.ValidListingID(id) {
		return nil, fmt.Errorf("%w: listing id is required", models.ErrInvalidRequest)
	}

	current, err := s.store.GetListing(ctx, id)
	if err != nil {
		return nil, models.NewStoreError("get listing", err)
	}
	if current == nil {
		return nil, fmt.Errorf("listing %s: %w", id, models.ErrNotFound)
	}

	var status *models.PostingStatus
	if req.Patch != nil && req.Patch.PostingStatus != nil {
		parsed, err := models.ParsePostingStatus(string(*req.Patch.PostingStatus))
		if err != nil {
			return nil, err
		}
		status = &parsed
	}
	if req.Media != nil {
		if _, err := identity.NormalizeFilenames(req.Media); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
		}
	}

	if status != nil || !schema.PatchEmpty(schema.WithoutStatus(req.Patch)) {
		err = s.store.InTx(ctx, func(tx storage.Tx) error {
			return s.status.apply(ctx, tx, current, transition{
				status: status,
				fields: req.Patch,
				note:   req.Note,
				actor:  req.ActorID,
				link:   req.NotificationLink,
			})
		})
		if err != nil {
			return nil, err
		}
	}

	if req.Media != nil {
		res, err := s.media.AttachOnUpdate(ctx, id, req.StagingID, req.Media)
		if err != nil {
			return nil, err
		}
		if len(res.MoveFailures) > 0 {
			logging.Warnf("[Listings] %s: %d staged files not moved: %v", id, len(res.MoveFailures), res.MoveFailures)
		}
	}

	return loadWithMedia(ctx, s.store, id)
}

// Delete removes the listing row (media and audit rows cascade) and queues
// its storage prefix for a sweep. A failed enqueue is only logged; the next
// full reconcile still finds the unclaimed prefix.
func (s *ListingService) Delete(ctx context.Context, id string) error {
	if !identity.ValidListingID(id) {
		return fmt.Errorf("%w: listing id is required", models.ErrInvalidRequest)
	}

	ok, err := s.store.DeleteListing(ctx, id)
	if err != nil {
		return models.NewStoreError("delete listing", err)
	}
	if !ok {
		return fmt.Errorf("listing %s: %w", id, models.ErrNotFound)
	}

	if s.sweeps != nil {
		if err := s.sweeps.EnqueueSweep(id); err != nil {
			logging.Warnf("[Listings] %s deleted but sweep not queued: %v", id, err)
		}
	}
	logging.Infof("[Listings] deleted %s", id)
	return nil
}
