package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"propmarket/identity"
	"propmarket/logging"
	"propmarket/models"
	"propmarket/storage"
)

// MediaStore is what the attacher needs from the relational store
type MediaStore interface {
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	ListMedia(ctx context.Context, listingID string) ([]models.Media, error)
	InsertMedia(ctx context.Context, media []models.Media) (int, error)
}

// MediaAttacher records media claims for a listing and moves staged uploads
// to the listing's permanent prefix. It only ever adds: filenames dropped
// from a desired list stay until the listing is deleted or the reconciler
// finds them unclaimed.
type MediaAttacher struct {
	store       MediaStore
	blobs       storage.BlobStore
	keys        identity.Keyspace
	callTimeout time.Duration
}

func NewMediaAttacher(store MediaStore, blobs storage.BlobStore, keys identity.Keyspace, callTimeout time.Duration) *MediaAttacher {
	return &MediaAttacher{
		store:       store,
		blobs:       blobs,
		keys:        keys,
		callTimeout: callTimeout,
	}
}

// AttachResult reports what an attach call did
type AttachResult struct {
	Inserted     []string `json:"inserted"`
	Moved        int      `json:"moved"`
	MoveFailures []string `json:"moveFailures,omitempty"`
}

// AttachOnCreate claims every filename for a freshly created listing and,
// when stagingID is set, moves each staged object to its permanent key.
// Move failures are logged and reported, never returned.
func (a *MediaAttacher) AttachOnCreate(ctx context.Context, listingID, stagingID string, filenames []string) (*AttachResult, error) {
	names, err := a.validate(listingID, stagingID, filenames)
	if err != nil {
		return nil, err
	}
	return a.attach(ctx, listingID, stagingID, names)
}

// AttachOnUpdate claims only the filenames of desired the listing does not
// already have. Existing claims are never removed here.
func (a *MediaAttacher) AttachOnUpdate(ctx context.Context, listingID, stagingID string, desired []string) (*AttachResult, error) {
	names, err := a.validate(listingID, stagingID, desired)
	if err != nil {
		return nil, err
	}

	existing, err := a.store.ListMedia(ctx, listingID)
	if err != nil {
		return nil, models.NewStoreError("list media", err)
	}
	have := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		have[m.Filename] = struct{}{}
	}

	var fresh []string
	for _, n := range names {
		if _, ok := have[n]; !ok {
			fresh = append(fresh, n)
		}
	}
	return a.attach(ctx, listingID, stagingID, fresh)
}

func (a *MediaAttacher) validate(listingID, stagingID string, filenames []string) ([]string, error) {
	if !identity.ValidListingID(listingID) {
		return nil, fmt.Errorf("%w: listing id is required", models.ErrInvalidRequest)
	}
	if stagingID != "" && !identity.ValidStagingID(stagingID) {
		return nil, fmt.Errorf("%w: bad staging id %q", models.ErrInvalidRequest, stagingID)
	}
	names, err := identity.NormalizeFilenames(filenames)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	return names, nil
}

func (a *MediaAttacher) attach(ctx context.Context, listingID, stagingID string, names []string) (*AttachResult, error) {
	result := &AttachResult{Inserted: []string{}}
	if len(names) == 0 {
		return result, nil
	}

	now := time.Now().UTC()
	rows := make([]models.Media, len(names))
	for i, n := range names {
		rows[i] = models.Media{
			ListingID:  listingID,
			Filename:   n,
			StorageKey: a.keys.ListingKey(listingID, n),
			CreatedAt:  now,
		}
	}
	if _, err := a.store.InsertMedia(ctx, rows); err != nil {
		return nil, models.NewStoreError("insert media", err)
	}
	result.Inserted = names

	if stagingID == "" {
		return result, nil
	}
	for _, n := range names {
		from := a.keys.StagingKey(stagingID, n)
		to := a.keys.ListingKey(listingID, n)

		callCtx, cancel := a.callContext(ctx)
		err := a.blobs.Move(callCtx, from, to)
		cancel()
		if err != nil {
			logging.Warnf("[Media] move %s -> %s failed: %v", from, to, err)
			result.MoveFailures = append(result.MoveFailures, n)
			continue
		}
		result.Moved++
	}
	return result, nil
}

// UploadToStaging stores bytes under staging/<stagingID>/<filename>, before
// the listing exists. It returns the sanitised filename and the key.
func (a *MediaAttacher) UploadToStaging(ctx context.Context, stagingID, filename string, data io.Reader, contentType string) (string, string, error) {
	if !identity.ValidStagingID(stagingID) {
		return "", "", fmt.Errorf("%w: bad staging id %q", models.ErrInvalidRequest, stagingID)
	}
	name, err := identity.SanitizeFilename(filename)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}

	key := a.keys.StagingKey(stagingID, name)
	callCtx, cancel := a.callContext(ctx)
	defer cancel()
	if err := a.blobs.Upload(callCtx, key, data, contentType); err != nil {
		return "", "", models.NewStoreError("upload", err)
	}
	return name, key, nil
}

// UploadToListing records the media row first and then writes the bytes to
// the permanent key, so a reconcile run never sees the object unclaimed.
func (a *MediaAttacher) UploadToListing(ctx context.Context, listingID, filename string, data io.Reader, contentType string) (*models.Media, error) {
	if !identity.ValidListingID(listingID) {
		return nil, fmt.Errorf("%w: listing id is required", models.ErrInvalidRequest)
	}
	name, err := identity.SanitizeFilename(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}

	l, err := a.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, models.NewStoreError("get listing", err)
	}
	if l == nil {
		return nil, fmt.Errorf("listing %s: %w", listingID, models.ErrNotFound)
	}

	m := models.Media{
		ListingID:  listingID,
		Filename:   name,
		StorageKey: a.keys.ListingKey(listingID, name),
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := a.store.InsertMedia(ctx, []models.Media{m}); err != nil {
		return nil, models.NewStoreError("insert media", err)
	}

	callCtx, cancel := a.callContext(ctx)
	defer cancel()
	if err := a.blobs.Upload(callCtx, m.StorageKey, data, contentType); err != nil {
		return nil, models.NewStoreError("upload", err)
	}
	return &m, nil
}

func (a *MediaAttacher) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.callTimeout)
}
