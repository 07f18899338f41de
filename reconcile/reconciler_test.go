package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"propmarket/identity"
	"propmarket/models"
	"propmarket/storage"
)

// recordingBlobs counts calls and can fail chosen Remove calls
type recordingBlobs struct {
	*storage.MemoryBlobStore
	listCalls   int
	removeCalls int
	failRemove  map[int]bool // 1-based call number
	listErr     map[string]error
}

func newRecordingBlobs(keys ...string) *recordingBlobs {
	b := &recordingBlobs{
		MemoryBlobStore: storage.NewMemoryBlobStore(),
		failRemove:      make(map[int]bool),
		listErr:         make(map[string]error),
	}
	for _, k := range keys {
		b.Put(k, []byte("x"))
	}
	return b
}

func (b *recordingBlobs) List(ctx context.Context, prefix string, opts models.ListOptions) (*models.ListPage, error) {
	b.listCalls++
	if err := b.listErr[prefix]; err != nil {
		return nil, err
	}
	return b.MemoryBlobStore.List(ctx, prefix, opts)
}

func (b *recordingBlobs) Remove(ctx context.Context, keys []string) (int, error) {
	b.removeCalls++
	if b.failRemove[b.removeCalls] {
		return 0, errors.New("storage unavailable")
	}
	return b.MemoryBlobStore.Remove(ctx, keys)
}

type mediaRows []models.Media

func (m mediaRows) ForEachMedia(ctx context.Context, fn func(models.Media) error) error {
	for _, row := range m {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

type failingMedia struct{}

func (failingMedia) ForEachMedia(ctx context.Context, fn func(models.Media) error) error {
	return errors.New("connection refused")
}

func rows(listingID string, files ...string) mediaRows {
	var out mediaRows
	for _, f := range files {
		out = append(out, models.Media{ListingID: listingID, Filename: f})
	}
	return out
}

func TestReconciler_DeletesUnclaimedFile(t *testing.T) {
	blobs := newRecordingBlobs("properties/P1/a.jpg", "properties/P1/b.jpg", "properties/P1/c.jpg")
	r := New(blobs, rows("P1", "a.jpg", "b.jpg"), identity.DefaultKeyspace(), Options{})

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.DeletedCount != 1 {
		t.Fatalf("expected 1 deleted, got %d", result.DeletedCount)
	}
	if blobs.Exists("properties/P1/c.jpg") {
		t.Fatalf("expected c.jpg to be deleted")
	}
	if !blobs.Exists("properties/P1/a.jpg") || !blobs.Exists("properties/P1/b.jpg") {
		t.Fatalf("expected claimed files to survive")
	}
}

func TestReconciler_Idempotent(t *testing.T) {
	blobs := newRecordingBlobs("properties/P1/a.jpg", "properties/P1/c.jpg")
	r := New(blobs, rows("P1", "a.jpg"), identity.DefaultKeyspace(), Options{})

	first, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.DeletedCount != 1 || second.DeletedCount != 0 {
		t.Fatalf("expected 1 then 0 deleted, got %d then %d", first.DeletedCount, second.DeletedCount)
	}
}

func TestReconciler_UnindexedFolderLosesFilesKeepsSubfolders(t *testing.T) {
	blobs := newRecordingBlobs(
		"properties/P1/a.jpg",
		"properties/GONE/x.jpg",
		"properties/GONE/y.jpg",
		"properties/GONE/thumbs/x.jpg",
	)
	r := New(blobs, rows("P1", "a.jpg"), identity.DefaultKeyspace(), Options{})

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.DeletedCount != 2 {
		t.Fatalf("expected 2 deleted, got %d", result.DeletedCount)
	}
	if blobs.Exists("properties/GONE/x.jpg") || blobs.Exists("properties/GONE/y.jpg") {
		t.Fatalf("expected files of unreferenced listing to be deleted")
	}
	if !blobs.Exists("properties/GONE/thumbs/x.jpg") {
		t.Fatalf("expected nested folder content to be left alone")
	}
}

func TestReconciler_ChunksDeletes(t *testing.T) {
	var keys []string
	for i := 0; i < 250; i++ {
		keys = append(keys, fmt.Sprintf("properties/P1/%03d.jpg", i))
	}
	blobs := newRecordingBlobs(keys...)
	r := New(blobs, mediaRows{}, identity.DefaultKeyspace(), Options{PageSize: 100, DeleteBatch: 100})

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if blobs.removeCalls != 3 {
		t.Fatalf("expected 3 remove calls, got %d", blobs.removeCalls)
	}
	if result.DeletedCount != 250 {
		t.Fatalf("expected 250 deleted, got %d", result.DeletedCount)
	}
}

func TestReconciler_FailedChunkIsSkipped(t *testing.T) {
	var keys []string
	for i := 0; i < 250; i++ {
		keys = append(keys, fmt.Sprintf("properties/P1/%03d.jpg", i))
	}
	blobs := newRecordingBlobs(keys...)
	blobs.failRemove[1] = true
	r := New(blobs, mediaRows{}, identity.DefaultKeyspace(), Options{DeleteBatch: 100})

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run should swallow per-listing errors, got %v", err)
	}
	if result.DeletedCount != 150 {
		t.Fatalf("expected 150 deleted after first chunk failed, got %d", result.DeletedCount)
	}
	if result.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", result.Errors)
	}
	if !blobs.Exists("properties/P1/000.jpg") {
		t.Fatalf("expected first chunk to remain")
	}
}

func TestReconciler_CountsWhatStoreReports(t *testing.T) {
	blobs := &shortRemoveBlobs{recordingBlobs: newRecordingBlobs("properties/P1/a.jpg", "properties/P1/b.jpg")}
	r := New(blobs, mediaRows{}, identity.DefaultKeyspace(), Options{})

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.DeletedCount != 1 {
		t.Fatalf("expected store-reported count 1, got %d", result.DeletedCount)
	}
}

// shortRemoveBlobs acknowledges only the first key of each Remove
type shortRemoveBlobs struct {
	*recordingBlobs
}

func (b *shortRemoveBlobs) Remove(ctx context.Context, keys []string) (int, error) {
	return b.recordingBlobs.Remove(ctx, keys[:1])
}

func TestReconciler_PageCap(t *testing.T) {
	var keys []string
	for i := 0; i < 30; i++ {
		keys = append(keys, fmt.Sprintf("properties/P1/%02d.jpg", i))
	}
	blobs := newRecordingBlobs(keys...)
	r := New(blobs, rows("P1", "keep.jpg"), identity.DefaultKeyspace(), Options{PageSize: 10, MaxPages: 2, DryRun: true})

	lr, err := r.ReconcileListing(context.Background(), "P1", map[string]struct{}{"keep.jpg": {}})
	if err != nil {
		t.Fatalf("reconcile listing: %v", err)
	}
	if lr.FilesFound != 20 {
		t.Fatalf("expected listing to stop at 2 pages of 10, got %d files", lr.FilesFound)
	}
}

func TestReconciler_DryRunDeletesNothing(t *testing.T) {
	blobs := newRecordingBlobs("properties/P1/a.jpg", "properties/P1/c.jpg")
	r := New(blobs, rows("P1", "a.jpg"), identity.DefaultKeyspace(), Options{}).WithDryRun(true)

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.OrphansFound != 1 || result.DeletedCount != 0 || !result.DryRun {
		t.Fatalf("unexpected dry run result %+v", result)
	}
	if blobs.removeCalls != 0 || !blobs.Exists("properties/P1/c.jpg") {
		t.Fatalf("expected no deletes in dry run")
	}
}

func TestReconciler_IndexFailureAborts(t *testing.T) {
	blobs := newRecordingBlobs("properties/P1/a.jpg")
	r := New(blobs, failingMedia{}, identity.DefaultKeyspace(), Options{})

	if _, err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected index failure to abort the run")
	}
	if !blobs.Exists("properties/P1/a.jpg") {
		t.Fatalf("expected nothing deleted when the index cannot be built")
	}
}

func TestReconciler_ListFailureIsPerListing(t *testing.T) {
	blobs := newRecordingBlobs("properties/P1/x.jpg", "properties/P2/x.jpg")
	blobs.listErr["properties/P1/"] = errors.New("timeout")
	r := New(blobs, mediaRows{}, identity.DefaultKeyspace(), Options{})

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Errors != 1 || result.DeletedCount != 1 {
		t.Fatalf("expected P2 cleaned despite P1 failing, got %+v", result)
	}
	for _, l := range result.Listings {
		if l.ListingID == "P1" && !strings.Contains(l.Error, "timeout") {
			t.Fatalf("expected P1 error recorded, got %q", l.Error)
		}
	}
}

func TestReconciler_CancelledContextStops(t *testing.T) {
	blobs := newRecordingBlobs("properties/P1/x.jpg")
	r := New(blobs, mediaRows{}, identity.DefaultKeyspace(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Run(ctx); err == nil {
		t.Fatalf("expected cancellation error")
	}
	if !blobs.Exists("properties/P1/x.jpg") {
		t.Fatalf("expected nothing deleted after cancellation")
	}
}

// An upload that lands before its listing_media row is indistinguishable from
// an orphan; a run in that window deletes it.
func TestReconciler_DeletesUploadWhoseRowIsNotYetWritten(t *testing.T) {
	ctx := context.Background()
	db := storage.NewMemoryStore()
	db.InsertListing(ctx, &models.Listing{ID: "P1", OwnerID: "U1"})
	db.InsertMedia(ctx, []models.Media{{ListingID: "P1", Filename: "a.jpg"}})

	blobs := newRecordingBlobs("properties/P1/a.jpg", "properties/P1/new.jpg")
	r := New(blobs, db, identity.DefaultKeyspace(), Options{})

	result, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.DeletedCount != 1 || blobs.Exists("properties/P1/new.jpg") {
		t.Fatalf("expected new.jpg to be deleted as an orphan, deleted %d", result.DeletedCount)
	}

	// the row written afterwards claims a file that is already gone
	db.InsertMedia(ctx, []models.Media{{ListingID: "P1", Filename: "new.jpg"}})
	media, _ := db.ListMedia(ctx, "P1")
	if len(media) != 2 {
		t.Fatalf("expected 2 media rows, got %d", len(media))
	}
	if !blobs.Exists("properties/P1/a.jpg") {
		t.Fatalf("expected claimed a.jpg to survive")
	}
}
