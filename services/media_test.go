package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"propmarket/identity"
	"propmarket/models"
	"propmarket/storage"
)

// flakyBlobs fails Move for chosen source keys
type flakyBlobs struct {
	*storage.MemoryBlobStore
	failMove map[string]bool
}

func (b *flakyBlobs) Move(ctx context.Context, from, to string) error {
	if b.failMove[from] {
		return errors.New("storage timeout")
	}
	return b.MemoryBlobStore.Move(ctx, from, to)
}

func newAttacher(store *storage.MemoryStore) (*MediaAttacher, *flakyBlobs) {
	blobs := &flakyBlobs{MemoryBlobStore: storage.NewMemoryBlobStore(), failMove: make(map[string]bool)}
	return NewMediaAttacher(store, blobs, identity.DefaultKeyspace(), 0), blobs
}

func TestAttachOnCreate_MovesStagedFiles(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedListing(t, store, "P9", models.StatusPending)
	a, blobs := newAttacher(store)
	for _, f := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		blobs.Put("staging/T1/"+f, []byte(f))
	}

	res, err := a.AttachOnCreate(ctx, "P9", "T1", []string{"a.jpg", "b.jpg", "c.jpg"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if res.Moved != 3 || len(res.MoveFailures) != 0 {
		t.Fatalf("expected 3 moves, got %+v", res)
	}

	media, _ := store.ListMedia(ctx, "P9")
	if len(media) != 3 {
		t.Fatalf("expected 3 media rows, got %d", len(media))
	}
	for _, m := range media {
		if m.StorageKey != "properties/P9/"+m.Filename {
			t.Fatalf("unexpected storage key %s", m.StorageKey)
		}
		if !blobs.Exists(m.StorageKey) {
			t.Fatalf("expected %s at permanent key", m.Filename)
		}
		if blobs.Exists("staging/T1/" + m.Filename) {
			t.Fatalf("expected %s gone from staging", m.Filename)
		}
	}
}

func TestAttachOnCreate_MoveFailureContinues(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedListing(t, store, "P9", models.StatusPending)
	a, blobs := newAttacher(store)
	for _, f := range []string{"a.jpg", "b.jpg"} {
		blobs.Put("staging/T1/"+f, []byte(f))
	}
	blobs.failMove["staging/T1/a.jpg"] = true

	res, err := a.AttachOnCreate(ctx, "P9", "T1", []string{"a.jpg", "b.jpg"})
	if err != nil {
		t.Fatalf("move failures must not fail the attach: %v", err)
	}
	if res.Moved != 1 || len(res.MoveFailures) != 1 || res.MoveFailures[0] != "a.jpg" {
		t.Fatalf("unexpected result %+v", res)
	}

	media, _ := store.ListMedia(ctx, "P9")
	if len(media) != 2 {
		t.Fatalf("expected both rows kept, got %d", len(media))
	}
	if !blobs.Exists("staging/T1/a.jpg") || !blobs.Exists("properties/P9/b.jpg") {
		t.Fatalf("expected a.jpg left in staging and b.jpg moved")
	}
}

func TestAttachOnUpdate_InsertOnly(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedListing(t, store, "P1", models.StatusPending)
	a, _ := newAttacher(store)
	a.AttachOnCreate(ctx, "P1", "", []string{"a.jpg", "b.jpg"})

	res, err := a.AttachOnUpdate(ctx, "P1", "", []string{"a.jpg", "b.jpg", "c.jpg"})
	if err != nil {
		t.Fatalf("superset: %v", err)
	}
	if strings.Join(res.Inserted, ",") != "c.jpg" {
		t.Fatalf("expected only c.jpg inserted, got %v", res.Inserted)
	}

	res, err = a.AttachOnUpdate(ctx, "P1", "", []string{"a.jpg"})
	if err != nil {
		t.Fatalf("subset: %v", err)
	}
	if len(res.Inserted) != 0 {
		t.Fatalf("expected nothing inserted for a subset, got %v", res.Inserted)
	}

	media, _ := store.ListMedia(ctx, "P1")
	if len(media) != 3 {
		t.Fatalf("expected 3 rows, none dropped or duplicated, got %d", len(media))
	}
}

func TestAttach_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedListing(t, store, "P1", models.StatusPending)
	a, _ := newAttacher(store)

	if _, err := a.AttachOnCreate(ctx, "P1", "../T1", []string{"a.jpg"}); !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("expected invalid staging id, got %v", err)
	}
	if _, err := a.AttachOnCreate(ctx, "", "T1", []string{"a.jpg"}); !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("expected invalid listing id, got %v", err)
	}
	if _, err := a.AttachOnCreate(ctx, "P1", "T1", []string{"..."}); !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("expected invalid filename, got %v", err)
	}
}

func TestUploadToListing_RecordsBeforeUpload(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedListing(t, store, "P1", models.StatusPending)
	a, blobs := newAttacher(store)

	m, err := a.UploadToListing(ctx, "P1", "Front Door.JPG", strings.NewReader("jpeg"), "image/jpeg")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if m.Filename != "Front-Door.jpg" || m.StorageKey != "properties/P1/Front-Door.jpg" {
		t.Fatalf("unexpected media %+v", m)
	}
	if !blobs.Exists(m.StorageKey) {
		t.Fatalf("expected object stored")
	}
	media, _ := store.ListMedia(ctx, "P1")
	if len(media) != 1 {
		t.Fatalf("expected media row, got %d", len(media))
	}

	if _, err := a.UploadToListing(ctx, "NOPE", "a.jpg", strings.NewReader("x"), ""); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUploadToStaging(t *testing.T) {
	ctx := context.Background()
	a, blobs := newAttacher(storage.NewMemoryStore())

	name, key, err := a.UploadToStaging(ctx, "T1", "plan.png", strings.NewReader("png"), "image/png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if name != "plan.png" || key != "staging/T1/plan.png" || !blobs.Exists(key) {
		t.Fatalf("unexpected upload %s %s", name, key)
	}
}
