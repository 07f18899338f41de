package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"propmarket/models"
)

func TestMemoryStore_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.InsertListing(ctx, &models.Listing{ID: "P1", OwnerID: "U1", PostingStatus: models.StatusPending})

	s.Fail("InsertNotification", errors.New("notifications down"))
	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertStatusChange(ctx, &models.StatusChange{ID: uuid.New(), ListingID: "P1",
			PreviousStatus: models.StatusPending, NewStatus: models.StatusApproved}); err != nil {
			return err
		}
		approved := models.StatusApproved
		if _, err := tx.UpdateListing(ctx, "P1", &models.ListingPatch{PostingStatus: &approved}, time.Now()); err != nil {
			return err
		}
		return tx.InsertNotification(ctx, &models.Notification{ID: uuid.New(), UserID: "U1"})
	})
	if err == nil {
		t.Fatalf("expected notification failure")
	}

	l, _ := s.GetListing(ctx, "P1")
	if l.PostingStatus != models.StatusPending {
		t.Fatalf("expected status rolled back to pending, got %s", l.PostingStatus)
	}
	changes, _ := s.ListStatusChanges(ctx, "P1")
	if len(changes) != 0 {
		t.Fatalf("expected no audit rows after rollback, got %d", len(changes))
	}
}

func TestMemoryStore_InTxCancelledContextKeepsNothing(t *testing.T) {
	s := NewMemoryStore()
	s.InsertListing(context.Background(), &models.Listing{ID: "P1", OwnerID: "U1", PostingStatus: models.StatusPending})

	ctx, cancel := context.WithCancel(context.Background())
	err := s.InTx(ctx, func(tx Tx) error {
		approved := models.StatusApproved
		if _, err := tx.UpdateListing(ctx, "P1", &models.ListingPatch{PostingStatus: &approved}, time.Now()); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	l, _ := s.GetListing(context.Background(), "P1")
	if l.PostingStatus != models.StatusPending {
		t.Fatalf("expected status rolled back to pending, got %s", l.PostingStatus)
	}
}

func TestMemoryStore_InsertMediaSkipsExisting(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.InsertListing(ctx, &models.Listing{ID: "P1", OwnerID: "U1"})

	n, err := s.InsertMedia(ctx, []models.Media{{ListingID: "P1", Filename: "a.jpg"}, {ListingID: "P1", Filename: "b.jpg"}})
	if err != nil || n != 2 {
		t.Fatalf("expected 2 inserted, got %d %v", n, err)
	}
	n, err = s.InsertMedia(ctx, []models.Media{{ListingID: "P1", Filename: "b.jpg"}, {ListingID: "P1", Filename: "c.jpg"}})
	if err != nil || n != 1 {
		t.Fatalf("expected 1 inserted, got %d %v", n, err)
	}

	if _, err := s.InsertMedia(ctx, []models.Media{{ListingID: "nope", Filename: "a.jpg"}}); err == nil {
		t.Fatalf("expected unknown listing to fail")
	}
}

func TestMemoryStore_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.InsertListing(ctx, &models.Listing{ID: "P1", OwnerID: "U1"})
	s.InsertMedia(ctx, []models.Media{{ListingID: "P1", Filename: "a.jpg"}})

	ok, err := s.DeleteListing(ctx, "P1")
	if err != nil || !ok {
		t.Fatalf("expected delete, got %v %v", ok, err)
	}
	media, _ := s.ListMedia(ctx, "P1")
	if len(media) != 0 {
		t.Fatalf("expected media to cascade, got %d rows", len(media))
	}
	ok, _ = s.DeleteListing(ctx, "P1")
	if ok {
		t.Fatalf("expected second delete to report missing row")
	}
}

func TestMemoryStore_DuplicateListing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.InsertListing(ctx, &models.Listing{ID: "P1"})
	err := s.InsertListing(ctx, &models.Listing{ID: "P1"})
	if !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestMemoryBlobStore_ListPages(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBlobStore()
	for _, k := range []string{"properties/P1/a.jpg", "properties/P1/b.jpg", "properties/P1/c.jpg", "properties/P1/thumbs/a.jpg"} {
		b.Put(k, []byte("x"))
	}

	page, err := b.List(ctx, "properties/P1/", models.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Entries) != 2 || page.NextCursor == "" {
		t.Fatalf("expected full first page with cursor, got %+v", page)
	}

	page, err = b.List(ctx, "properties/P1/", models.ListOptions{Limit: 2, Cursor: page.NextCursor})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var names []string
	for _, e := range page.Entries {
		names = append(names, e.Name)
	}
	if strings.Join(names, ",") != "c.jpg,thumbs" || page.NextCursor != "" {
		t.Fatalf("unexpected second page %v cursor %q", names, page.NextCursor)
	}
	if page.Entries[1].IsFile() {
		t.Fatalf("expected thumbs to be a folder")
	}
}

func TestThrottledBlobStore_PassesThrough(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryBlobStore()
	inner.Put("properties/P1/a.jpg", []byte("x"))
	b := NewThrottledBlobStore(inner, 1000, 10)

	n, err := b.Remove(ctx, []string{"properties/P1/a.jpg", "properties/P1/missing.jpg"})
	if err != nil || n != 1 {
		t.Fatalf("expected 1 removed, got %d %v", n, err)
	}
}
