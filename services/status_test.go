package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"propmarket/models"
	"propmarket/storage"
)

func strPtr(s string) *string { return &s }

func seedListing(t *testing.T, store *storage.MemoryStore, id string, status models.PostingStatus) {
	t.Helper()
	posted := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := store.InsertListing(context.Background(), &models.Listing{
		ID:            id,
		Name:          "Sunny flat",
		OwnerID:       "U1",
		PostingStatus: status,
		PostedAt:      posted,
		UpdatedAt:     posted,
	})
	if err != nil {
		t.Fatalf("seed listing: %v", err)
	}
}

func TestTransition_PendingToApproved(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedListing(t, store, "P1", models.StatusPending)
	store.InsertMedia(ctx, []models.Media{{ListingID: "P1", Filename: "a.jpg"}})
	svc := NewStatusService(store, "/dashboard/listings")

	got, err := svc.Transition(ctx, TransitionRequest{
		ListingID: "P1",
		NewStatus: strPtr("approved"),
		Note:      "looks good",
		ActorID:   strPtr("admin-1"),
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.PostingStatus != models.StatusApproved {
		t.Fatalf("expected approved, got %s", got.PostingStatus)
	}
	if len(got.Media) != 1 || got.Media[0] != "a.jpg" {
		t.Fatalf("expected joined media [a.jpg], got %v", got.Media)
	}

	changes, _ := store.ListStatusChanges(ctx, "P1")
	if len(changes) != 1 {
		t.Fatalf("expected 1 status change, got %d", len(changes))
	}
	c := changes[0]
	if c.PreviousStatus != models.StatusPending || c.NewStatus != models.StatusApproved {
		t.Fatalf("unexpected audit row %s -> %s", c.PreviousStatus, c.NewStatus)
	}
	if c.ChangedBy == nil || *c.ChangedBy != "admin-1" || c.Note != "looks good" {
		t.Fatalf("unexpected audit actor/note %v %q", c.ChangedBy, c.Note)
	}

	notes, _ := store.ListNotifications(ctx, "U1", 10)
	if len(notes) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notes))
	}
	if notes[0].IsRead || notes[0].Link != "/dashboard/listings" {
		t.Fatalf("unexpected notification %+v", notes[0])
	}
	if !strings.Contains(notes[0].Text, "approved") || !strings.Contains(notes[0].Text, "looks good") {
		t.Fatalf("unexpected notification text %q", notes[0].Text)
	}
}

func TestTransition_SameStatusWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedListing(t, store, "P1", models.StatusApproved)
	before, _ := store.GetListing(ctx, "P1")
	svc := NewStatusService(store, "/dashboard/listings")

	got, err := svc.Transition(ctx, TransitionRequest{ListingID: "P1", NewStatus: strPtr("approved")})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.PostingStatus != models.StatusApproved {
		t.Fatalf("expected approved, got %s", got.PostingStatus)
	}

	changes, _ := store.ListStatusChanges(ctx, "P1")
	notes, _ := store.ListNotifications(ctx, "U1", 10)
	if len(changes) != 0 || len(notes) != 0 {
		t.Fatalf("expected no audit rows or notifications, got %d and %d", len(changes), len(notes))
	}
	after, _ := store.GetListing(ctx, "P1")
	if *after != *before {
		t.Fatalf("expected listing unchanged, got %+v", after)
	}
}

func TestTransition_ToPendingHasNoNotification(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedListing(t, store, "P1", models.StatusRejected)
	svc := NewStatusService(store, "/dashboard/listings")

	if _, err := svc.Transition(ctx, TransitionRequest{ListingID: "P1", NewStatus: strPtr("pending")}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	changes, _ := store.ListStatusChanges(ctx, "P1")
	notes, _ := store.ListNotifications(ctx, "U1", 10)
	if len(changes) != 1 || len(notes) != 0 {
		t.Fatalf("expected 1 audit row and no notification, got %d and %d", len(changes), len(notes))
	}
}

func TestTransition_NotFound(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := NewStatusService(store, "/dashboard/listings")

	_, err := svc.Transition(ctx, TransitionRequest{ListingID: "NOPE", NewStatus: strPtr("approved")})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	changes, _ := store.ListStatusChanges(ctx, "NOPE")
	notes, _ := store.ListNotifications(ctx, "U1", 10)
	if len(changes) != 0 || len(notes) != 0 {
		t.Fatalf("expected nothing written")
	}
}

func TestTransition_InvalidInput(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedListing(t, store, "P1", models.StatusPending)
	svc := NewStatusService(store, "/dashboard/listings")

	cases := []TransitionRequest{
		{ListingID: "", NewStatus: strPtr("approved")},
		{ListingID: "P1", NewStatus: nil},
		{ListingID: "P1", NewStatus: strPtr("banned")},
		{ListingID: "P1", NewStatus: strPtr(" approved ")},
		{ListingID: "P1", NewStatus: strPtr("Approved")},
	}
	for _, req := range cases {
		if _, err := svc.Transition(ctx, req); !errors.Is(err, models.ErrInvalidRequest) {
			t.Fatalf("expected invalid request for %+v, got %v", req, err)
		}
	}

	// a missing listing is reported before a bad status
	_, err := svc.Transition(ctx, TransitionRequest{ListingID: "GONE", NewStatus: strPtr("banned")})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found before status validation, got %v", err)
	}
}

func TestTransition_AuditFailureLeavesListing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedListing(t, store, "P1", models.StatusPending)
	store.Fail("InsertStatusChange", errors.New("disk full"))
	svc := NewStatusService(store, "/dashboard/listings")

	_, err := svc.Transition(ctx, TransitionRequest{ListingID: "P1", NewStatus: strPtr("approved")})
	if !errors.Is(err, models.ErrAuditWrite) || !models.IsStoreError(err) {
		t.Fatalf("expected audit store error, got %v", err)
	}

	l, _ := store.GetListing(ctx, "P1")
	if l.PostingStatus != models.StatusPending {
		t.Fatalf("expected listing still pending, got %s", l.PostingStatus)
	}
	notes, _ := store.ListNotifications(ctx, "U1", 10)
	if len(notes) != 0 {
		t.Fatalf("expected no notification")
	}
}

func TestTransition_NotificationFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedListing(t, store, "P1", models.StatusPending)
	store.Fail("InsertNotification", errors.New("constraint"))
	svc := NewStatusService(store, "/dashboard/listings")

	_, err := svc.Transition(ctx, TransitionRequest{ListingID: "P1", NewStatus: strPtr("rejected")})
	if !models.IsStoreError(err) {
		t.Fatalf("expected store error, got %v", err)
	}

	l, _ := store.GetListing(ctx, "P1")
	changes, _ := store.ListStatusChanges(ctx, "P1")
	if l.PostingStatus != models.StatusPending || len(changes) != 0 {
		t.Fatalf("expected full rollback, got status %s and %d audit rows", l.PostingStatus, len(changes))
	}
}

func TestTransition_CustomLink(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedListing(t, store, "P1", models.StatusPending)
	svc := NewStatusService(store, "/dashboard/listings")

	_, err := svc.Transition(ctx, TransitionRequest{ListingID: "P1", NewStatus: strPtr("approved"), NotificationLink: "/listings/P1"})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	notes, _ := store.ListNotifications(ctx, "U1", 10)
	if len(notes) != 1 || notes[0].Link != "/listings/P1" {
		t.Fatalf("expected custom link, got %+v", notes)
	}
}

// readBarrier holds the first n listing reads until all n have happened, so
// concurrent transitions see the same row.
type readBarrier struct {
	*storage.MemoryStore
	mu      sync.Mutex
	pending int
	wg      sync.WaitGroup
}

func newReadBarrier(store *storage.MemoryStore, n int) *readBarrier {
	b := &readBarrier{MemoryStore: store, pending: n}
	b.wg.Add(n)
	return b
}

func (b *readBarrier) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	l, err := b.MemoryStore.GetListing(ctx, id)

	b.mu.Lock()
	gated := b.pending > 0
	if gated {
		b.pending--
	}
	b.mu.Unlock()

	if gated {
		b.wg.Done()
		b.wg.Wait()
	}
	return l, err
}

func TestTransition_ConcurrentLastCommitWins(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedListing(t, store, "P1", models.StatusPending)
	svc := NewStatusService(newReadBarrier(store, 2), "/dashboard/listings")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, status := range []string{"approved", "rejected"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Transition(ctx, TransitionRequest{ListingID: "P1", NewStatus: strPtr(status)})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("transition: %v", err)
		}
	}

	changes, _ := store.ListStatusChanges(ctx, "P1")
	if len(changes) != 2 {
		t.Fatalf("expected 2 status changes, got %d", len(changes))
	}
	for _, c := range changes {
		if c.PreviousStatus != models.StatusPending {
			t.Fatalf("expected both audits to record pending, got %s", c.PreviousStatus)
		}
	}

	l, _ := store.GetListing(ctx, "P1")
	last := changes[len(changes)-1].NewStatus
	if l.PostingStatus != last {
		t.Fatalf("expected last commit %s to win, got %s", last, l.PostingStatus)
	}
	notes, _ := store.ListNotifications(ctx, "U1", 10)
	if len(notes) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notes))
	}
}
