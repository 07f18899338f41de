package services

import (
	"context"
	"errors"
	"testing"

	"propmarket/identity"
	"propmarket/models"
	"propmarket/reconcile"
	"propmarket/storage"
)

type memoryRuns struct {
	runs []models.ReconcileRun
}

func (m *memoryRuns) CreateRun(run *models.ReconcileRun) (int64, error) {
	m.runs = append(m.runs, *run)
	return int64(len(m.runs)), nil
}

func (m *memoryRuns) FinishRun(run *models.ReconcileRun) error {
	m.runs[run.ID-1] = *run
	return nil
}

func (m *memoryRuns) RecentRuns(limit int) ([]models.ReconcileRun, error) {
	if limit > len(m.runs) {
		limit = len(m.runs)
	}
	return m.runs[:limit], nil
}

func newCleanup(t *testing.T) (*CleanupService, *storage.MemoryStore, *storage.MemoryBlobStore, *memoryRuns) {
	t.Helper()
	store := storage.NewMemoryStore()
	blobs := storage.NewMemoryBlobStore()
	runs := &memoryRuns{}
	r := reconcile.New(blobs, store, identity.DefaultKeyspace(), reconcile.Options{})
	return NewCleanupService(r, nil, runs), store, blobs, runs
}

func TestCleanupService_RunRecordsResult(t *testing.T) {
	ctx := context.Background()
	svc, store, blobs, runs := newCleanup(t)
	seedListing(t, store, "P1", models.StatusApproved)
	store.InsertMedia(ctx, []models.Media{{ListingID: "P1", Filename: "keep.jpg"}})
	blobs.Put("properties/P1/keep.jpg", []byte("k"))
	blobs.Put("properties/P1/orphan.jpg", []byte("o"))

	result, err := svc.Run(ctx, "api", false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.DeletedCount != 1 {
		t.Fatalf("expected 1 deleted, got %d", result.DeletedCount)
	}
	if blobs.Exists("properties/P1/orphan.jpg") || !blobs.Exists("properties/P1/keep.jpg") {
		t.Fatalf("expected only the orphan removed")
	}

	if len(runs.runs) != 1 {
		t.Fatalf("expected 1 run record, got %d", len(runs.runs))
	}
	run := runs.runs[0]
	if run.Status != models.RunStatusCompleted || run.DeletedCount != 1 || run.FinishedAt == nil || run.Trigger != "api" {
		t.Fatalf("unexpected run record %+v", run)
	}
}

func TestCleanupService_DryRun(t *testing.T) {
	ctx := context.Background()
	svc, _, blobs, runs := newCleanup(t)
	blobs.Put("properties/GONE/a.jpg", []byte("a"))

	result, err := svc.Run(ctx, "cli", true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.OrphansFound != 1 || result.DeletedCount != 0 || !blobs.Exists("properties/GONE/a.jpg") {
		t.Fatalf("expected orphan reported but kept, got %+v", result)
	}
	if !runs.runs[0].DryRun {
		t.Fatalf("expected dry run recorded")
	}
}

func TestCleanupService_IndexFailureIsStoreError(t *testing.T) {
	ctx := context.Background()
	svc, store, _, runs := newCleanup(t)
	store.Fail("ForEachMedia", errors.New("connection reset"))

	_, err := svc.Run(ctx, "cron", false)
	if !models.IsStoreError(err) {
		t.Fatalf("expected store error, got %v", err)
	}
	if runs.runs[0].Status != models.RunStatusFailed || runs.runs[0].ErrorMessage == "" {
		t.Fatalf("expected failed run record, got %+v", runs.runs[0])
	}
}

func TestCleanupService_Runs(t *testing.T) {
	svc, _, _, _ := newCleanup(t)
	svc.Run(context.Background(), "api", true)

	got, err := svc.Runs(0)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 run, got %d", len(got))
	}

	empty := NewCleanupService(nil, nil, nil)
	got, _ = empty.Runs(5)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty slice without a recorder, got %v", got)
	}
}
