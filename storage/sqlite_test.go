package storage

import (
	"path/filepath"
	"testing"
	"time"

	"propmarket/models"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ops.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SweepQueue(t *testing.T) {
	store := newTestSQLite(t)

	if err := store.EnqueueSweep("P1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.EnqueueSweep("P2"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	items, err := store.PendingSweeps(10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(items))
	}

	if err := store.MarkSweepDone("P1"); err != nil {
		t.Fatalf("done: %v", err)
	}
	items, _ = store.PendingSweeps(10)
	if len(items) != 1 || items[0].ListingID != "P2" {
		t.Fatalf("expected only P2 pending, got %+v", items)
	}

	done, err := store.GetSweep("P1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if done == nil || done.DoneAt == nil {
		t.Fatalf("expected P1 to be marked done, got %+v", done)
	}
}

func TestSQLiteStore_MarkSweepFailedParks(t *testing.T) {
	store := newTestSQLite(t)
	store.EnqueueSweep("P1")

	for i := 1; i <= 2; i++ {
		parked, err := store.MarkSweepFailed("P1", "boom", 3)
		if err != nil {
			t.Fatalf("mark failed: %v", err)
		}
		if parked {
			t.Fatalf("attempt %d: expected not parked yet", i)
		}
	}
	parked, err := store.MarkSweepFailed("P1", "boom", 3)
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if !parked {
		t.Fatalf("expected item parked after 3 attempts")
	}

	items, _ := store.PendingSweeps(10)
	if len(items) != 0 {
		t.Fatalf("expected parked item to leave the queue, got %d", len(items))
	}

	it, _ := store.GetSweep("P1")
	if it.Attempts != 3 || it.LastError != "boom" || !it.Failed {
		t.Fatalf("unexpected sweep item %+v", it)
	}

	// re-enqueue resets
	store.EnqueueSweep("P1")
	items, _ = store.PendingSweeps(10)
	if len(items) != 1 || items[0].Attempts != 0 {
		t.Fatalf("expected reset item, got %+v", items)
	}
}

func TestSQLiteStore_Runs(t *testing.T) {
	store := newTestSQLite(t)

	run := &models.ReconcileRun{Trigger: "api", StartedAt: time.Now().UTC(), Status: models.RunStatusRunning}
	id, err := store.CreateRun(run)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	run.ID = id

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.Status = models.RunStatusCompleted
	run.DeletedCount = 4
	run.ListingsSeen = 2
	if err := store.FinishRun(run); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	runs, err := store.RecentRuns(5)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Status != models.RunStatusCompleted || runs[0].DeletedCount != 4 || runs[0].FinishedAt == nil {
		t.Fatalf("unexpected run %+v", runs[0])
	}
}

func TestSQLiteStore_Commands(t *testing.T) {
	store := newTestSQLite(t)

	if err := store.InsertCommand(models.CmdSweepListing, &models.CommandParams{ListingID: "P9"}); err != nil {
		t.Fatalf("insert command: %v", err)
	}
	if err := store.InsertCommand(models.CmdReconcileNow, nil); err != nil {
		t.Fatalf("insert command: %v", err)
	}

	cmds, err := store.GetPendingCommands()
	if err != nil {
		t.Fatalf("pending commands: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(cmds))
	}

	params, err := store.ParseCommandParams(&cmds[0])
	if err != nil {
		t.Fatalf("parse params: %v", err)
	}
	if params.ListingID != "P9" {
		t.Fatalf("expected listing P9, got %q", params.ListingID)
	}
	params, err = store.ParseCommandParams(&cmds[1])
	if err != nil || params.ListingID != "" {
		t.Fatalf("expected empty params, got %+v %v", params, err)
	}

	store.MarkCommandProcessed(cmds[0].ID)
	cmds, _ = store.GetPendingCommands()
	if len(cmds) != 1 || cmds[0].Command != models.CmdReconcileNow {
		t.Fatalf("expected only reconcile_now pending, got %+v", cmds)
	}
}

func TestSQLiteStore_Log(t *testing.T) {
	store := newTestSQLite(t)

	if err := store.Log(nil, models.LogLevelWarn, "sweep", "prefix busy"); err != nil {
		t.Fatalf("log: %v", err)
	}
	logs, err := store.RecentLogs(10)
	if err != nil {
		t.Fatalf("recent logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Source != "sweep" || logs[0].Level != models.LogLevelWarn {
		t.Fatalf("unexpected logs %+v", logs)
	}
}
