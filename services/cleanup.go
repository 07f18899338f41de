package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"propmarket/logging"
	"propmarket/models"
	"propmarket/reconcile"
)

// CleanupService runs orphan reconciliation and records each run. Runs may
// overlap; every run recomputes from scratch and gets its own record.
type CleanupService struct {
	reconciler *reconcile.Reconciler
	legacy     *reconcile.LegacyScanner // nil unless the legacy root scan is enabled
	runs       RunRecorder
}

func NewCleanupService(reconciler *reconcile.Reconciler, legacy *reconcile.LegacyScanner, runs RunRecorder) *CleanupService {
	return &CleanupService{
		reconciler: reconciler,
		legacy:     legacy,
		runs:       runs,
	}
}

// Run reconciles every listing prefix, then the legacy root when enabled.
// Per-listing failures only show up in the result; an error means the run
// could not establish what is referenced.
func (s *CleanupService) Run(ctx context.Context, trigger string, dryRun bool) (*models.ReconcileResult, error) {
	run := &models.ReconcileRun{
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
		Status:    models.RunStatusRunning,
		DryRun:    dryRun,
	}
	if s.runs != nil {
		id, err := s.runs.CreateRun(run)
		if err != nil {
			logging.Warnf("[Cleanup] failed to record run start: %v", err)
		}
		run.ID = id
	}

	result, err := s.reconciler.WithDryRun(dryRun).Run(ctx)
	if err == nil && s.legacy != nil {
		var legacy *models.ReconcileResult
		legacy, err = s.legacy.WithDryRun(dryRun).Run(ctx)
		if err == nil {
			for _, l := range legacy.Listings {
				result.Add(l)
			}
		}
	}

	s.finish(run, result, err)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return result, err
		}
		return result, models.NewStoreError("reconcile", err)
	}
	return result, nil
}

func (s *CleanupService) finish(run *models.ReconcileRun, result *models.ReconcileResult, runErr error) {
	finished := time.Now().UTC()
	run.FinishedAt = &finished

	if result != nil {
		run.ListingsSeen = len(result.Listings)
		run.OrphansFound = result.OrphansFound
		run.DeletedCount = result.DeletedCount
		run.ErrorsCount = result.Errors
		run.Status = result.Status()
	}
	switch {
	case runErr != nil && result == nil:
		run.Status = models.RunStatusFailed
		run.ErrorMessage = runErr.Error()
	case runErr != nil:
		run.Status = models.RunStatusPartial
		run.ErrorMessage = runErr.Error()
	}

	logging.Infof("[Cleanup] run %d (%s) %s: %d deleted, %d orphans, %d errors in %s",
		run.ID, run.Trigger, run.Status, run.DeletedCount, run.OrphansFound, run.ErrorsCount,
		finished.Sub(run.StartedAt).Round(time.Millisecond))

	if s.runs == nil || run.ID == 0 {
		return
	}
	if err := s.runs.FinishRun(run); err != nil {
		logging.Warnf("[Cleanup] failed to record run %d: %v", run.ID, err)
	}
}

// Runs returns the most recent run records
func (s *CleanupService) Runs(limit int) ([]models.ReconcileRun, error) {
	if s.runs == nil {
		return []models.ReconcileRun{}, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	runs, err := s.runs.RecentRuns(limit)
	if err != nil {
		return nil, models.NewStoreError("recent runs", fmt.Errorf("ops db: %w", err))
	}
	if runs == nil {
		runs = []models.ReconcileRun{}
	}
	return runs, nil
}
