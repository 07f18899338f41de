package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// ReconcileRun is the ops-DB record of one reconciliation run
type ReconcileRun struct {
	ID           int64      `json:"id" db:"id"`
	Trigger      string     `json:"trigger" db:"trigger"` // cron, api, command, cli
	StartedAt    time.Time  `json:"startedAt" db:"started_at"`
	FinishedAt   *time.Time `json:"finishedAt" db:"finished_at"`
	Status       RunStatus  `json:"status" db:"status"`
	DryRun       bool       `json:"dryRun" db:"dry_run"`
	ListingsSeen int        `json:"listingsSeen" db:"listings_seen"`
	OrphansFound int        `json:"orphansFound" db:"orphans_found"`
	DeletedCount int        `json:"deletedCount" db:"deleted_count"`
	ErrorsCount  int        `json:"errorsCount" db:"errors_count"`
	ErrorMessage string     `json:"errorMessage,omitempty" db:"error_message"`
}

// ListingReconcile is the per-listing detail of a reconciliation
type ListingReconcile struct {
	ListingID  string   `json:"listingId"`
	FilesFound int      `json:"filesFound"`
	Referenced int      `json:"referenced"`
	Orphans    []string `json:"orphans,omitempty"`
	Deleted    int      `json:"deleted"`
	Error      string   `json:"error,omitempty"`
}

// ReconcileResult is what a reconciliation run reports
type ReconcileResult struct {
	DeletedCount int                `json:"deletedCount"`
	OrphansFound int                `json:"orphansFound"`
	Errors       int                `json:"errors"`
	DryRun       bool               `json:"dryRun"`
	Listings     []ListingReconcile `json:"listings,omitempty"`
}

// Add folds a per-listing outcome into the totals
func (r *ReconcileResult) Add(l ListingReconcile) {
	r.DeletedCount += l.Deleted
	r.OrphansFound += len(l.Orphans)
	if l.Error != "" {
		r.Errors++
	}
	r.Listings = append(r.Listings, l)
}

// Status derives the run status from the totals
func (r *ReconcileResult) Status() RunStatus {
	if r.Errors > 0 {
		return RunStatusPartial
	}
	return RunStatusCompleted
}
