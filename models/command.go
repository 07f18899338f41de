package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdReconcileNow CommandType = "reconcile_now"
	CmdSweepNow     CommandType = "sweep_now"
	CmdSweepListing CommandType = "sweep_listing"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	ListingID string `json:"listing_id,omitempty"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

// SweepItem is a deleted listing whose storage prefix still has to be cleared
type SweepItem struct {
	ListingID  string     `json:"listing_id" db:"listing_id"`
	Attempts   int        `json:"attempts" db:"attempts"`
	LastError  string     `json:"last_error" db:"last_error"`
	EnqueuedAt time.Time  `json:"enqueued_at" db:"enqueued_at"`
	DoneAt     *time.Time `json:"done_at" db:"done_at"`
	Failed     bool       `json:"failed" db:"failed"`
}
