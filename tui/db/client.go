package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"
)

type Client struct {
	pg     *pgxpool.Pool // nil when the daemon runs on the in-memory store
	sqlite *sql.DB       // ops DB: runs, sweep queue, logs, commands
	ctx    context.Context
}

type ReconcileRun struct {
	ID           int64
	Trigger      string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       string
	DryRun       bool
	ListingsSeen int
	OrphansFound int
	DeletedCount int
	ErrorsCount  int
	ErrorMessage string
}

type SweepItem struct {
	ListingID  string
	Attempts   int
	LastError  string
	EnqueuedAt time.Time
	Done       bool
	Failed     bool
}

// State is how the console labels a queue entry
func (s SweepItem) State() string {
	switch {
	case s.Done:
		return "done"
	case s.Failed:
		return "parked"
	default:
		return "pending"
	}
}

type AppLog struct {
	ID        int64
	RunID     *int64
	Timestamp time.Time
	Level     string
	Source    string
	Message   string
}

type ListingCounts struct {
	Pending  int
	Approved int
	Rejected int
	Media    int
}

func (c ListingCounts) Total() int {
	return c.Pending + c.Approved + c.Rejected
}

type StatusChange struct {
	ListingID      string
	ListingName    string
	ChangedBy      string
	PreviousStatus string
	NewStatus      string
	Note           string
	CreatedAt      time.Time
}

type commandParams struct {
	ListingID string `json:"listing_id,omitempty"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

func New(postgresURL, sqlitePath string) (*Client, error) {
	ctx := context.Background()

	sqliteDB, err := sql.Open("sqlite", sqlitePath)
	if err != nil {
		return nil, err
	}

	var pgPool *pgxpool.Pool
	if postgresURL != "" {
		pgPool, err = pgxpool.New(ctx, postgresURL)
		if err != nil {
			sqliteDB.Close()
			return nil, err
		}
	}

	return &Client{
		pg:     pgPool,
		sqlite: sqliteDB,
		ctx:    ctx,
	}, nil
}

func (c *Client) Close() error {
	if c.pg != nil {
		c.pg.Close()
	}
	return c.sqlite.Close()
}

// HasPostgres reports whether listing data can be shown
func (c *Client) HasPostgres() bool {
	return c.pg != nil
}

// =============================================================================
// Ops DB
// =============================================================================

func (c *Client) GetRecentRuns(limit int) ([]ReconcileRun, error) {
	rows, err := c.sqlite.Query(`
		SELECT id, COALESCE(trigger, ''), started_at, finished_at, COALESCE(status, ''),
			COALESCE(dry_run, FALSE), COALESCE(listings_seen, 0), COALESCE(orphans_found, 0),
			COALESCE(deleted_count, 0), COALESCE(errors_count, 0), COALESCE(error_message, '')
		FROM reconcile_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ReconcileRun
	for rows.Next() {
		var r ReconcileRun
		var started, finished sql.NullString
		if err := rows.Scan(&r.ID, &r.Trigger, &started, &finished, &r.Status, &r.DryRun,
			&r.ListingsSeen, &r.OrphansFound, &r.DeletedCount, &r.ErrorsCount, &r.ErrorMessage); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		if finished.Valid {
			t := parseTime(finished)
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetSweepQueue returns queued and parked sweeps, then the most recent done ones
func (c *Client) GetSweepQueue(limit int) ([]SweepItem, error) {
	rows, err := c.sqlite.Query(`
		SELECT listing_id, attempts, last_error, enqueued_at, done_at IS NOT NULL, failed
		FROM sweep_queue
		ORDER BY (done_at IS NOT NULL), enqueued_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []SweepItem
	for rows.Next() {
		var it SweepItem
		var enqueued sql.NullString
		if err := rows.Scan(&it.ListingID, &it.Attempts, &it.LastError, &enqueued, &it.Done, &it.Failed); err != nil {
			return nil, err
		}
		it.EnqueuedAt = parseTime(enqueued)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (c *Client) GetPendingSweepCount() (int, error) {
	var n int
	err := c.sqlite.QueryRow(`SELECT COUNT(*) FROM sweep_queue WHERE done_at IS NULL AND failed = FALSE`).Scan(&n)
	return n, err
}

// GetRecentLogs returns the newest worker logs; level is lower case when set
func (c *Client) GetRecentLogs(limit int, level *string) ([]AppLog, error) {
	query := `SELECT id, run_id, timestamp, COALESCE(level, ''), COALESCE(source, ''), COALESCE(message, '') FROM app_logs`
	args := []any{}
	if level != nil {
		query += ` WHERE level = ?`
		args = append(args, strings.ToLower(*level))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := c.sqlite.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AppLog
	for rows.Next() {
		var l AppLog
		var runID sql.NullInt64
		var ts sql.NullString
		if err := rows.Scan(&l.ID, &runID, &ts, &l.Level, &l.Source, &l.Message); err != nil {
			return nil, err
		}
		if runID.Valid {
			l.RunID = &runID.Int64
		}
		l.Timestamp = parseTime(ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (c *Client) insertCommand(cmd string, params *commandParams) error {
	var raw any
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = string(data)
	}
	_, err := c.sqlite.Exec(`INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, raw, time.Now().UTC())
	return err
}

// ReconcileNow asks the daemon for a full orphan reconciliation
func (c *Client) ReconcileNow(dryRun bool) error {
	return c.insertCommand("reconcile_now", &commandParams{DryRun: dryRun})
}

// SweepNow wakes the daemon's sweep worker
func (c *Client) SweepNow() error {
	return c.insertCommand("sweep_now", nil)
}

// SweepListing asks the daemon to clear one listing prefix right away
func (c *Client) SweepListing(listingID string) error {
	return c.insertCommand("sweep_listing", &commandParams{ListingID: listingID})
}

// =============================================================================
// Postgres
// =============================================================================

func (c *Client) GetListingCounts() (ListingCounts, error) {
	var counts ListingCounts
	if c.pg == nil {
		return counts, nil
	}
	err := c.pg.QueryRow(c.ctx, `
		SELECT
			COUNT(*) FILTER (WHERE posting_status = 'pending'),
			COUNT(*) FILTER (WHERE posting_status = 'approved'),
			COUNT(*) FILTER (WHERE posting_status = 'rejected'),
			(SELECT COUNT(*) FROM listing_media)
		FROM listings`).Scan(&counts.Pending, &counts.Approved, &counts.Rejected, &counts.Media)
	return counts, err
}

func (c *Client) GetRecentStatusChanges(limit int) ([]StatusChange, error) {
	if c.pg == nil {
		return nil, nil
	}
	rows, err := c.pg.Query(c.ctx, `
		SELECT sc.listing_id, COALESCE(l.name, ''), COALESCE(sc.changed_by, ''),
			sc.previous_status, sc.new_status, sc.note, sc.created_at
		FROM status_changes sc
		LEFT JOIN listings l ON l.id = sc.listing_id
		ORDER BY sc.created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []StatusChange
	for rows.Next() {
		var sc StatusChange
		if err := rows.Scan(&sc.ListingID, &sc.ListingName, &sc.ChangedBy,
			&sc.PreviousStatus, &sc.NewStatus, &sc.Note, &sc.CreatedAt); err != nil {
			return nil, err
		}
		changes = append(changes, sc)
	}
	return changes, rows.Err()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTime reads the timestamp formats the daemon's sqlite driver writes
func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s.String); err == nil {
			return t
		}
	}
	return time.Time{}
}
