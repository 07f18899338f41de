package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"propmarket/models"
)

// SQLiteStore is the local ops database: the sweep queue for deleted
// listings, reconcile run history, operator commands and worker logs.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sweep_queue (
		listing_id TEXT PRIMARY KEY,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		enqueued_at DATETIME NOT NULL,
		done_at DATETIME,
		failed BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS reconcile_runs (
		id INTEGER PRIMARY KEY,
		trigger TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		dry_run BOOLEAN DEFAULT FALSE,
		listings_seen INTEGER DEFAULT 0,
		orphans_found INTEGER DEFAULT 0,
		deleted_count INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0,
		error_message TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS app_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		source TEXT,
		message TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_sweep_pending ON sweep_queue(enqueued_at) WHERE done_at IS NULL AND failed = FALSE;
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON app_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON reconcile_runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Sweep queue
// =============================================================================

// EnqueueSweep queues a deleted listing's prefix for cleanup. Re-enqueueing
// a listing resets it to pending.
func (s *SQLiteStore) EnqueueSweep(listingID string) error {
	_, err := s.db.Exec(`
		INSERT INTO sweep_queue (listing_id, attempts, last_error, enqueued_at, done_at, failed)
		VALUES (?, 0, '', ?, NULL, FALSE)
		ON CONFLICT(listing_id) DO UPDATE SET
			attempts = 0,
			last_error = '',
			enqueued_at = excluded.enqueued_at,
			done_at = NULL,
			failed = FALSE`,
		listingID, time.Now().UTC())
	return err
}

func (s *SQLiteStore) PendingSweeps(limit int) ([]models.SweepItem, error) {
	rows, err := s.db.Query(`
		SELECT listing_id, attempts, last_error, enqueued_at, done_at, failed
		FROM sweep_queue
		WHERE done_at IS NULL AND failed = FALSE
		ORDER BY enqueued_at
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.SweepItem
	for rows.Next() {
		var it models.SweepItem
		if err := rows.Scan(&it.ListingID, &it.Attempts, &it.LastError, &it.EnqueuedAt, &it.DoneAt, &it.Failed); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) GetSweep(listingID string) (*models.SweepItem, error) {
	var it models.SweepItem
	err := s.db.QueryRow(`
		SELECT listing_id, attempts, last_error, enqueued_at, done_at, failed
		FROM sweep_queue WHERE listing_id = ?`, listingID).
		Scan(&it.ListingID, &it.Attempts, &it.LastError, &it.EnqueuedAt, &it.DoneAt, &it.Failed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *SQLiteStore) MarkSweepDone(listingID string) error {
	_, err := s.db.Exec(`UPDATE sweep_queue SET done_at = ?, last_error = '' WHERE listing_id = ?`,
		time.Now().UTC(), listingID)
	return err
}

// MarkSweepFailed records a failed attempt. Once attempts reach maxAttempts
// the item is parked and left to the full reconciler.
func (s *SQLiteStore) MarkSweepFailed(listingID, lastError string, maxAttempts int) (parked bool, err error) {
	_, err = s.db.Exec(`
		UPDATE sweep_queue SET
			attempts = attempts + 1,
			last_error = ?,
			failed = (attempts + 1 >= ?)
		WHERE listing_id = ?`, lastError, maxAttempts, listingID)
	if err != nil {
		return false, err
	}
	err = s.db.QueryRow(`SELECT failed FROM sweep_queue WHERE listing_id = ?`, listingID).Scan(&parked)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return parked, err
}

// =============================================================================
// Reconcile runs
// =============================================================================

func (s *SQLiteStore) CreateRun(run *models.ReconcileRun) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO reconcile_runs (trigger, started_at, status, dry_run)
		VALUES (?, ?, ?, ?)`,
		run.Trigger, run.StartedAt, run.Status, run.DryRun)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) FinishRun(run *models.ReconcileRun) error {
	_, err := s.db.Exec(`
		UPDATE reconcile_runs SET
			finished_at = ?, status = ?, listings_seen = ?, orphans_found = ?,
			deleted_count = ?, errors_count = ?, error_message = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.ListingsSeen, run.OrphansFound,
		run.DeletedCount, run.ErrorsCount, run.ErrorMessage, run.ID)
	return err
}

func (s *SQLiteStore) RecentRuns(limit int) ([]models.ReconcileRun, error) {
	rows, err := s.db.Query(`
		SELECT id, trigger, started_at, finished_at, status, dry_run,
			listings_seen, orphans_found, deleted_count, errors_count, COALESCE(error_message, '')
		FROM reconcile_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ReconcileRun
	for rows.Next() {
		var r models.ReconcileRun
		if err := rows.Scan(&r.ID, &r.Trigger, &r.StartedAt, &r.FinishedAt, &r.Status, &r.DryRun,
			&r.ListingsSeen, &r.OrphansFound, &r.DeletedCount, &r.ErrorsCount, &r.ErrorMessage); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// Logs
// =============================================================================

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, source, message string) error {
	_, err := s.db.Exec(`
		INSERT INTO app_logs (run_id, timestamp, level, source, message)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now().UTC(), level, source, message)
	return err
}

func (s *SQLiteStore) RecentLogs(limit int) ([]models.AppLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, source, message
		FROM app_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.AppLog
	for rows.Next() {
		var l models.AppLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Source, &l.Message); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) InsertCommand(cmd models.CommandType, params *models.CommandParams) error {
	var raw any
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = string(data)
	}
	_, err := s.db.Exec(`INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, raw, time.Now().UTC())
	return err
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStore) ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}
