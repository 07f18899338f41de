package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"propmarket/models"
	"propmarket/schema"
)

const pgUniqueViolation = "23505"

// querier is what both the pool and an open transaction can do
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// pgQueries holds every statement; it runs against the pool or a tx
type pgQueries struct {
	q querier
}

type PostgresStore struct {
	pgQueries
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pgQueries: pgQueries{q: pool}, pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InTx runs fn in one transaction; any error from fn rolls everything back.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(pgQueries{q: tx})
	})
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT '',
	bio TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT 'user',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS listings (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	property_type TEXT NOT NULL DEFAULT '',
	deal_type TEXT NOT NULL DEFAULT '',
	price DOUBLE PRECISION,
	area DOUBLE PRECISION,
	rooms INTEGER,
	bathrooms INTEGER,
	description TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	lat DOUBLE PRECISION,
	lng DOUBLE PRECISION,
	owner_id TEXT NOT NULL,
	posting_status TEXT NOT NULL DEFAULT 'pending'
		CHECK (posting_status IN ('pending', 'approved', 'rejected')),
	posted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_listings_owner ON listings(owner_id);
CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(posting_status);

CREATE TABLE IF NOT EXISTS listing_media (
	listing_id TEXT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
	filename TEXT NOT NULL,
	storage_key TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (listing_id, filename)
);

CREATE TABLE IF NOT EXISTS status_changes (
	id UUID PRIMARY KEY,
	listing_id TEXT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
	changed_by TEXT,
	previous_status TEXT NOT NULL,
	new_status TEXT NOT NULL,
	note TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_status_changes_listing ON status_changes(listing_id, created_at);

CREATE TABLE IF NOT EXISTS notifications (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	text TEXT NOT NULL,
	is_read BOOLEAN NOT NULL DEFAULT FALSE,
	link TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return err
}

// =============================================================================
// Listings
// =============================================================================

func (q pgQueries) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	query := `SELECT ` + schema.ListingColumnList() + ` FROM listings WHERE id = $1`

	l, err := schema.ScanListing(q.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// InsertListing reports a duplicate id as an invalid request
func (q pgQueries) InsertListing(ctx context.Context, l *models.Listing) error {
	cols := schema.ListingColumns()
	query := fmt.Sprintf(`INSERT INTO listings (%s) VALUES (%s)`,
		strings.Join(cols, ", "), placeholders(1, len(cols)))

	_, err := q.q.Exec(ctx, query, schema.ListingValues(l)...)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: listing %s already exists", models.ErrInvalidRequest, l.ID)
	}
	return err
}

// UpdateListing applies the set patch fields. It returns false when the row
// does not exist.
func (q pgQueries) UpdateListing(ctx context.Context, id string, patch *models.ListingPatch, updatedAt time.Time) (bool, error) {
	cols, vals := schema.PatchColumns(patch)

	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(vals)+2)
	args = append(args, id)
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+2))
		args = append(args, vals[i])
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)+1))
	args = append(args, updatedAt)

	query := `UPDATE listings SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
	tag, err := q.q.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q pgQueries) DeleteListing(ctx context.Context, id string) (bool, error) {
	tag, err := q.q.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q pgQueries) ListListings(ctx context.Context, f ListFilter) ([]models.Listing, error) {
	var where []string
	var args []any
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("posting_status = $%d", len(args)))
	}
	if f.OwnerID != "" {
		args = append(args, f.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}

	query := `SELECT ` + schema.ListingColumnList() + ` FROM listings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.limit(), f.Offset)
	query += fmt.Sprintf(` ORDER BY posted_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := q.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := schema.ScanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

// ForEachListing streams every listing row, for reference scans
func (q pgQueries) ForEachListing(ctx context.Context, fn func(*models.Listing) error) error {
	rows, err := q.q.Query(ctx, `SELECT `+schema.ListingColumnList()+` FROM listings ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		l, err := schema.ScanListing(rows)
		if err != nil {
			return err
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return rows.Err()
}

// =============================================================================
// Listing Media
// =============================================================================

func (q pgQueries) ListMedia(ctx context.Context, listingID string) ([]models.Media, error) {
	query := `SELECT ` + schema.MediaColumnList() + `
		FROM listing_media WHERE listing_id = $1
		ORDER BY created_at, filename`

	rows, err := q.q.Query(ctx, query, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var media []models.Media
	for rows.Next() {
		m, err := schema.ScanMedia(rows)
		if err != nil {
			return nil, err
		}
		media = append(media, m)
	}
	return media, rows.Err()
}

// MediaFor returns filenames per listing for a page of listings
func (q pgQueries) MediaFor(ctx context.Context, listingIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(listingIDs))
	if len(listingIDs) == 0 {
		return out, nil
	}

	rows, err := q.q.Query(ctx, `
		SELECT listing_id, filename FROM listing_media
		WHERE listing_id = ANY($1)
		ORDER BY listing_id, created_at, filename`, listingIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, filename string
		if err := rows.Scan(&id, &filename); err != nil {
			return nil, err
		}
		out[id] = append(out[id], filename)
	}
	return out, rows.Err()
}

// InsertMedia inserts rows, skipping filenames the listing already has.
// It returns how many rows were new.
func (q pgQueries) InsertMedia(ctx context.Context, media []models.Media) (int, error) {
	if len(media) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO listing_media (` + schema.MediaColumnList() + `)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (listing_id, filename) DO NOTHING`

	batch := &pgx.Batch{}
	for i := range media {
		batch.Queue(query, schema.MediaValues(&media[i])...)
	}

	br := q.q.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range media {
		tag, err := br.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ForEachMedia streams every listing_media row
func (q pgQueries) ForEachMedia(ctx context.Context, fn func(models.Media) error) error {
	rows, err := q.q.Query(ctx, `SELECT `+schema.MediaColumnList()+` FROM listing_media`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		m, err := schema.ScanMedia(rows)
		if err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return rows.Err()
}

// =============================================================================
// Status Changes
// =============================================================================

func (q pgQueries) InsertStatusChange(ctx context.Context, c *models.StatusChange) error {
	query := `
		INSERT INTO status_changes (id, listing_id, changed_by, previous_status, new_status, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := q.q.Exec(ctx, query,
		c.ID, c.ListingID, c.ChangedBy, string(c.PreviousStatus), string(c.NewStatus), c.Note, c.CreatedAt,
	)
	return err
}

func (q pgQueries) ListStatusChanges(ctx context.Context, listingID string) ([]models.StatusChange, error) {
	query := `
		SELECT id, listing_id, changed_by, previous_status, new_status, note, created_at
		FROM status_changes WHERE listing_id = $1
		ORDER BY created_at`

	rows, err := q.q.Query(ctx, query, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []models.StatusChange
	for rows.Next() {
		var c models.StatusChange
		if err := rows.Scan(&c.ID, &c.ListingID, &c.ChangedBy, &c.PreviousStatus, &c.NewStatus, &c.Note, &c.CreatedAt); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// =============================================================================
// Notifications
// =============================================================================

func (q pgQueries) InsertNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, text, is_read, link, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := q.q.Exec(ctx, query, n.ID, n.UserID, n.Text, n.IsRead, n.Link, n.CreatedAt)
	return err
}

func (q pgQueries) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `
		SELECT id, user_id, text, is_read, link, created_at
		FROM notifications WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := q.q.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Text, &n.IsRead, &n.Link, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// =============================================================================
// Users
// =============================================================================

// ForEachUser streams every user profile, for reference scans
func (q pgQueries) ForEachUser(ctx context.Context, fn func(*models.User) error) error {
	rows, err := q.q.Query(ctx, `
		SELECT id, email, display_name, avatar_url, bio, role, created_at
		FROM users ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.AvatarURL, &u.Bio, &u.Role, &u.CreatedAt); err != nil {
			return err
		}
		if err := fn(&u); err != nil {
			return err
		}
	}
	return rows.Err()
}

func placeholders(start, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ph, ", ")
}
