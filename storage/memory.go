package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"propmarket/models"
	"propmarket/schema"
)

// MemoryStore is the relational store held in process memory. It backs
// BLOB_BACKEND=memory runs and the service tests. Fail makes a named
// operation return an error until cleared.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState
	fail  map[string]error
}

type memoryState struct {
	listings      map[string]models.Listing
	media         map[string][]models.Media
	statusChanges []models.StatusChange
	notifications []models.Notification
	users         map[string]models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memoryState{
			listings: make(map[string]models.Listing),
			media:    make(map[string][]models.Media),
			users:    make(map[string]models.User),
		},
		fail: make(map[string]error),
	}
}

// Fail makes op fail with err; a nil err clears it
func (s *MemoryStore) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

func (st memoryState) clone() memoryState {
	cp := memoryState{
		listings:      make(map[string]models.Listing, len(st.listings)),
		media:         make(map[string][]models.Media, len(st.media)),
		statusChanges: append([]models.StatusChange(nil), st.statusChanges...),
		notifications: append([]models.Notification(nil), st.notifications...),
		users:         make(map[string]models.User, len(st.users)),
	}
	for k, v := range st.listings {
		cp.listings[k] = v
	}
	for k, v := range st.media {
		cp.media[k] = append([]models.Media(nil), v...)
	}
	for k, v := range st.users {
		cp.users[k] = v
	}
	return cp
}

// memoryTx runs statements against a store whose lock is already held
type memoryTx struct {
	s *MemoryStore
}

// InTx holds the store lock for the whole of fn and restores the previous
// state when fn fails.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure("Begin"); err != nil {
		return err
	}
	snapshot := s.state.clone()
	if err := fn(memoryTx{s: s}); err != nil {
		s.state = snapshot
		return err
	}
	// a cancelled context fails the commit, so nothing is kept
	if err := ctx.Err(); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) failure(op string) error {
	return s.fail[op]
}

// =============================================================================
// Listings
// =============================================================================

func (s *MemoryStore) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryTx{s: s}.GetListing(ctx, id)
}

func (t memoryTx) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	if err := t.s.failure("GetListing"); err != nil {
		return nil, err
	}
	l, ok := t.s.state.listings[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (s *MemoryStore) InsertListing(ctx context.Context, l *models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("InsertListing"); err != nil {
		return err
	}
	if _, exists := s.state.listings[l.ID]; exists {
		return fmt.Errorf("%w: listing %s already exists", models.ErrInvalidRequest, l.ID)
	}
	s.state.listings[l.ID] = *l
	return nil
}

func (s *MemoryStore) UpdateListing(ctx context.Context, id string, patch *models.ListingPatch, updatedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryTx{s: s}.UpdateListing(ctx, id, patch, updatedAt)
}

func (t memoryTx) UpdateListing(ctx context.Context, id string, patch *models.ListingPatch, updatedAt time.Time) (bool, error) {
	if err := t.s.failure("UpdateListing"); err != nil {
		return false, err
	}
	l, ok := t.s.state.listings[id]
	if !ok {
		return false, nil
	}
	schema.ApplyPatch(&l, patch)
	l.UpdatedAt = updatedAt
	t.s.state.listings[id] = l
	return true, nil
}

// DeleteListing removes the row and cascades to media and audit rows
func (s *MemoryStore) DeleteListing(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("DeleteListing"); err != nil {
		return false, err
	}
	if _, ok := s.state.listings[id]; !ok {
		return false, nil
	}
	delete(s.state.listings, id)
	delete(s.state.media, id)

	kept := s.state.statusChanges[:0]
	for _, c := range s.state.statusChanges {
		if c.ListingID != id {
			kept = append(kept, c)
		}
	}
	s.state.statusChanges = kept
	return true, nil
}

func (s *MemoryStore) ListListings(ctx context.Context, f ListFilter) ([]models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ListListings"); err != nil {
		return nil, err
	}

	var out []models.Listing
	for _, l := range s.state.listings {
		if f.Status != nil && l.PostingStatus != *f.Status {
			continue
		}
		if f.OwnerID != "" && l.OwnerID != f.OwnerID {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PostedAt.Equal(out[j].PostedAt) {
			return out[i].PostedAt.After(out[j].PostedAt)
		}
		return out[i].ID < out[j].ID
	})

	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if n := f.limit(); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *MemoryStore) ForEachListing(ctx context.Context, fn func(*models.Listing) error) error {
	s.mu.Lock()
	listings := make([]models.Listing, 0, len(s.state.listings))
	for _, l := range s.state.listings {
		listings = append(listings, l)
	}
	s.mu.Unlock()

	sort.Slice(listings, func(i, j int) bool { return listings[i].ID < listings[j].ID })
	for i := range listings {
		if err := fn(&listings[i]); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Listing Media
// =============================================================================

func (s *MemoryStore) ListMedia(ctx context.Context, listingID string) ([]models.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ListMedia"); err != nil {
		return nil, err
	}
	return append([]models.Media(nil), s.state.media[listingID]...), nil
}

func (s *MemoryStore) MediaFor(ctx context.Context, listingIDs []string) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("MediaFor"); err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(listingIDs))
	for _, id := range listingIDs {
		if media := s.state.media[id]; len(media) > 0 {
			out[id] = schema.Filenames(media)
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertMedia(ctx context.Context, media []models.Media) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("InsertMedia"); err != nil {
		return 0, err
	}

	inserted := 0
	for _, m := range media {
		if _, ok := s.state.listings[m.ListingID]; !ok {
			return inserted, fmt.Errorf("listing_media: listing %s does not exist", m.ListingID)
		}
		if hasMedia(s.state.media[m.ListingID], m.Filename) {
			continue
		}
		s.state.media[m.ListingID] = append(s.state.media[m.ListingID], m)
		inserted++
	}
	return inserted, nil
}

func hasMedia(media []models.Media, filename string) bool {
	for _, m := range media {
		if m.Filename == filename {
			return true
		}
	}
	return false
}

func (s *MemoryStore) ForEachMedia(ctx context.Context, fn func(models.Media) error) error {
	s.mu.Lock()
	if err := s.failure("ForEachMedia"); err != nil {
		s.mu.Unlock()
		return err
	}
	var all []models.Media
	for _, media := range s.state.media {
		all = append(all, media...)
	}
	s.mu.Unlock()

	for _, m := range all {
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Status Changes
// =============================================================================

func (t memoryTx) InsertStatusChange(ctx context.Context, c *models.StatusChange) error {
	if err := t.s.failure("InsertStatusChange"); err != nil {
		return err
	}
	if _, ok := t.s.state.listings[c.ListingID]; !ok {
		return fmt.Errorf("status_changes: listing %s does not exist", c.ListingID)
	}
	t.s.state.statusChanges = append(t.s.state.statusChanges, *c)
	return nil
}

func (s *MemoryStore) ListStatusChanges(ctx context.Context, listingID string) ([]models.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StatusChange
	for _, c := range s.state.statusChanges {
		if c.ListingID == listingID {
			out = append(out, c)
		}
	}
	return out, nil
}

// =============================================================================
// Notifications
// =============================================================================

func (t memoryTx) InsertNotification(ctx context.Context, n *models.Notification) error {
	if err := t.s.failure("InsertNotification"); err != nil {
		return err
	}
	t.s.state.notifications = append(t.s.state.notifications, *n)
	return nil
}

func (s *MemoryStore) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = defaultListLimit
	}
	var out []models.Notification
	for i := len(s.state.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if n := s.state.notifications[i]; n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

// =============================================================================
// Users
// =============================================================================

func (s *MemoryStore) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[u.ID] = u
}

func (s *MemoryStore) ForEachUser(ctx context.Context, fn func(*models.User) error) error {
	s.mu.Lock()
	users := make([]models.User, 0, len(s.state.users))
	for _, u := range s.state.users {
		users = append(users, u)
	}
	s.mu.Unlock()

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	for i := range users {
		if err := fn(&users[i]); err != nil {
			return err
		}
	}
	return nil
}
