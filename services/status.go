package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"propmarket/identity"
	"propmarket/models"
	"propmarket/schema"
	"propmarket/storage"
)

// StatusService moves listings between pending, approved and rejected.
//
// An accepted change writes the audit row, the listing update and, for
// approved/rejected, the owner notification in one transaction. Any of the
// three failing leaves the listing untouched. Concurrent transitions on the
// same listing are not serialised: both read the same previous status and
// the last commit wins.
type StatusService struct {
	store       ListingStore
	defaultLink string
	now         func() time.Time
}

func NewStatusService(store ListingStore, defaultLink string) *StatusService {
	return &StatusService{
		store:       store,
		defaultLink: defaultLink,
		now:         time.Now,
	}
}

// TransitionRequest is the input of the status-only moderation endpoint
type TransitionRequest struct {
	ListingID        string
	NewStatus        *string
	Note             string
	ActorID          *string
	NotificationLink string
}

// transition is one status move plus, on the generic update path, the other
// fields written with it
type transition struct {
	status *models.PostingStatus // nil: status not part of the write
	fields *models.ListingPatch  // non-status fields, may be nil
	note   string
	actor  *string
	link   string
}

// Transition validates the id, loads the listing, then validates the
// requested status before writing anything.
func (s *StatusService) Transition(ctx context.Context, req TransitionRequest) (*models.ListingWithMedia, error) {
	if !identity.ValidListingID(req.ListingID) {
		return nil, fmt.Errorf("%w: listing id is required", models.ErrInvalidRequest)
	}

	current, err := s.store.GetListing(ctx, req.ListingID)
	if err != nil {
		return nil, models.NewStoreError("get listing", err)
	}
	if current == nil {
		return nil, fmt.Errorf("listing %s: %w", req.ListingID, models.ErrNotFound)
	}

	if req.NewStatus == nil {
		return nil, fmt.Errorf("%w: newStatus is required", models.ErrInvalidRequest)
	}
	status, err := models.ParsePostingStatus(*req.NewStatus)
	if err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		return s.apply(ctx, tx, current, transition{
			status: &status,
			note:   req.Note,
			actor:  req.ActorID,
			link:   req.NotificationLink,
		})
	})
	if err != nil {
		return nil, err
	}

	return loadWithMedia(ctx, s.store, req.ListingID)
}

// apply runs inside a transaction; current is the row read before it began.
func (s *StatusService) apply(ctx context.Context, tx storage.Tx, current *models.Listing, t transition) error {
	now := s.now().UTC()

	patch := schema.WithoutStatus(t.fields)
	touched := !schema.PatchEmpty(patch)
	changed := false
	if t.status != nil {
		patch.PostingStatus = t.status
		changed = *t.status != current.PostingStatus
	}

	if changed {
		audit := &models.StatusChange{
			ID:             uuid.New(),
			ListingID:      current.ID,
			ChangedBy:      t.actor,
			PreviousStatus: current.PostingStatus,
			NewStatus:      *t.status,
			Note:           t.note,
			CreatedAt:      now,
		}
		if err := tx.InsertStatusChange(ctx, audit); err != nil {
			return models.NewStoreError("insert status change", fmt.Errorf("%w: %v", models.ErrAuditWrite, err))
		}
	}

	updatedAt := current.UpdatedAt
	if changed || touched {
		updatedAt = now
	}
	ok, err := tx.UpdateListing(ctx, current.ID, patch, updatedAt)
	if err != nil {
		return models.NewStoreError("update listing", err)
	}
	if !ok {
		return fmt.Errorf("listing %s: %w", current.ID, models.ErrNotFound)
	}

	if changed && t.status.Notifies() {
		link := t.link
		if link == "" {
			link = s.defaultLink
		}
		n := &models.Notification{
			ID:        uuid.New(),
			UserID:    current.OwnerID,
			Text:      notificationText(current, *t.status, t.note),
			IsRead:    false,
			Link:      link,
			CreatedAt: now,
		}
		if err := tx.InsertNotification(ctx, n); err != nil {
			return models.NewStoreError("insert notification", err)
		}
	}
	return nil
}

func notificationText(l *models.Listing, status models.PostingStatus, note string) string {
	name := strings.TrimSpace(l.Name)
	if name == "" {
		name = l.ID
	}

	var b strings.Builder
	switch status {
	case models.StatusApproved:
		fmt.Fprintf(&b, "Your listing %q has been approved and is now visible.", name)
	case models.StatusRejected:
		fmt.Fprintf(&b, "Your listing %q has been rejected.", name)
	default:
		fmt.Fprintf(&b, "Your listing %q is now %s.", name, status)
	}
	if note = strings.TrimSpace(note); note != "" {
		b.WriteString(" Note: ")
		b.WriteString(note)
	}
	return b.String()
}

// History returns the audit trail of a listing, oldest first
func (s *StatusService) History(ctx context.Context, listingID string) ([]models.StatusChange, error) {
	if !identity.ValidListingID(listingID) {
		return nil, fmt.Errorf("%w: listing id is required", models.ErrInvalidRequest)
	}
	changes, err := s.store.ListStatusChanges(ctx, listingID)
	if err != nil {
		return nil, models.NewStoreError("list status changes", err)
	}
	return changes, nil
}

// Notifications returns a user's most recent notifications
func (s *StatusService) Notifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrInvalidRequest)
	}
	notes, err := s.store.ListNotifications(ctx, userID, limit)
	if err != nil {
		return nil, models.NewStoreError("list notifications", err)
	}
	return notes, nil
}
