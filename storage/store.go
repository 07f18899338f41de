package storage

import (
	"context"
	"time"

	"propmarket/models"
)

// Tx is the write surface available inside one relational transaction.
// A status transition writes its audit row, the listing update and the
// owner notification through the same Tx.
type Tx interface {
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	InsertStatusChange(ctx context.Context, c *models.StatusChange) error
	UpdateListing(ctx context.Context, id string, patch *models.ListingPatch, updatedAt time.Time) (bool, error)
	InsertNotification(ctx context.Context, n *models.Notification) error
}

// ListFilter narrows ListListings. Zero values mean no filter.
type ListFilter struct {
	Status  *models.PostingStatus
	OwnerID string
	Limit   int
	Offset  int
}

const defaultListLimit = 50

func (f ListFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 500 {
		return defaultListLimit
	}
	return f.Limit
}
