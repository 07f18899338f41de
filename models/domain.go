package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostingStatus is the moderation state of a listing
type PostingStatus string

// Posting status
const (
	StatusPending  PostingStatus = "pending"
	StatusApproved PostingStatus = "approved"
	StatusRejected PostingStatus = "rejected"
)

// ParsePostingStatus accepts only the three moderation states.
func ParsePostingStatus(s string) (PostingStatus, error) {
	switch PostingStatus(s) {
	case StatusPending:
		return StatusPending, nil
	case StatusApproved:
		return StatusApproved, nil
	case StatusRejected:
		return StatusRejected, nil
	}
	return "", fmt.Errorf("%w: unknown posting status %q", ErrInvalidRequest, s)
}

// Notifies reports whether landing on this status notifies the owner
func (s PostingStatus) Notifies() bool {
	return s == StatusApproved || s == StatusRejected
}

// Listing is a property offered on the marketplace
type Listing struct {
	ID            string        `json:"id" db:"id"`
	Name          string        `json:"name" db:"name"`
	Category      string        `json:"category" db:"category"`           // apartment, house, land, commercial
	PropertyType  string        `json:"propertyType" db:"property_type"`  // free-form subtype
	DealType      string        `json:"dealType" db:"deal_type"`          // sale, rent
	Price         *float64      `json:"price" db:"price"`
	Area          *float64      `json:"area" db:"area"`
	Rooms         *int          `json:"rooms" db:"rooms"`
	Bathrooms     *int          `json:"bathrooms" db:"bathrooms"`
	Description   string        `json:"description" db:"description"`
	Address       string        `json:"address" db:"address"`
	Lat           *float64      `json:"lat" db:"lat"`
	Lng           *float64      `json:"lng" db:"lng"`
	OwnerID       string        `json:"ownerId" db:"owner_id"`
	PostingStatus PostingStatus `json:"postingStatus" db:"posting_status"`
	PostedAt      time.Time     `json:"postedAt" db:"posted_at"`
	UpdatedAt     time.Time     `json:"updatedAt" db:"updated_at"`
}

// ListingPatch carries the fields of a partial listing update.
// Nil pointers are left untouched.
type ListingPatch struct {
	Name          *string        `json:"name,omitempty"`
	Category      *string        `json:"category,omitempty"`
	PropertyType  *string        `json:"propertyType,omitempty"`
	DealType      *string        `json:"dealType,omitempty"`
	Price         *float64       `json:"price,omitempty"`
	Area          *float64       `json:"area,omitempty"`
	Rooms         *int           `json:"rooms,omitempty"`
	Bathrooms     *int           `json:"bathrooms,omitempty"`
	Description   *string        `json:"description,omitempty"`
	Address       *string        `json:"address,omitempty"`
	Lat           *float64       `json:"lat,omitempty"`
	Lng           *float64       `json:"lng,omitempty"`
	PostingStatus *PostingStatus `json:"postingStatus,omitempty"`
}

// ListingWithMedia is a listing joined with its media filenames
type ListingWithMedia struct {
	Listing
	Media []string `json:"media"`
}

// Media is a claim that a blob object under the listing's prefix is in use
type Media struct {
	ListingID  string    `json:"listingId" db:"listing_id"`
	Filename   string    `json:"filename" db:"filename"`
	StorageKey string    `json:"storageKey" db:"storage_key"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// StatusChange is the immutable audit record of one accepted transition
type StatusChange struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	ListingID      string        `json:"listingId" db:"listing_id"`
	ChangedBy      *string       `json:"changedBy" db:"changed_by"`
	PreviousStatus PostingStatus `json:"previousStatus" db:"previous_status"`
	NewStatus      PostingStatus `json:"newStatus" db:"new_status"`
	Note           string        `json:"note" db:"note"`
	CreatedAt      time.Time     `json:"createdAt" db:"created_at"`
}

// Notification is an owner-facing message
type Notification struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	Text      string    `json:"text" db:"text"`
	IsRead    bool      `json:"isRead" db:"is_read"`
	Link      string    `json:"link" db:"link"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// User is a marketplace account. Only profile fields live here.
type User struct {
	ID          string    `json:"id" db:"id"`
	Email       string    `json:"email" db:"email"`
	DisplayName string    `json:"displayName" db:"display_name"`
	AvatarURL   string    `json:"avatarUrl" db:"avatar_url"`
	Bio         string    `json:"bio" db:"bio"`
	Role        string    `json:"role" db:"role"` // user, admin
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}
