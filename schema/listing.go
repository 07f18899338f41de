// Package schema is the one place where listing and media fields are mapped
// between their JSON (camelCase) names, Go struct fields and database
// (snake_case) columns. Stores, services and the HTTP layer all go through it.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"propmarket/models"
)

// Scanner is satisfied by pgx.Row, pgx.Rows and *sql.Row(s)
type Scanner interface {
	Scan(dest ...any) error
}

type listingField struct {
	json   string
	column string
	target func(l *models.Listing) any
	value  func(l *models.Listing) any
	patch  func(p *models.ListingPatch) (any, bool)
	apply  func(l *models.Listing, p *models.ListingPatch)
	text   bool // free text, included in reference scans
}

var listingFields = []listingField{
	{
		json: "id", column: "id", text: true,
		target: func(l *models.Listing) any { return &l.ID },
		value:  func(l *models.Listing) any { return l.ID },
	},
	{
		json: "name", column: "name", text: true,
		target: func(l *models.Listing) any { return &l.Name },
		value:  func(l *models.Listing) any { return l.Name },
		patch:  func(p *models.ListingPatch) (any, bool) { return deref(p.Name) },
		apply: func(l *models.Listing, p *models.ListingPatch) {
			if p.Name != nil {
				l.Name = *p.Name
			}
		},
	},
	{
		json: "category", column: "category",
		target: func(l *models.Listing) any { return &l.Category },
		value:  func(l *models.Listing) any { return l.Category },
		patch:  func(p *models.ListingPatch) (any, bool) { return deref(p.Category) },
		apply: func(l *models.Listing, p *models.ListingPatch) {
			if p.Category != nil {
				l.Category = *p.Category
			}
		},
	},
	{
		json: "propertyType", column: "property_type",
		target: func(l *models.Listing) any { return &l.PropertyType },
		value:  func(l *models.Listing) any { return l.PropertyType },
		patch:  func(p *models.ListingPatch) (any, bool) { return deref(p.PropertyType) },
		apply: func(l *models.Listing, p *models.ListingPatch) {
			if p.PropertyType != nil {
				l.PropertyType = *p.PropertyType
			}
		},
	},
	{
		json: "dealType", column: "deal_type",
		target: func(l *models.Listing) any { return &l.DealType },
		value:  func(l *models.Listing) any { return l.DealType },
		patch:  func(p *models.ListingPatch) (any, bool) { return deref(p.DealType) },
		apply: func(l *models.Listing, p *models.ListingPatch) {
			if p.DealType != nil {
				l.DealType = *p.DealType
			}
		},
	},
	{
		json: "price", column: "price",
		target: func(l *models.Listing) any { return &l.Price },
		value:  func(l *models.Listing) any { return l.Price },
		patch:  func(p *models.ListingPatch) (any, bool) { return deref(p.Price) },
		apply: func(l *models.Listing, p *models.ListingPatch) {
			if p.Price != nil {
				l.Price = clone(p.Price)
			}
		},
	},
	{
		json: "area", column: "area",
		target: func(l *models.Listing) any { return &l.Area },
		value:  func(l *models.Listing) any { return l.Area },
		patch:  func(p *models.ListingPatch) (any, bool) { return deref(p.Area) },
		apply: func(l *models.Listing, p *models.ListingPatch) {
			if p.Area != nil {
				l.Area = clone(p.Area)
			}
		},
	},
	{
		json: "rooms", column: "rooms",
		target: func(l *models.Listing) any { return &l.Rooms },
		value:  func(l *models.Listing) any { return l.Rooms },
		patch:  func(p *models.ListingPatch) (any, bool) { return deref(p.Rooms) },
		apply: func(l *models.Listing, p *models.ListingPatch) {
			if p.Rooms != nil {
				l.Rooms = clone(p.Rooms)
			}
		},
	},
	{
		json: "bathrooms", column: "bathrooms",
		target: func(l *models.Listing) any { return &l.Bathrooms },
		value:  func(l *models.Listing) any { return l.Bathrooms },
		patch:  func(p *models.ListingPatch) (any, bool) { return deref(p.Bathrooms) },
		apply: func(l *models.Listing, p *models.ListingPatch) {
			if p.Bathrooms != nil {
				l.Bathrooms = clone(p.Bathrooms)
			}
		},
	},
	{
		json: "description", column: "description", text: true,
		target: func(l *models.Listing) any { return &l.Description },
		value:  func(l *models.Listing) any { return l.Description },
		patch:  func(p *models.ListingPatch) (any, bool) { return deref(p.Description) },
		apply: func(l *models.Listing, p *models.ListingPatch) {
			if p.Description != nil {
				l.Description = *p.Description
			}
		},
	},
	{
		json: "address", column: "address", text: true,
		target: func(l *models.Listing) any { return &l.Address },
		value:  func(l *models.Listing) any { return l.Address },
		patch:  func(p *models.ListingPatch) (any, bool) { return deref(p.Address) },
		apply: func(l *models.Listing, p *models.ListingPatch) {
			if p.Address != nil {
				l.Address = *p.Address
			}
		},
	},
	{
		json: "lat", column: "lat",
		target: func(l *models.Listing) any { return &l.Lat },
		value:  func(l *models.Listing) any { return l.Lat },
		patch:  func(p *models.ListingPatch) (any, bool) { return deref(p.Lat) },
		apply: func(l *models.Listing, p *models.ListingPatch) {
			if p.Lat != nil {
				l.Lat = clone(p.Lat)
			}
		},
	},
	{
		json: "lng", column: "lng",
		target: func(l *models.Listing) any { return &l.Lng },
		value:  func(l *models.Listing) any { return l.Lng },
		patch:  func(p *models.ListingPatch) (any, bool) { return deref(p.Lng) },
		apply: func(l *models.Listing, p *models.ListingPatch) {
			if p.Lng != nil {
				l.Lng = clone(p.Lng)
			}
		},
	},
	{
		json: "ownerId", column: "owner_id",
		target: func(l *models.Listing) any { return &l.OwnerID },
		value:  func(l *models.Listing) any { return l.OwnerID },
	},
	{
		json: "postingStatus", column: "posting_status",
		target: func(l *models.Listing) any { return &l.PostingStatus },
		value:  func(l *models.Listing) any { return string(l.PostingStatus) },
		patch: func(p *models.ListingPatch) (any, bool) {
			if p.PostingStatus == nil {
				return nil, false
			}
			return string(*p.PostingStatus), true
		},
		apply: func(l *models.Listing, p *models.ListingPatch) {
			if p.PostingStatus != nil {
				l.PostingStatus = *p.PostingStatus
			}
		},
	},
	{
		json: "postedAt", column: "posted_at",
		target: func(l *models.Listing) any { return &l.PostedAt },
		value:  func(l *models.Listing) any { return l.PostedAt },
	},
	{
		json: "updatedAt", column: "updated_at",
		target: func(l *models.Listing) any { return &l.UpdatedAt },
		value:  func(l *models.Listing) any { return l.UpdatedAt },
	},
}

// StatusColumn is the column the status machine writes
const StatusColumn = "posting_status"

// ListingColumns returns every listing column in scan order
func ListingColumns() []string {
	cols := make([]string, len(listingFields))
	for i, f := range listingFields {
		cols[i] = f.column
	}
	return cols
}

// ListingColumnList is ListingColumns joined for SQL
func ListingColumnList() string {
	return strings.Join(ListingColumns(), ", ")
}

// ScanListing reads one row selected with ListingColumns
func ScanListing(row Scanner) (*models.Listing, error) {
	var l models.Listing
	targets := make([]any, len(listingFields))
	for i, f := range listingFields {
		targets[i] = f.target(&l)
	}
	if err := row.Scan(targets...); err != nil {
		return nil, err
	}
	return &l, nil
}

// ListingValues returns insert arguments in ListingColumns order
func ListingValues(l *models.Listing) []any {
	vals := make([]any, len(listingFields))
	for i, f := range listingFields {
		vals[i] = f.value(l)
	}
	return vals
}

// PatchColumns returns the columns and values a patch sets, in column order.
func PatchColumns(p *models.ListingPatch) ([]string, []any) {
	if p == nil {
		return nil, nil
	}
	var cols []string
	var vals []any
	for _, f := range listingFields {
		if f.patch == nil {
			continue
		}
		if v, ok := f.patch(p); ok {
			cols = append(cols, f.column)
			vals = append(vals, v)
		}
	}
	return cols, vals
}

// PatchEmpty reports whether the patch sets nothing
func PatchEmpty(p *models.ListingPatch) bool {
	cols, _ := PatchColumns(p)
	return len(cols) == 0
}

// ApplyPatch copies every set patch field onto l
func ApplyPatch(l *models.Listing, p *models.ListingPatch) {
	if p == nil {
		return
	}
	for _, f := range listingFields {
		if f.apply != nil {
			f.apply(l, p)
		}
	}
}

// WithoutStatus returns a copy of p with the status field cleared.
func WithoutStatus(p *models.ListingPatch) *models.ListingPatch {
	if p == nil {
		return &models.ListingPatch{}
	}
	cp := *p
	cp.PostingStatus = nil
	return &cp
}

// StatusPatch is a patch that only moves the posting status
func StatusPatch(s models.PostingStatus) *models.ListingPatch {
	return &models.ListingPatch{PostingStatus: &s}
}

// ListingText returns the free-text values of a listing, for reference scans.
func ListingText(l *models.Listing) []string {
	var out []string
	for _, f := range listingFields {
		if !f.text {
			continue
		}
		if s, ok := f.value(l).(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DecodePatch parses a camelCase JSON patch. Keys named in passthrough are
// skipped, any other unknown field is rejected, and postingStatus must be one
// of the three states.
func DecodePatch(raw []byte, passthrough ...string) (*models.ListingPatch, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	for _, k := range passthrough {
		delete(generic, k)
	}
	if st, ok := generic["postingStatus"]; ok {
		var s string
		if err := json.Unmarshal(st, &s); err != nil {
			return nil, fmt.Errorf("%w: postingStatus must be a string", models.ErrInvalidRequest)
		}
		if _, err := models.ParsePostingStatus(s); err != nil {
			return nil, err
		}
	}

	stripped, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	dec := json.NewDecoder(bytes.NewReader(stripped))
	dec.DisallowUnknownFields()
	var p models.ListingPatch
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	return &p, nil
}

// JSONName maps a column to its JSON name, for error messages
func JSONName(column string) string {
	for _, f := range listingFields {
		if f.column == column {
			return f.json
		}
	}
	return column
}

func deref[T any](p *T) (any, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}

func clone[T any](p *T) *T {
	v := *p
	return &v
}
