// Package reconcile removes blob objects under listing prefixes that no
// listing_media row claims.
package reconcile

import (
	"context"
	"sort"

	"propmarket/models"
)

// MediaSource streams every listing_media row
type MediaSource interface {
	ForEachMedia(ctx context.Context, fn func(models.Media) error) error
}

// ReferenceIndex maps listing id to the set of filenames its media rows claim
type ReferenceIndex struct {
	refs map[string]map[string]struct{}
}

func NewReferenceIndex() *ReferenceIndex {
	return &ReferenceIndex{refs: make(map[string]map[string]struct{})}
}

// BuildIndex reads the whole media table. A partial read is an error: an
// incomplete index would make claimed files look orphaned.
func BuildIndex(ctx context.Context, src MediaSource) (*ReferenceIndex, error) {
	idx := NewReferenceIndex()
	err := src.ForEachMedia(ctx, func(m models.Media) error {
		idx.Add(m.ListingID, m.Filename)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func (ix *ReferenceIndex) Add(listingID, filename string) {
	set, ok := ix.refs[listingID]
	if !ok {
		set = make(map[string]struct{})
		ix.refs[listingID] = set
	}
	set[filename] = struct{}{}
}

func (ix *ReferenceIndex) Has(listingID, filename string) bool {
	_, ok := ix.refs[listingID][filename]
	return ok
}

// Filenames returns the claimed set for a listing; nil when it has none
func (ix *ReferenceIndex) Filenames(listingID string) map[string]struct{} {
	return ix.refs[listingID]
}

// ListingIDs returns every listing with at least one media row, sorted
func (ix *ReferenceIndex) ListingIDs() []string {
	ids := make([]string, 0, len(ix.refs))
	for id := range ix.refs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (ix *ReferenceIndex) Len() int {
	return len(ix.refs)
}
