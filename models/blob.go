package models

// BlobEntry is one row of a blob store listing. Name is relative to the
// listed prefix. Entries without a size are folders.
type BlobEntry struct {
	Name string `json:"name"`
	Size *int64 `json:"size,omitempty"`
}

// IsFile reports whether the store reported a byte size for the entry
func (e BlobEntry) IsFile() bool {
	return e.Size != nil
}

// ListOptions controls one page of a blob listing
type ListOptions struct {
	Limit  int
	Cursor string // opaque, empty for the first page
	SortBy string // "name" by default
}

// ListPage is one page of a blob listing
type ListPage struct {
	Entries    []BlobEntry
	NextCursor string // empty when the store signals no more pages
}
