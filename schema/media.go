package schema

import (
	"strings"

	"propmarket/models"
)

var mediaColumns = []string{"listing_id", "filename", "storage_key", "created_at"}

// MediaColumnList is the media column list for SQL
func MediaColumnList() string {
	return strings.Join(mediaColumns, ", ")
}

// ScanMedia reads one row selected with MediaColumnList
func ScanMedia(row Scanner) (models.Media, error) {
	var m models.Media
	err := row.Scan(&m.ListingID, &m.Filename, &m.StorageKey, &m.CreatedAt)
	return m, err
}

// MediaValues returns insert arguments in column order
func MediaValues(m *models.Media) []any {
	return []any{m.ListingID, m.Filename, m.StorageKey, m.CreatedAt}
}

// Filenames projects media rows to their filenames, keeping order
func Filenames(media []models.Media) []string {
	out := make([]string, 0, len(media))
	for _, m := range media {
		out = append(out, m.Filename)
	}
	return out
}

// UserText returns the free-text values of a user, for reference scans
func UserText(u *models.User) []string {
	var out []string
	for _, s := range []string{u.ID, u.DisplayName, u.AvatarURL, u.Bio} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
