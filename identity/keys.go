package identity

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Key roots used when no configuration overrides them
const (
	DefaultListingPrefix = "properties"
	DefaultStagingPrefix = "staging"
)

var (
	unsafeNameRegex = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	multiDashRegex  = regexp.MustCompile(`-{2,}`)
	listingIDRegex  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// Keyspace derives blob keys for listing media and staged uploads
type Keyspace struct {
	ListingPrefix string
	StagingPrefix string
}

// NewKeyspace trims slashes and falls back to the default roots.
func NewKeyspace(listingPrefix, stagingPrefix string) Keyspace {
	ks := Keyspace{
		ListingPrefix: strings.Trim(listingPrefix, "/"),
		StagingPrefix: strings.Trim(stagingPrefix, "/"),
	}
	if ks.ListingPrefix == "" {
		ks.ListingPrefix = DefaultListingPrefix
	}
	if ks.StagingPrefix == "" {
		ks.StagingPrefix = DefaultStagingPrefix
	}
	return ks
}

// DefaultKeyspace is properties/ + staging/
func DefaultKeyspace() Keyspace {
	return NewKeyspace(DefaultListingPrefix, DefaultStagingPrefix)
}

// ListingRoot is the prefix whose first-level folders are listing ids, with trailing slash
func (k Keyspace) ListingRoot() string {
	return k.ListingPrefix + "/"
}

// ListingDir is properties/<id>/
func (k Keyspace) ListingDir(listingID string) string {
	return k.ListingPrefix + "/" + listingID + "/"
}

// ListingKey is properties/<id>/<filename>
func (k Keyspace) ListingKey(listingID, filename string) string {
	return k.ListingDir(listingID) + filename
}

// StagingKey is staging/<tempID>/<filename>
func (k Keyspace) StagingKey(tempID, filename string) string {
	return k.StagingPrefix + "/" + tempID + "/" + filename
}

// ParseListingKey splits properties/<id>/<filename>. Deeper paths are rejected.
func (k Keyspace) ParseListingKey(key string) (listingID, filename string, ok bool) {
	rest, found := strings.CutPrefix(key, k.ListingRoot())
	if !found {
		return "", "", false
	}
	listingID, filename, found = strings.Cut(rest, "/")
	if !found || listingID == "" || filename == "" || strings.Contains(filename, "/") {
		return "", "", false
	}
	return listingID, filename, true
}

// ListingKey derives the permanent key under the default keyspace
func ListingKey(listingID, filename string) string {
	return DefaultKeyspace().ListingKey(listingID, filename)
}

// NewStagingID returns a fresh id for uploads made before the listing exists
func NewStagingID() string {
	return uuid.NewString()
}

// ValidListingID reports whether id is usable as a single key segment
func ValidListingID(id string) bool {
	return listingIDRegex.MatchString(id)
}

// ValidStagingID accepts the same shape as listing ids
func ValidStagingID(id string) bool {
	return listingIDRegex.MatchString(id)
}

// SanitizeFilename reduces a client filename to one safe key segment.
func SanitizeFilename(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("empty filename")
	}

	ext := strings.ToLower(path.Ext(name))
	base := strings.TrimSuffix(name, path.Ext(name))
	base = unsafeNameRegex.ReplaceAllString(base, "-")
	base = multiDashRegex.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-.")
	ext = unsafeNameRegex.ReplaceAllString(ext, "")

	if base == "" {
		return "", fmt.Errorf("filename %q has no usable characters", name)
	}
	return base + ext, nil
}

// NormalizeFilenames sanitises, drops empties and dedupes, keeping first-seen order.
func NormalizeFilenames(names []string) ([]string, error) {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		clean, err := SanitizeFilename(n)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return out, nil
}
