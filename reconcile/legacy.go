package reconcile

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"propmarket/config"
	"propmarket/identity"
	"propmarket/logging"
	"propmarket/models"
	"propmarket/schema"
	"propmarket/storage"
)

// TextSource streams the rows whose free text may mention media paths, plus
// the listing_media rows whose storage keys are never deleted
type TextSource interface {
	MediaSource
	ForEachListing(ctx context.Context, fn func(*models.Listing) error) error
	ForEachUser(ctx context.Context, fn func(*models.User) error) error
}

// LegacyScanner cleans the pre-migration root of the bucket, where objects
// have no listing_media rows. An object counts as referenced when its key
// shows up in any text field of a listing or user row: behind a public URL
// prefix, as a bare media/<path>, or as an <img src> in HTML.
type LegacyScanner struct {
	blobs    storage.BlobStore
	src      TextSource
	root     string
	skip     map[string]struct{} // listing and staging roots, never walked
	prefixes []string
	pattern  *regexp.Regexp
	maxDepth int
	opts     Options
}

// NewLegacyScanner refuses a root that is empty or overlaps the listing or
// staging prefixes of keys, in either direction.
func NewLegacyScanner(blobs storage.BlobStore, src TextSource, keys identity.Keyspace, cfg config.LegacyConfig, opts Options) (*LegacyScanner, error) {
	pattern, err := regexp.Compile(cfg.MediaPattern)
	if err != nil {
		return nil, fmt.Errorf("legacy media pattern: %w", err)
	}
	if err := config.CheckLegacyRoot(cfg.Root, keys.ListingPrefix, keys.StagingPrefix); err != nil {
		return nil, err
	}
	root := strings.TrimLeft(cfg.Root, "/")
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	depth := cfg.MaxDepth
	if depth <= 0 {
		depth = 1
	}
	return &LegacyScanner{
		blobs:    blobs,
		src:      src,
		root:     root,
		skip:     map[string]struct{}{keys.ListingRoot(): {}, keys.StagingPrefix + "/": {}},
		prefixes: cfg.PublicURLPrefixes,
		pattern:  pattern,
		maxDepth: depth,
		opts:     opts.withDefaults(),
	}, nil
}

// WithDryRun returns a copy that reports orphans without deleting them
func (s *LegacyScanner) WithDryRun(dryRun bool) *LegacyScanner {
	cp := *s
	cp.opts.DryRun = dryRun
	return &cp
}

// References collects every object key mentioned by listing and user rows,
// and every storage key a listing_media row claims
func (s *LegacyScanner) References(ctx context.Context) (map[string]struct{}, error) {
	refs := make(map[string]struct{})

	err := s.src.ForEachMedia(ctx, func(m models.Media) error {
		if m.StorageKey != "" {
			refs[m.StorageKey] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan listing_media: %w", err)
	}

	collect := func(texts []string) {
		for _, t := range texts {
			for _, k := range s.ExtractKeys(t) {
				refs[k] = struct{}{}
			}
		}
	}

	err = s.src.ForEachListing(ctx, func(l *models.Listing) error {
		collect(schema.ListingText(l))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan listings: %w", err)
	}

	err = s.src.ForEachUser(ctx, func(u *models.User) error {
		collect(schema.UserText(u))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	return refs, nil
}

// ExtractKeys returns the bucket keys a piece of text points at
func (s *LegacyScanner) ExtractKeys(text string) []string {
	seen := make(map[string]struct{})
	add := func(candidate string) {
		if k, ok := s.toKey(candidate); ok {
			seen[k] = struct{}{}
		}
	}

	if strings.Contains(text, "<img") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(text)); err == nil {
			doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
				src, _ := sel.Attr("src")
				add(src)
			})
		}
	}

	for _, prefix := range s.prefixes {
		rest := text
		for {
			i := strings.Index(rest, prefix)
			if i < 0 {
				break
			}
			rest = rest[i+len(prefix):]
			add(prefix + cutToken(rest))
		}
	}

	for _, m := range s.pattern.FindAllString(text, -1) {
		add(m)
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *LegacyScanner) toKey(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	for _, prefix := range s.prefixes {
		if rest, ok := strings.CutPrefix(ref, prefix); ok {
			ref = rest
			break
		}
	}
	ref = strings.TrimPrefix(ref, "/")
	if ref == "" || !strings.HasPrefix(ref, s.root) || ref == s.root {
		return "", false
	}
	return ref, true
}

func cutToken(s string) string {
	if i := strings.IndexAny(s, " \t\r\n\"'<>)(,"); i >= 0 {
		return s[:i]
	}
	return s
}

// Run lists the legacy root and deletes every unreferenced object
func (s *LegacyScanner) Run(ctx context.Context) (*models.ReconcileResult, error) {
	refs, err := s.References(ctx)
	if err != nil {
		return nil, err
	}

	keys, err := s.listKeys(ctx, s.root, 1)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.root, err)
	}

	lr := models.ListingReconcile{ListingID: s.root, FilesFound: len(keys), Referenced: len(refs)}
	for _, k := range keys {
		if _, ok := refs[k]; !ok {
			lr.Orphans = append(lr.Orphans, k)
		}
	}

	result := &models.ReconcileResult{DryRun: s.opts.DryRun}
	if !s.opts.DryRun {
		for start := 0; start < len(lr.Orphans); start += s.opts.DeleteBatch {
			end := min(start+s.opts.DeleteBatch, len(lr.Orphans))
			callCtx, cancel := callContext(ctx, s.opts.CallTimeout)
			n, err := s.blobs.Remove(callCtx, lr.Orphans[start:end])
			cancel()
			lr.Deleted += n
			if err != nil {
				logging.Warnf("[Legacy] delete %d objects: %v", end-start, err)
				if lr.Error == "" {
					lr.Error = err.Error()
				}
			}
		}
	}
	result.Add(lr)

	logging.Infof("[Legacy] %s: %d objects, %d referenced, %d orphans, %d deleted",
		s.root, len(keys), len(refs), len(lr.Orphans), lr.Deleted)
	return result, nil
}

// listKeys walks prefix depth-first, returning full object keys
func (s *LegacyScanner) listKeys(ctx context.Context, prefix string, depth int) ([]string, error) {
	var keys []string
	var folders []string

	cursor := ""
	for page := 0; page < s.opts.MaxPages; page++ {
		callCtx, cancel := callContext(ctx, s.opts.CallTimeout)
		p, err := s.blobs.List(callCtx, prefix, models.ListOptions{Limit: s.opts.PageSize, Cursor: cursor, SortBy: "name"})
		cancel()
		if err != nil {
			return nil, err
		}
		for _, e := range p.Entries {
			if e.IsFile() {
				keys = append(keys, prefix+e.Name)
			} else if e.Name != "" {
				folder := prefix + e.Name + "/"
				if _, ok := s.skip[folder]; ok {
					continue
				}
				folders = append(folders, folder)
			}
		}
		if p.NextCursor == "" || len(p.Entries) == 0 {
			break
		}
		cursor = p.NextCursor
	}

	if depth >= s.maxDepth {
		return keys, nil
	}
	for _, f := range folders {
		sub, err := s.listKeys(ctx, f, depth+1)
		if err != nil {
			return nil, err
		}
		keys = append(keys, sub...)
	}
	return keys, nil
}

func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
