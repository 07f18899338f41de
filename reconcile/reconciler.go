package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"propmarket/identity"
	"propmarket/logging"
	"propmarket/models"
	"propmarket/storage"
)

const (
	DefaultPageSize    = 100
	DefaultDeleteBatch = 100
	DefaultMaxPages    = 1000
)

type Options struct {
	PageSize    int
	DeleteBatch int
	MaxPages    int           // per prefix
	CallTimeout time.Duration // per blob call, 0 for none
	DryRun      bool
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.DeleteBatch <= 0 {
		o.DeleteBatch = DefaultDeleteBatch
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	return o
}

// Reconciler deletes objects under <listingPrefix>/<id>/ that no media row
// claims. It keeps no state between runs; every run recomputes everything,
// so repeated and concurrent runs are safe.
type Reconciler struct {
	blobs storage.BlobStore
	media MediaSource
	keys  identity.Keyspace
	opts  Options
}

func New(blobs storage.BlobStore, media MediaSource, keys identity.Keyspace, opts Options) *Reconciler {
	return &Reconciler{
		blobs: blobs,
		media: media,
		keys:  keys,
		opts:  opts.withDefaults(),
	}
}

// WithDryRun returns a copy that reports orphans without deleting them
func (r *Reconciler) WithDryRun(dryRun bool) *Reconciler {
	cp := *r
	cp.opts.DryRun = dryRun
	return &cp
}

// Run reconciles every listing prefix. Per-listing failures are logged and
// counted in the result; only a failure to read the media table, or
// cancellation, is returned.
func (r *Reconciler) Run(ctx context.Context) (*models.ReconcileResult, error) {
	idx, err := BuildIndex(ctx, r.media)
	if err != nil {
		return nil, fmt.Errorf("build reference index: %w", err)
	}

	result := &models.ReconcileResult{DryRun: r.opts.DryRun}

	candidates := make(map[string]struct{}, idx.Len())
	for _, id := range idx.ListingIDs() {
		candidates[id] = struct{}{}
	}
	folders, err := r.listFolders(ctx, r.keys.ListingRoot())
	if err != nil {
		// indexed listings are still checked; unreferenced folders wait for the next run
		logging.Warnf("[Reconcile] list %s: %v", r.keys.ListingRoot(), err)
		result.Errors++
	}
	for _, id := range folders {
		candidates[id] = struct{}{}
	}

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	logging.Infof("[Reconcile] checking %d listing prefixes (%d indexed, dry run: %v)", len(ids), idx.Len(), r.opts.DryRun)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		lr, _ := r.ReconcileListing(ctx, id, idx.Filenames(id))
		result.Add(lr)
	}

	logging.Infof("[Reconcile] done: %d orphans, %d deleted, %d errors", result.OrphansFound, result.DeletedCount, result.Errors)
	return result, nil
}

// ReconcileListing clears one listing prefix of every file not in keep.
// A nil keep deletes everything. Failed delete chunks are skipped and the
// first error is returned once the rest have been tried.
func (r *Reconciler) ReconcileListing(ctx context.Context, listingID string, keep map[string]struct{}) (models.ListingReconcile, error) {
	lr := models.ListingReconcile{ListingID: listingID, Referenced: len(keep)}

	files, err := r.listFiles(ctx, r.keys.ListingDir(listingID))
	if err != nil {
		logging.Warnf("[Reconcile] list %s: %v", listingID, err)
		lr.Error = err.Error()
		return lr, err
	}
	lr.FilesFound = len(files)

	for _, f := range files {
		if _, ok := keep[f]; !ok {
			lr.Orphans = append(lr.Orphans, f)
		}
	}
	if len(lr.Orphans) == 0 || r.opts.DryRun {
		return lr, nil
	}

	var firstErr error
	for start := 0; start < len(lr.Orphans); start += r.opts.DeleteBatch {
		end := min(start+r.opts.DeleteBatch, len(lr.Orphans))
		keys := make([]string, 0, end-start)
		for _, f := range lr.Orphans[start:end] {
			keys = append(keys, r.keys.ListingKey(listingID, f))
		}

		callCtx, cancel := r.callContext(ctx)
		n, err := r.blobs.Remove(callCtx, keys)
		cancel()
		lr.Deleted += n
		if err != nil {
			logging.Warnf("[Reconcile] delete %d objects under %s: %v", len(keys), listingID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		lr.Error = firstErr.Error()
	}
	if lr.Deleted > 0 {
		logging.Infof("[Reconcile] %s: deleted %d of %d orphans", listingID, lr.Deleted, len(lr.Orphans))
	}
	return lr, firstErr
}

// listFiles returns the names of the files directly under prefix, sorted.
// Folders are skipped.
func (r *Reconciler) listFiles(ctx context.Context, prefix string) ([]string, error) {
	var files []string
	err := r.paginate(ctx, prefix, func(e models.BlobEntry) {
		if e.IsFile() {
			files = append(files, e.Name)
		}
	})
	sort.Strings(files)
	return files, err
}

func (r *Reconciler) listFolders(ctx context.Context, prefix string) ([]string, error) {
	var folders []string
	err := r.paginate(ctx, prefix, func(e models.BlobEntry) {
		if !e.IsFile() && e.Name != "" {
			folders = append(folders, e.Name)
		}
	})
	return folders, err
}

func (r *Reconciler) paginate(ctx context.Context, prefix string, visit func(models.BlobEntry)) error {
	cursor := ""
	for page := 0; ; page++ {
		if page >= r.opts.MaxPages {
			logging.Warnf("[Reconcile] %s: stopped after %d pages", prefix, r.opts.MaxPages)
			return nil
		}

		callCtx, cancel := r.callContext(ctx)
		p, err := r.blobs.List(callCtx, prefix, models.ListOptions{
			Limit:  r.opts.PageSize,
			Cursor: cursor,
			SortBy: "name",
		})
		cancel()
		if err != nil {
			return err
		}

		for _, e := range p.Entries {
			visit(e)
		}
		if p.NextCursor == "" || len(p.Entries) == 0 {
			return nil
		}
		cursor = p.NextCursor
	}
}

func (r *Reconciler) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return callContext(ctx, r.opts.CallTimeout)
}
