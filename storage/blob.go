package storage

import (
	"context"
	"io"

	"golang.org/x/time/rate"
	"propmarket/models"
)

// BlobStore is a bucket addressed by slash-separated keys.
//
// List returns the first-level children of prefix (a folder path ending in
// "/"); entry names are relative to it and folders carry no size. Remove
// reports how many objects the store says it deleted.
type BlobStore interface {
	List(ctx context.Context, prefix string, opts models.ListOptions) (*models.ListPage, error)
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	Move(ctx context.Context, fromKey, toKey string) error
	Remove(ctx context.Context, keys []string) (int, error)
}

// ThrottledBlobStore spaces out calls to a rate-limited storage API
type ThrottledBlobStore struct {
	inner   BlobStore
	limiter *rate.Limiter
}

// NewThrottledBlobStore wraps inner; rps <= 0 returns inner unchanged.
func NewThrottledBlobStore(inner BlobStore, rps float64, burst int) BlobStore {
	if rps <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &ThrottledBlobStore{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (t *ThrottledBlobStore) List(ctx context.Context, prefix string, opts models.ListOptions) (*models.ListPage, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.List(ctx, prefix, opts)
}

func (t *ThrottledBlobStore) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.inner.Upload(ctx, key, data, contentType)
}

func (t *ThrottledBlobStore) Move(ctx context.Context, fromKey, toKey string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.inner.Move(ctx, fromKey, toKey)
}

func (t *ThrottledBlobStore) Remove(ctx context.Context, keys []string) (int, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return t.inner.Remove(ctx, keys)
}
