package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"propmarket/config"
	"propmarket/models"
)

// SupabaseStorage talks to the Supabase Storage REST API for one bucket
type SupabaseStorage struct {
	url        string
	serviceKey string
	bucket     string
	client     *http.Client
}

func NewSupabaseStorage(cfg *config.SupabaseConfig, client *http.Client) *SupabaseStorage {
	return &SupabaseStorage{
		url:        strings.TrimRight(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		bucket:     cfg.Bucket,
		client:     client,
	}
}

type supabaseListRequest struct {
	Prefix string             `json:"prefix"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
	SortBy supabaseListSortBy `json:"sortBy"`
}

type supabaseListSortBy struct {
	Column string `json:"column"`
	Order  string `json:"order"`
}

type supabaseObject struct {
	Name     string          `json:"name"`
	ID       *string         `json:"id"`
	Metadata *supabaseObjMeta `json:"metadata"`
}

type supabaseObjMeta struct {
	Size     *int64 `json:"size"`
	Mimetype string `json:"mimetype"`
}

// List pages with limit/offset; the cursor is the next offset and is only
// set when the page came back full.
func (s *SupabaseStorage) List(ctx context.Context, prefix string, opts models.ListOptions) (*models.ListPage, error) {
	offset := 0
	if opts.Cursor != "" {
		n, err := strconv.Atoi(opts.Cursor)
		if err != nil {
			return nil, fmt.Errorf("bad cursor %q", opts.Cursor)
		}
		offset = n
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = "name"
	}

	body := supabaseListRequest{
		Prefix: strings.TrimSuffix(prefix, "/"),
		Limit:  limit,
		Offset: offset,
		SortBy: supabaseListSortBy{Column: sortBy, Order: "asc"},
	}

	var objects []supabaseObject
	if err := s.do(ctx, http.MethodPost, "/storage/v1/object/list/"+s.bucket, body, &objects); err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	page := &models.ListPage{Entries: make([]models.BlobEntry, 0, len(objects))}
	for _, o := range objects {
		entry := models.BlobEntry{Name: o.Name}
		if o.Metadata != nil && o.Metadata.Size != nil {
			size := *o.Metadata.Size
			entry.Size = &size
		}
		page.Entries = append(page.Entries, entry)
	}
	if len(objects) == limit {
		page.NextCursor = strconv.Itoa(offset + limit)
	}
	return page, nil
}

func (s *SupabaseStorage) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(key), data)
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("upload %s: %w", key, readSupabaseError(resp))
	}
	return nil
}

func (s *SupabaseStorage) Move(ctx context.Context, fromKey, toKey string) error {
	body := map[string]string{
		"bucketId":       s.bucket,
		"sourceKey":      fromKey,
		"destinationKey": toKey,
	}
	if err := s.do(ctx, http.MethodPost, "/storage/v1/object/move", body, nil); err != nil {
		return fmt.Errorf("move %s -> %s: %w", fromKey, toKey, err)
	}
	return nil
}

// Remove deletes keys in one call and trusts the returned object list for the count
func (s *SupabaseStorage) Remove(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	var removed []supabaseObject
	body := map[string][]string{"prefixes": keys}
	if err := s.do(ctx, http.MethodDelete, "/storage/v1/object/"+s.bucket, body, &removed); err != nil {
		return 0, fmt.Errorf("remove %d keys: %w", len(keys), err)
	}
	return len(removed), nil
}

// PublicURL returns the public URL of a key in a public bucket
func (s *SupabaseStorage) PublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.bucket, key)
}

func (s *SupabaseStorage) do(ctx context.Context, method, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, s.url+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readSupabaseError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *SupabaseStorage) authorize(req *http.Request) {
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
}

func (s *SupabaseStorage) objectURL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.bucket, strings.Join(parts, "/"))
}

func readSupabaseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("supabase error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
