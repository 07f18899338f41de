package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"propmarket/models"
)

// MemoryBlobStore is an in-process bucket for local runs and tests
type MemoryBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{objects: make(map[string][]byte)}
}

// Put stores raw bytes, bypassing content-type handling
func (m *MemoryBlobStore) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
}

// Exists reports whether key holds an object
func (m *MemoryBlobStore) Exists(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// Keys returns every stored key, sorted
func (m *MemoryBlobStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MemoryBlobStore) List(ctx context.Context, prefix string, opts models.ListOptions) (*models.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	offset := 0
	if opts.Cursor != "" {
		n, err := strconv.Atoi(opts.Cursor)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad cursor %q", opts.Cursor)
		}
		offset = n
	}

	m.mu.Lock()
	children := make(map[string]*int64)
	for key, data := range m.objects {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok || rest == "" {
			continue
		}
		if dir, _, nested := strings.Cut(rest, "/"); nested {
			if _, seen := children[dir]; !seen {
				children[dir] = nil
			}
			continue
		}
		size := int64(len(data))
		children[rest] = &size
	}
	m.mu.Unlock()

	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)

	page := &models.ListPage{}
	if offset >= len(names) {
		return page, nil
	}
	end := len(names)
	if opts.Limit > 0 && offset+opts.Limit < end {
		end = offset + opts.Limit
		page.NextCursor = strconv.Itoa(end)
	}
	for _, name := range names[offset:end] {
		page.Entries = append(page.Entries, models.BlobEntry{Name: name, Size: children[name]})
	}
	return page, nil
}

func (m *MemoryBlobStore) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, data); err != nil {
		return err
	}
	m.Put(key, buf.Bytes())
	return nil
}

func (m *MemoryBlobStore) Move(ctx context.Context, fromKey, toKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[fromKey]
	if !ok {
		return fmt.Errorf("move %s: object not found", fromKey)
	}
	m.objects[toKey] = data
	delete(m.objects, fromKey)
	return nil
}

func (m *MemoryBlobStore) Remove(ctx context.Context, keys []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, k := range keys {
		if _, ok := m.objects[k]; ok {
			delete(m.objects, k)
			removed++
		}
	}
	return removed, nil
}
