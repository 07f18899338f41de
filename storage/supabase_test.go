package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"propmarket/config"
	"propmarket/models"
)

func newTestSupabase(t *testing.T, handler http.HandlerFunc) *SupabaseStorage {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSupabaseStorage(&config.SupabaseConfig{
		URL:        srv.URL,
		ServiceKey: "service-key",
		Bucket:     "media",
	}, srv.Client())
}

func TestSupabaseStorage_List(t *testing.T) {
	var got supabaseListRequest
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/storage/v1/object/list/media" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer service-key" || r.Header.Get("apikey") != "service-key" {
			t.Errorf("missing auth headers")
		}
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `[
			{"name": "a.jpg", "id": "1", "metadata": {"size": 120, "mimetype": "image/jpeg"}},
			{"name": "thumbs", "id": null, "metadata": null}
		]`)
	})

	page, err := s.List(context.Background(), "properties/P1/", models.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got.Prefix != "properties/P1" || got.Limit != 2 || got.Offset != 0 || got.SortBy.Column != "name" {
		t.Fatalf("unexpected list request %+v", got)
	}
	if len(page.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(page.Entries))
	}
	if !page.Entries[0].IsFile() || *page.Entries[0].Size != 120 {
		t.Fatalf("expected a.jpg to be a file of 120 bytes")
	}
	if page.Entries[1].IsFile() {
		t.Fatalf("expected thumbs to be a folder")
	}
	if page.NextCursor != "2" {
		t.Fatalf("expected cursor 2 for a full page, got %q", page.NextCursor)
	}
}

func TestSupabaseStorage_ListShortPageHasNoCursor(t *testing.T) {
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		var req supabaseListRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Offset != 100 {
			t.Errorf("expected offset 100, got %d", req.Offset)
		}
		io.WriteString(w, `[{"name": "z.jpg", "metadata": {"size": 1}}]`)
	})

	page, err := s.List(context.Background(), "properties/P1/", models.ListOptions{Limit: 100, Cursor: "100"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.NextCursor != "" {
		t.Fatalf("expected no cursor, got %q", page.NextCursor)
	}
}

func TestSupabaseStorage_Remove(t *testing.T) {
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/storage/v1/object/media" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string][]string
		json.NewDecoder(r.Body).Decode(&body)
		if len(body["prefixes"]) != 3 {
			t.Errorf("expected 3 prefixes, got %v", body["prefixes"])
		}
		// one key was already gone
		io.WriteString(w, `[{"name": "properties/P1/a.jpg"}, {"name": "properties/P1/b.jpg"}]`)
	})

	n, err := s.Remove(context.Background(), []string{"properties/P1/a.jpg", "properties/P1/b.jpg", "properties/P1/c.jpg"})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected store-reported count 2, got %d", n)
	}
}

func TestSupabaseStorage_MoveAndUpload(t *testing.T) {
	var moved map[string]string
	var uploadedPath, upsert, contentType, body string
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/storage/v1/object/move":
			json.NewDecoder(r.Body).Decode(&moved)
			io.WriteString(w, `{"message": "Successfully moved"}`)
		case strings.HasPrefix(r.URL.Path, "/storage/v1/object/media/"):
			uploadedPath = r.URL.Path
			upsert = r.Header.Get("x-upsert")
			contentType = r.Header.Get("Content-Type")
			data, _ := io.ReadAll(r.Body)
			body = string(data)
			io.WriteString(w, `{"Key": "media/staging/T1/a.jpg"}`)
		default:
			http.NotFound(w, r)
		}
	})

	if err := s.Move(context.Background(), "staging/T1/a.jpg", "properties/P1/a.jpg"); err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved["bucketId"] != "media" || moved["sourceKey"] != "staging/T1/a.jpg" || moved["destinationKey"] != "properties/P1/a.jpg" {
		t.Fatalf("unexpected move body %v", moved)
	}

	if err := s.Upload(context.Background(), "staging/T1/a.jpg", strings.NewReader("jpeg"), "image/jpeg"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if uploadedPath != "/storage/v1/object/media/staging/T1/a.jpg" || upsert != "true" || contentType != "image/jpeg" || body != "jpeg" {
		t.Fatalf("unexpected upload %s upsert=%s type=%s body=%s", uploadedPath, upsert, contentType, body)
	}
}

func TestSupabaseStorage_ErrorStatus(t *testing.T) {
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error": "Object not found"}`)
	})

	err := s.Move(context.Background(), "staging/T1/missing.jpg", "properties/P1/missing.jpg")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected 400 error, got %v", err)
	}
}
