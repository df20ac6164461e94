package cacheengine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dcllabs/metamorph/internal/domain/model"
	"github.com/dcllabs/metamorph/internal/downloader"
	"github.com/dcllabs/metamorph/internal/infrastructure/kv"
)

type memObjectStore struct {
	base    string
	uploads map[string][]byte
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{base: "https://cdn.example.com/", uploads: map[string][]byte{}}
}

func (m *memObjectStore) Upload(_ context.Context, key string, r io.Reader, _ string) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.uploads[key] = buf
	return nil
}

func (m *memObjectStore) PublicURL(key string) string {
	return m.base + key
}

func writeTempFile(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestSanitizeMaxAge(t *testing.T) {
	const minAge = 5 * time.Minute

	tests := []struct {
		name      string
		maxAge    time.Duration
		hasMaxAge bool
		hasETag   bool
		wantAge   time.Duration
		wantHas   bool
	}{
		{"both absent stays absent", 0, false, false, 0, false},
		{"absent max-age, present etag gets floor", 0, false, true, minAge, true},
		{"present max-age below floor raised", 1 * time.Minute, true, false, minAge, true},
		{"present max-age below floor raised even with etag", 1 * time.Minute, true, true, minAge, true},
		{"present max-age above floor unchanged", 10 * time.Minute, true, false, 10 * time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotAge, gotHas := sanitizeMaxAge(tt.maxAge, tt.hasMaxAge, tt.hasETag, minAge)
			if gotAge != tt.wantAge || gotHas != tt.wantHas {
				t.Errorf("sanitizeMaxAge() = (%v, %v), want (%v, %v)", gotAge, gotHas, tt.wantAge, tt.wantHas)
			}
		})
	}
}

func TestEngine_StoreThenLookup_Fresh(t *testing.T) {
	store := kv.NewLocalStore()
	objects := newMemObjectStore()
	eng := New(store, objects, downloader.New(downloader.Config{}), nil, Config{Version: 1, MinMaxAge: 5 * time.Minute})

	localPath := writeTempFile(t, "out.ktx2", "fake ktx2 bytes")
	ctx := context.Background()

	err := eng.Store(ctx, "abc123", model.UASTC.String(), model.StaticImage, "", 10*time.Minute, true, localPath)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	result, err := eng.Lookup(ctx, "abc123", model.UASTC, model.MP4, false, "")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if result == nil {
		t.Fatal("Lookup() = nil, want a result")
	}
	if result.Expired {
		t.Error("expected fresh result immediately after Store")
	}
	if result.Converting {
		t.Error("expected no in-flight marker")
	}
}

func TestEngine_Lookup_ExpiresAfterMaxAge(t *testing.T) {
	store := kv.NewLocalStore()
	objects := newMemObjectStore()
	eng := New(store, objects, downloader.New(downloader.Config{}), nil, Config{Version: 1, MinMaxAge: 5 * time.Minute})

	localPath := writeTempFile(t, "out.ktx2", "fake ktx2 bytes")
	ctx := context.Background()

	// The configured MinMaxAge would floor this up, so the test lowers
	// the engine's floor to 10ms and lets Store write the short TTL
	// through the normal sanitizer path.
	eng.minAge = 10 * time.Millisecond
	if err := eng.Store(ctx, "abc123", model.UASTC.String(), model.StaticImage, "", 10*time.Millisecond, true, localPath); err != nil {
		t.Fatalf("Store: %v", err)
	}

	result, err := eng.Lookup(ctx, "abc123", model.UASTC, model.MP4, false, "")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if result.Expired {
		t.Fatal("expected fresh immediately after Store")
	}

	time.Sleep(30 * time.Millisecond)

	result, err = eng.Lookup(ctx, "abc123", model.UASTC, model.MP4, false, "")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !result.Expired {
		t.Error("expected expired=true after max-age elapses")
	}
	if result.URL == "" {
		t.Error("expected object URL to still be returned when expired")
	}
}

func TestEngine_Lookup_Absent(t *testing.T) {
	store := kv.NewLocalStore()
	objects := newMemObjectStore()
	eng := New(store, objects, downloader.New(downloader.Config{}), nil, Config{Version: 1, MinMaxAge: 5 * time.Minute})

	result, err := eng.Lookup(context.Background(), "nonexistent", model.UASTC, model.MP4, false, "")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if result != nil {
		t.Errorf("Lookup() = %+v, want nil", result)
	}
}

func TestEngine_Revalidate_Idempotent304(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Cache-Control", "max-age=60")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	store := kv.NewLocalStore()
	objects := newMemObjectStore()
	eng := New(store, objects, downloader.New(downloader.Config{}), nil, Config{Version: 1, MinMaxAge: 5 * time.Minute})

	localPath := writeTempFile(t, "out.ktx2", "fake ktx2 bytes")
	ctx := context.Background()

	// Short TTL so the entry is expired by the time we revalidate.
	eng.minAge = 1 * time.Millisecond
	if err := eng.Store(ctx, "abc123", model.UASTC.String(), model.StaticImage, `"etag1"`, 1*time.Millisecond, true, localPath); err != nil {
		t.Fatalf("Store: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	ok1, err := eng.Revalidate(ctx, "abc123", srv.URL, model.UASTC, model.MP4, false)
	if err != nil {
		t.Fatalf("Revalidate #1: %v", err)
	}
	if !ok1 {
		t.Fatal("Revalidate #1 = false, want true")
	}

	time.Sleep(10 * time.Millisecond)

	ok2, err := eng.Revalidate(ctx, "abc123", srv.URL, model.UASTC, model.MP4, false)
	if err != nil {
		t.Fatalf("Revalidate #2: %v", err)
	}
	if !ok2 {
		t.Fatal("Revalidate #2 = false, want true")
	}

	if calls == 0 {
		t.Error("expected at least one origin HEAD request")
	}
}

func TestEngine_Revalidate_Absent(t *testing.T) {
	store := kv.NewLocalStore()
	objects := newMemObjectStore()
	eng := New(store, objects, downloader.New(downloader.Config{}), nil, Config{Version: 1, MinMaxAge: 5 * time.Minute})

	ok, err := eng.Revalidate(context.Background(), "nonexistent", "https://example.com", model.UASTC, model.MP4, false)
	if err != nil {
		t.Fatalf("Revalidate: %v", err)
	}
	if ok {
		t.Error("expected false for an absent record")
	}
}

type recordingRefreshEnqueuer struct {
	requests []RefreshRequest
}

func (r *recordingRefreshEnqueuer) Enqueue(req RefreshRequest) {
	r.requests = append(r.requests, req)
}

func TestEngine_Lookup_EnqueuesRefreshWhenExpired(t *testing.T) {
	store := kv.NewLocalStore()
	objects := newMemObjectStore()
	refresh := &recordingRefreshEnqueuer{}
	eng := New(store, objects, downloader.New(downloader.Config{}), refresh, Config{Version: 1, MinMaxAge: 1 * time.Millisecond})

	localPath := writeTempFile(t, "out.ktx2", "fake ktx2 bytes")
	ctx := context.Background()

	if err := eng.Store(ctx, "abc123", model.UASTC.String(), model.StaticImage, "", 1*time.Millisecond, true, localPath); err != nil {
		t.Fatalf("Store: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	_, err := eng.Lookup(ctx, "abc123", model.UASTC, model.MP4, false, "https://example.com/a.jpg")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	if len(refresh.requests) != 1 {
		t.Fatalf("refresh requests = %d, want 1", len(refresh.requests))
	}
	if refresh.requests[0].Hash != "abc123" {
		t.Errorf("refresh request hash = %q", refresh.requests[0].Hash)
	}
}
