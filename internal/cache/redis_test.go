package cache

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/caresync-labs/caresync/internal/domain"
)

func setupTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStore_PutGetRoundTrip(t *testing.T) {
	store := setupTestRedis(t)
	ctx := context.Background()

	in := domain.CachedResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`{"ward":"3B"}`),
	}
	if err := store.Put(ctx, "api-v1", "GET https://ehr.example/api/wards/3B", in); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "api-v1", "GET https://ehr.example/api/wards/3B")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != in.Status {
		t.Errorf("status = %d, want %d", got.Status, in.Status)
	}
	if string(got.Body) != string(in.Body) {
		t.Errorf("body = %s, want %s", got.Body, in.Body)
	}
	if got.Header.Get("Content-Type") != "application/json" {
		t.Errorf("content-type = %s, want application/json", got.Header.Get("Content-Type"))
	}
	if got.StoredAt.IsZero() {
		t.Error("StoredAt was not stamped")
	}
}

func TestRedisStore_GetMiss(t *testing.T) {
	store := setupTestRedis(t)

	_, err := store.Get(context.Background(), "api-v1", "GET /nope")
	if err != domain.ErrCacheMiss {
		t.Errorf("err = %v, want ErrCacheMiss", err)
	}
}

func TestRedisStore_DeleteNamespace(t *testing.T) {
	store := setupTestRedis(t)
	ctx := context.Background()

	resp := domain.CachedResponse{Status: http.StatusOK}
	if err := store.Put(ctx, "shell-v1", "GET /index.html", resp); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, "shell-v2", "GET /index.html", resp); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteNamespace(ctx, "shell-v1"); err != nil {
		t.Fatalf("DeleteNamespace failed: %v", err)
	}

	if _, err := store.Get(ctx, "shell-v1", "GET /index.html"); err != domain.ErrCacheMiss {
		t.Errorf("v1 entry survived: err = %v", err)
	}
	if _, err := store.Get(ctx, "shell-v2", "GET /index.html"); err != nil {
		t.Errorf("v2 entry lost: %v", err)
	}

	namespaces, err := store.Namespaces(ctx)
	if err != nil {
		t.Fatalf("Namespaces failed: %v", err)
	}
	if len(namespaces) != 1 || namespaces[0] != "shell-v2" {
		t.Errorf("Namespaces = %v, want [shell-v2]", namespaces)
	}
}

func TestRedisStore_DeleteOlderThan(t *testing.T) {
	store := setupTestRedis(t)
	ctx := context.Background()

	old := domain.CachedResponse{Status: http.StatusOK, StoredAt: time.Now().Add(-48 * time.Hour)}
	if err := store.Put(ctx, "api-v1", "GET /api/a", old); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, "api-v1", "GET /api/b", domain.CachedResponse{Status: http.StatusOK}); err != nil {
		t.Fatal(err)
	}

	removed, err := store.DeleteOlderThan(ctx, "api-v1", time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := store.Get(ctx, "api-v1", "GET /api/a"); err != domain.ErrCacheMiss {
		t.Errorf("old entry survived: err = %v", err)
	}
}
