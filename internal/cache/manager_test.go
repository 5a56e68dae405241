package cache

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/caresync-labs/caresync/internal/domain"
	"github.com/caresync-labs/caresync/pkg/log"
)

// memStore is an in-memory ports.CacheStore for manager tests.
type memStore struct {
	mu   sync.Mutex
	data map[string]map[string]domain.CachedResponse
}

func newMemStore() *memStore {
	return &memStore{data: map[string]map[string]domain.CachedResponse{}}
}

func (s *memStore) Put(_ context.Context, namespace, key string, resp domain.CachedResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[namespace] == nil {
		s.data[namespace] = map[string]domain.CachedResponse{}
	}
	if resp.StoredAt.IsZero() {
		resp.StoredAt = time.Now()
	}
	s.data[namespace][key] = resp
	return nil
}

func (s *memStore) Get(_ context.Context, namespace, key string) (domain.CachedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.data[namespace][key]
	if !ok {
		return domain.CachedResponse{}, domain.ErrCacheMiss
	}
	return resp, nil
}

func (s *memStore) DeleteNamespace(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, namespace)
	return nil
}

func (s *memStore) Namespaces(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for ns := range s.data {
		out = append(out, ns)
	}
	return out, nil
}

func (s *memStore) DeleteOlderThan(_ context.Context, namespace string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for key, resp := range s.data[namespace] {
		if resp.StoredAt.Before(cutoff) {
			delete(s.data[namespace], key)
			n++
		}
	}
	return n, nil
}

func TestNamespaceName(t *testing.T) {
	tests := []struct {
		purpose Purpose
		version string
		want    string
	}{
		{PurposeStaticShell, "v1", "shell-v1"},
		{PurposeDynamicRead, "v1", "pages-v1"},
		{PurposeAPIRead, "2024.3", "api-2024.3"},
	}
	for _, tt := range tests {
		if got := NamespaceName(tt.purpose, tt.version); got != tt.want {
			t.Errorf("NamespaceName(%s, %s) = %s, want %s", tt.purpose, tt.version, got, tt.want)
		}
	}
}

func TestKey_Normalization(t *testing.T) {
	tests := []struct {
		method string
		rawURL string
		want   string
	}{
		{"get", "https://ehr.example/api/patients/42", "GET https://ehr.example/api/patients/42"},
		{"GET", "https://ehr.example/api/patients?ward=3b", "GET https://ehr.example/api/patients?ward=3b"},
		{"GET", "https://ehr.example/wards/3#section", "GET https://ehr.example/wards/3"},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.rawURL)
		if err != nil {
			t.Fatalf("parse url: %v", err)
		}
		if got := Key(tt.method, u); got != tt.want {
			t.Errorf("Key(%s, %s) = %q, want %q", tt.method, tt.rawURL, got, tt.want)
		}
	}
}

func TestIndexKey(t *testing.T) {
	tests := []struct {
		upstream string
		want     string
	}{
		{"https://ehr.example", "GET https://ehr.example/"},
		{"https://ehr.example/", "GET https://ehr.example/"},
		{"https://hospital.example/emr", "GET https://hospital.example/emr/"},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.upstream)
		if err != nil {
			t.Fatalf("parse url: %v", err)
		}
		if got := IndexKey(u); got != tt.want {
			t.Errorf("IndexKey(%s) = %q, want %q", tt.upstream, got, tt.want)
		}
	}
}

func TestManager_PutGetThroughHandle(t *testing.T) {
	m := NewManager(newMemStore(), "v1", log.NewNoopLogger())
	ns := m.Namespace(PurposeAPIRead, "v1")
	ctx := context.Background()

	resp := domain.CachedResponse{Status: http.StatusOK, Body: []byte(`{}`)}
	if err := ns.Put(ctx, "GET /api/patients", resp); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := ns.Get(ctx, "GET /api/patients")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", got.Status)
	}
}

func TestManager_ActivateDeletesOtherVersions(t *testing.T) {
	backend := newMemStore()
	m := NewManager(backend, "v1", log.NewNoopLogger())
	ctx := context.Background()

	resp := domain.CachedResponse{Status: http.StatusOK, Body: []byte(`x`)}
	for _, p := range Purposes {
		if err := m.Namespace(p, "v1").Put(ctx, "GET /", resp); err != nil {
			t.Fatalf("seed v1 %s: %v", p, err)
		}
	}

	deleted, err := m.Activate(ctx, "v2")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if len(deleted) != len(Purposes) {
		t.Errorf("deleted %d namespaces, want %d", len(deleted), len(Purposes))
	}

	namespaces, err := backend.Namespaces(ctx)
	if err != nil {
		t.Fatalf("Namespaces: %v", err)
	}
	for _, ns := range namespaces {
		for _, p := range Purposes {
			if ns == NamespaceName(p, "v1") {
				t.Errorf("v1 namespace %s survived activation of v2", ns)
			}
		}
	}
}

func TestManager_SupersededHandleRejected(t *testing.T) {
	m := NewManager(newMemStore(), "v1", log.NewNoopLogger())
	ctx := context.Background()
	old := m.Namespace(PurposeAPIRead, "v1")

	if _, err := m.Activate(ctx, "v2"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	resp := domain.CachedResponse{Status: http.StatusOK}
	if err := old.Put(ctx, "GET /api/x", resp); err != domain.ErrNamespaceSuperseded {
		t.Errorf("Put on superseded handle: err = %v, want ErrNamespaceSuperseded", err)
	}
	if _, err := old.Get(ctx, "GET /api/x"); err != domain.ErrNamespaceSuperseded {
		t.Errorf("Get on superseded handle: err = %v, want ErrNamespaceSuperseded", err)
	}

	// The current version's handle keeps working.
	cur := m.Namespace(PurposeAPIRead, "v2")
	if err := cur.Put(ctx, "GET /api/x", resp); err != nil {
		t.Errorf("Put on current handle: %v", err)
	}
}

func TestManager_InstallingHandleUsableBeforeActivation(t *testing.T) {
	m := NewManager(newMemStore(), "v1", log.NewNoopLogger())
	ctx := context.Background()
	resp := domain.CachedResponse{Status: http.StatusOK, Body: []byte("shell")}

	// The incoming version precaches while v1 still serves.
	m.BeginInstall("v2")
	next := m.Namespace(PurposeStaticShell, "v2")
	if err := next.Put(ctx, "GET https://ehr.example/", resp); err != nil {
		t.Fatalf("Put on installing handle: %v", err)
	}
	if _, err := next.Get(ctx, "GET https://ehr.example/"); err != nil {
		t.Fatalf("Get on installing handle: %v", err)
	}

	// The active version's handle keeps working alongside it.
	if err := m.Namespace(PurposeStaticShell, "v1").Put(ctx, "GET https://ehr.example/", resp); err != nil {
		t.Fatalf("Put on active handle during install: %v", err)
	}

	// Activation keeps the precached shell and flips the handle validity.
	if _, err := m.Activate(ctx, "v2"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	got, err := next.Get(ctx, "GET https://ehr.example/")
	if err != nil {
		t.Fatalf("Get after activation: %v", err)
	}
	if string(got.Body) != "shell" {
		t.Errorf("body = %q", got.Body)
	}
	if err := m.Namespace(PurposeStaticShell, "v1").Put(ctx, "GET https://ehr.example/", resp); err != domain.ErrNamespaceSuperseded {
		t.Errorf("Put on old version after activation: err = %v, want ErrNamespaceSuperseded", err)
	}
}

func TestManager_StaleExcludesInstalling(t *testing.T) {
	backend := newMemStore()
	m := NewManager(backend, "v1", log.NewNoopLogger())
	ctx := context.Background()

	m.BeginInstall("v2")
	resp := domain.CachedResponse{Status: http.StatusOK}
	if err := m.Namespace(PurposeStaticShell, "v2").Put(ctx, "GET /", resp); err != nil {
		t.Fatal(err)
	}
	if err := backend.Put(ctx, "api-v0", "GET /", resp); err != nil {
		t.Fatal(err)
	}

	stale, err := m.Stale(ctx)
	if err != nil {
		t.Fatalf("Stale: %v", err)
	}
	if len(stale) != 1 || stale[0] != "api-v0" {
		t.Errorf("Stale = %v, want [api-v0]", stale)
	}
}

func TestManager_Stale(t *testing.T) {
	backend := newMemStore()
	m := NewManager(backend, "v2", log.NewNoopLogger())
	ctx := context.Background()

	resp := domain.CachedResponse{Status: http.StatusOK}
	if err := backend.Put(ctx, "api-v1", "GET /", resp); err != nil {
		t.Fatal(err)
	}
	if err := m.Namespace(PurposeAPIRead, "v2").Put(ctx, "GET /", resp); err != nil {
		t.Fatal(err)
	}

	stale, err := m.Stale(ctx)
	if err != nil {
		t.Fatalf("Stale: %v", err)
	}
	if len(stale) != 1 || stale[0] != "api-v1" {
		t.Errorf("Stale = %v, want [api-v1]", stale)
	}
}
