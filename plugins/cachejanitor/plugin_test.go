package cachejanitor

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/caresync-labs/caresync"
	"github.com/caresync-labs/caresync/internal/cache"
	"github.com/caresync-labs/caresync/internal/domain"
	"github.com/caresync-labs/caresync/internal/store"
	"github.com/caresync-labs/caresync/pkg/log"
)

func seedEntry(t *testing.T, cs *store.CacheStore, namespace, key string, age time.Duration) {
	t.Helper()
	err := cs.Put(context.Background(), namespace, key, domain.CachedResponse{
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": {"application/json"}},
		Body:     []byte(`{}`),
		StoredAt: time.Now().Add(-age),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSweep(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	cs := store.NewCacheStore(s)
	caches := cache.NewManager(cs, "v2", log.NewNoopLogger())

	current := cache.NamespaceName(cache.PurposeAPIRead, "v2")
	stale := cache.NamespaceName(cache.PurposeAPIRead, "v1")
	seedEntry(t, cs, current, "GET https://ehr.example/api/patients/1", time.Minute)
	seedEntry(t, cs, current, "GET https://ehr.example/api/patients/2", 30*24*time.Hour)
	seedEntry(t, cs, stale, "GET https://ehr.example/api/patients/1", time.Minute)

	p := New(Config{SweepInterval: time.Hour, EntryTTL: 7 * 24 * time.Hour})
	if err := p.Initialize(context.Background(), caresync.PluginConfig{
		Caches: caches,
		Logger: log.NewNoopLogger(),
	}); err != nil {
		t.Fatal(err)
	}
	defer p.Shutdown(context.Background())

	p.Sweep(context.Background())

	ctx := context.Background()
	namespaces, err := cs.Namespaces(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, ns := range namespaces {
		if ns == stale {
			t.Errorf("stale namespace %s survived the sweep", stale)
		}
	}

	// The fresh record stays, the expired one is gone.
	if _, err := cs.Get(ctx, current, "GET https://ehr.example/api/patients/1"); err != nil {
		t.Errorf("fresh record removed: %v", err)
	}
	if _, err := cs.Get(ctx, current, "GET https://ehr.example/api/patients/2"); err == nil {
		t.Error("expired record survived the ttl sweep")
	}
}

func TestInitialize_IdleWithoutCaches(t *testing.T) {
	p := New(DefaultConfig())
	err := p.Initialize(context.Background(), caresync.PluginConfig{Logger: log.NewNoopLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}
