package store

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caresync-labs/caresync/internal/domain"
)

func sampleResponse(body string) domain.CachedResponse {
	return domain.CachedResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(body),
	}
}

func TestCacheStore_PutGetRoundTrip(t *testing.T) {
	c := NewCacheStore(openTestStore(t))
	ctx := context.Background()

	in := sampleResponse(`{"ward":"3B"}`)
	require.NoError(t, c.Put(ctx, "api-v1", "GET https://ehr.example/api/wards/3B", in))

	got, err := c.Get(ctx, "api-v1", "GET https://ehr.example/api/wards/3B")
	require.NoError(t, err)
	assert.Equal(t, in.Status, got.Status)
	assert.Equal(t, in.Header, got.Header)
	assert.Equal(t, in.Body, got.Body)
	assert.WithinDuration(t, time.Now(), got.StoredAt, 5*time.Second)
}

func TestCacheStore_GetMiss(t *testing.T) {
	c := NewCacheStore(openTestStore(t))

	_, err := c.Get(context.Background(), "api-v1", "GET https://ehr.example/api/none")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestCacheStore_PutReplacesSameKey(t *testing.T) {
	c := NewCacheStore(openTestStore(t))
	ctx := context.Background()
	key := "GET https://ehr.example/api/patients/p-1"

	require.NoError(t, c.Put(ctx, "api-v1", key, sampleResponse(`{"rev":1}`)))
	require.NoError(t, c.Put(ctx, "api-v1", key, sampleResponse(`{"rev":2}`)))

	got, err := c.Get(ctx, "api-v1", key)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"rev":2}`), got.Body)
}

func TestCacheStore_NamespacesAreIsolated(t *testing.T) {
	c := NewCacheStore(openTestStore(t))
	ctx := context.Background()
	key := "GET https://ehr.example/api/patients/p-1"

	require.NoError(t, c.Put(ctx, "api-v1", key, sampleResponse(`v1`)))
	require.NoError(t, c.Put(ctx, "api-v2", key, sampleResponse(`v2`)))

	got, err := c.Get(ctx, "api-v1", key)
	require.NoError(t, err)
	assert.Equal(t, []byte(`v1`), got.Body)

	got, err = c.Get(ctx, "api-v2", key)
	require.NoError(t, err)
	assert.Equal(t, []byte(`v2`), got.Body)
}

func TestCacheStore_DeleteNamespace(t *testing.T) {
	c := NewCacheStore(openTestStore(t))
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "shell-v1", "GET /index.html", sampleResponse(`old`)))
	require.NoError(t, c.Put(ctx, "shell-v2", "GET /index.html", sampleResponse(`new`)))

	require.NoError(t, c.DeleteNamespace(ctx, "shell-v1"))

	_, err := c.Get(ctx, "shell-v1", "GET /index.html")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)

	_, err = c.Get(ctx, "shell-v2", "GET /index.html")
	assert.NoError(t, err)

	namespaces, err := c.Namespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"shell-v2"}, namespaces)
}

func TestCacheStore_DeleteOlderThan(t *testing.T) {
	c := NewCacheStore(openTestStore(t))
	ctx := context.Background()

	old := sampleResponse(`old`)
	old.StoredAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, c.Put(ctx, "api-v1", "GET /api/a", old))
	require.NoError(t, c.Put(ctx, "api-v1", "GET /api/b", sampleResponse(`fresh`)))

	removed, err := c.DeleteOlderThan(ctx, "api-v1", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = c.Get(ctx, "api-v1", "GET /api/a")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
	_, err = c.Get(ctx, "api-v1", "GET /api/b")
	assert.NoError(t, err)
}
