package ports

import (
	"context"
	"time"

	"github.com/caresync-labs/caresync/internal/domain"
)

// CacheStore is the backing storage for versioned response caches. Keys are
// scoped by namespace; a namespace name embeds the version tag that owns it
// (for example "api-v7"). Writes and reads each run in their own store
// transaction.
type CacheStore interface {
	// Put stores a response under (namespace, key), replacing any previous
	// record for the same key.
	Put(ctx context.Context, namespace, key string, resp domain.CachedResponse) error

	// Get returns the record stored under (namespace, key), or
	// domain.ErrCacheMiss when none exists.
	Get(ctx context.Context, namespace, key string) (domain.CachedResponse, error)

	// DeleteNamespace removes every record in the namespace. Used when a
	// superseded version's caches are garbage-collected.
	DeleteNamespace(ctx context.Context, namespace string) error

	// Namespaces lists every namespace that currently holds records.
	Namespaces(ctx context.Context) ([]string, error)

	// DeleteOlderThan removes records in the namespace stored before the
	// cutoff and returns how many were removed.
	DeleteOlderThan(ctx context.Context, namespace string, cutoff time.Time) (int, error)
}
