package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/caresync-labs/caresync/internal/domain"
)

// CacheStore implements ports.CacheStore on the SQLite store.
type CacheStore struct {
	store *Store
}

// NewCacheStore creates a cache store over the given store.
func NewCacheStore(s *Store) *CacheStore {
	return &CacheStore{store: s}
}

// Put stores a response under (namespace, key), replacing any previous
// record for the same key.
func (c *CacheStore) Put(ctx context.Context, namespace, key string, resp domain.CachedResponse) error {
	headers, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}

	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	return c.store.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cache_entries (namespace, key, status, headers, body, stored_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(namespace, key) DO UPDATE SET
			   status = excluded.status,
			   headers = excluded.headers,
			   body = excluded.body,
			   stored_at = excluded.stored_at`,
			namespace, key, resp.Status, string(headers), resp.Body, storedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("put cache entry: %w", err)
		}
		return nil
	})
}

// Get returns the record under (namespace, key) or domain.ErrCacheMiss.
func (c *CacheStore) Get(ctx context.Context, namespace, key string) (domain.CachedResponse, error) {
	var (
		resp     domain.CachedResponse
		headers  string
		storedAt int64
	)
	err := c.store.db.QueryRowContext(ctx,
		`SELECT status, headers, body, stored_at FROM cache_entries
		 WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&resp.Status, &headers, &resp.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CachedResponse{}, domain.ErrCacheMiss
	}
	if err != nil {
		return domain.CachedResponse{}, fmt.Errorf("get cache entry: %w", err)
	}

	resp.Header = http.Header{}
	if err := json.Unmarshal([]byte(headers), &resp.Header); err != nil {
		return domain.CachedResponse{}, fmt.Errorf("unmarshal headers: %w", err)
	}
	resp.StoredAt = time.Unix(0, storedAt)
	return resp, nil
}

// DeleteNamespace removes every record in the namespace.
func (c *CacheStore) DeleteNamespace(ctx context.Context, namespace string) error {
	return c.store.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE namespace = ?`, namespace,
		); err != nil {
			return fmt.Errorf("delete namespace %s: %w", namespace, err)
		}
		return nil
	})
}

// Namespaces lists every namespace that currently holds records.
func (c *CacheStore) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := c.store.db.QueryContext(ctx,
		`SELECT DISTINCT namespace FROM cache_entries ORDER BY namespace`,
	)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		out = append(out, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate namespaces: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes records in the namespace stored before the cutoff.
func (c *CacheStore) DeleteOlderThan(ctx context.Context, namespace string, cutoff time.Time) (int, error) {
	var removed int
	err := c.store.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE namespace = ? AND stored_at < ?`,
			namespace, cutoff.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("delete old entries: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		removed = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
