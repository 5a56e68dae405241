package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/caresync-labs/caresync/internal/domain"
)

// MutationLog implements ports.MutationLog on the SQLite store.
type MutationLog struct {
	store *Store
}

// NewMutationLog creates a mutation log over the given store.
func NewMutationLog(s *Store) *MutationLog {
	return &MutationLog{store: s}
}

// Append stores the mutation and returns its assigned id.
func (l *MutationLog) Append(ctx context.Context, m domain.QueuedMutation) (int64, error) {
	headers, err := json.Marshal(m.Header)
	if err != nil {
		return 0, fmt.Errorf("marshal headers: %w", err)
	}

	enqueuedAt := m.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now()
	}

	var id int64
	err = l.store.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO mutation_queue (url, method, headers, body, enqueued_at)
			 VALUES (?, ?, ?, ?, ?)`,
			m.URL, m.Method, string(headers), m.Body, enqueuedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert mutation: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListAll returns every queued mutation ordered by id ascending, which is
// enqueue order.
func (l *MutationLog) ListAll(ctx context.Context) ([]domain.QueuedMutation, error) {
	rows, err := l.store.db.QueryContext(ctx,
		`SELECT id, url, method, headers, body, enqueued_at
		 FROM mutation_queue ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list mutations: %w", err)
	}
	defer rows.Close()

	var out []domain.QueuedMutation
	for rows.Next() {
		var (
			m          domain.QueuedMutation
			headers    string
			enqueuedAt int64
		)
		if err := rows.Scan(&m.ID, &m.URL, &m.Method, &headers, &m.Body, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		m.Header = http.Header{}
		if err := json.Unmarshal([]byte(headers), &m.Header); err != nil {
			return nil, fmt.Errorf("unmarshal headers for id %d: %w", m.ID, err)
		}
		m.EnqueuedAt = time.Unix(0, enqueuedAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mutations: %w", err)
	}
	return out, nil
}

// Remove deletes the entry with the given id. Missing ids are not an error:
// a concurrent instance may have removed the entry already.
func (l *MutationLog) Remove(ctx context.Context, id int64) error {
	return l.store.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mutation_queue WHERE id = ?`, id); err != nil {
			return fmt.Errorf("remove mutation %d: %w", id, err)
		}
		return nil
	})
}

// Count returns the number of queued entries.
func (l *MutationLog) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mutation_queue`,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count mutations: %w", err)
	}
	return n, nil
}

// Clear drops every queued entry without replay.
func (l *MutationLog) Clear(ctx context.Context) (int, error) {
	var dropped int
	err := l.store.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM mutation_queue`)
		if err != nil {
			return fmt.Errorf("clear mutations: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		dropped = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return dropped, nil
}
