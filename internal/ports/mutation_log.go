package ports

import (
	"context"

	"github.com/caresync-labs/caresync/internal/domain"
)

// MutationLog is the durable, append-only queue of write operations captured
// while the remote service was unreachable.
//
// Implementations must be transactional: each call executes inside one
// store transaction so that concurrent application instances sharing the
// store never observe partial records, and appends survive process
// restarts. Entries are immutable once written; they are only ever appended
// or removed, never updated in place.
type MutationLog interface {
	// Append stores the mutation and returns its assigned id. IDs are
	// unique and strictly increasing in insertion order.
	Append(ctx context.Context, m domain.QueuedMutation) (int64, error)

	// ListAll returns every queued mutation in original enqueue order.
	// Replay order must match the order clinical actions were performed,
	// so implementations order by id ascending.
	ListAll(ctx context.Context) ([]domain.QueuedMutation, error)

	// Remove deletes the entry with the given id. Removing an id that no
	// longer exists is not an error.
	Remove(ctx context.Context, id int64) error

	// Count returns the number of queued entries.
	Count(ctx context.Context) (int, error)

	// Clear drops every queued entry without replay and returns how many
	// were dropped. Administrative escape hatch: logged, irreversible.
	Clear(ctx context.Context) (int, error)
}
