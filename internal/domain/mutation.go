package domain

import (
	"net/http"
	"time"
)

// QueuedMutation is a write operation captured while the remote service was
// unreachable. Entries are immutable once appended: the sync coordinator
// either removes them (confirmed success or terminal rejection) or leaves
// them untouched for a later pass. IDs are assigned by the mutation log on
// insert and are strictly increasing in enqueue order, which is the order
// replay must follow.
type QueuedMutation struct {
	// ID is the monotonic identifier assigned on insert.
	ID int64

	// Method is the original HTTP method (POST, PUT, PATCH, DELETE).
	Method string

	// URL is the original absolute target URL.
	URL string

	// Header carries the original request headers verbatim, including any
	// Idempotency-Key the application supplied.
	Header http.Header

	// Body is the opaque request payload. The agent never interprets it.
	Body []byte

	// EnqueuedAt records when the mutation was captured.
	EnqueuedAt time.Time
}

// CachedResponse is a stored copy of an idempotent GET response, keyed in
// the cache by normalized (method, URL).
type CachedResponse struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}
