package domain

import "errors"

// Domain errors returned by the public API; check with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running agent.
	ErrAlreadyRunning = errors.New("caresync: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped agent.
	ErrNotRunning = errors.New("caresync: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("caresync: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("caresync: invalid configuration")

	// ErrStoreUnavailable signals that the durable store could not be opened
	// or has failed. The agent degrades to live-network-only operation; it
	// never crashes the host application over this condition.
	ErrStoreUnavailable = errors.New("caresync: durable store unavailable")

	// ErrCacheMiss is returned by cache lookups when no record exists for
	// the key. It is not a failure: callers resolve it through the
	// documented fallback chain (live fetch, cached shell, placeholder).
	ErrCacheMiss = errors.New("caresync: cache miss")

	// ErrNamespaceSuperseded is returned when reading or writing through a
	// namespace whose version is no longer the active one.
	ErrNamespaceSuperseded = errors.New("caresync: cache namespace superseded")

	// ErrInvalidStateTransition is returned on an invalid run state change.
	ErrInvalidStateTransition = errors.New("caresync: invalid state transition")
)
