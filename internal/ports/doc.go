// Package ports defines the interfaces that connect the agent's application
// layer to infrastructure adapters.
//
// Ports are the boundaries between the core (classifier, strategy engine,
// sync coordinator, version manager) and the outside world. The core depends
// only on these interfaces; adapters (SQLite, Redis, net/http, zerolog)
// implement them.
//
// # Port Interfaces
//
//   - [MutationLog]: the durable, ordered queue of not-yet-confirmed writes
//   - [CacheStore]: versioned storage for cached responses
//   - [Notifier]: best-effort event broadcast to connected clients
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// This separation keeps the hot path testable with in-memory fakes and lets
// the durable backends be swapped without touching strategy or sync logic.
package ports
