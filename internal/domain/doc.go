// Package domain contains the core entities and value objects of the
// caresync agent.
//
// This is the innermost layer: it has no dependencies on infrastructure
// concerns (HTTP transport, SQLite, logging) and holds only the types and
// invariants the rest of the agent is built around.
//
// # Entities
//
//   - [QueuedMutation]: a write operation captured while the remote service
//     was unreachable, immutable once appended to the mutation log
//   - [CachedResponse]: a stored copy of an upstream read response
//   - [Category]: the classification of an intercepted request
//   - [Outcome] / [DrainSummary]: per-entry and per-pass replay results
//   - [Event]: the closed vocabulary broadcast to connected clients
package domain
