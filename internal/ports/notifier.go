package ports

import "github.com/caresync-labs/caresync/internal/domain"

// Notifier broadcasts state-change events to every connected application
// instance. Delivery is best-effort and fire-and-forget: no acknowledgement,
// no retry. A slow or disconnected client must never block the caller.
type Notifier interface {
	Broadcast(event domain.Event)
}
