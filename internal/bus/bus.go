// Package bus implements the client notification bus: best-effort,
// fire-and-forget delivery of state-change events to every connected
// application instance.
package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/caresync-labs/caresync/internal/domain"
	"github.com/caresync-labs/caresync/pkg/log"
)

// handleBuffer is the per-client event buffer. A client that falls this far
// behind starts losing events; the underlying state is re-derivable on
// demand, so dropping is acceptable.
const handleBuffer = 16

// ClientHandle is a live connection to one running application instance.
// It carries no persisted state and is used only for event delivery.
type ClientHandle struct {
	id      string
	events  chan domain.Event
	mu      sync.Mutex
	version string
	closed  bool
}

// ID returns the handle's opaque identifier.
func (h *ClientHandle) ID() string { return h.id }

// Events returns the channel the client consumes events from.
func (h *ClientHandle) Events() <-chan domain.Event { return h.events }

// Version returns the agent version currently controlling this client.
func (h *ClientHandle) Version() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.version
}

func (h *ClientHandle) claim(version string) {
	h.mu.Lock()
	h.version = version
	h.mu.Unlock()
}

// Bus is the registry of connected clients. Broadcast never blocks: a slow
// client drops events instead of stalling the agent.
type Bus struct {
	logger log.Logger

	mu      sync.RWMutex
	clients map[string]*ClientHandle
}

// New creates an empty bus.
func New(logger log.Logger) *Bus {
	return &Bus{logger: logger, clients: make(map[string]*ClientHandle)}
}

// Register attaches a new client under the given controlling version and
// returns its handle.
func (b *Bus) Register(version string) *ClientHandle {
	h := &ClientHandle{
		id:      uuid.NewString(),
		events:  make(chan domain.Event, handleBuffer),
		version: version,
	}
	b.mu.Lock()
	b.clients[h.id] = h
	b.mu.Unlock()

	b.logger.Debug("client attached",
		log.String("client", h.id),
		log.String("version", version),
	)
	return h
}

// Unregister detaches the client and closes its event channel.
func (b *Bus) Unregister(h *ClientHandle) {
	b.mu.Lock()
	_, present := b.clients[h.id]
	delete(b.clients, h.id)
	b.mu.Unlock()

	if !present {
		return
	}

	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.events)
	}
	h.mu.Unlock()

	b.logger.Debug("client detached", log.String("client", h.id))
}

// Broadcast delivers the event to every connected client. Best-effort: a
// full client buffer drops the event for that client only.
func (b *Bus) Broadcast(event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, h := range b.clients {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			continue
		}
		select {
		case h.events <- event:
		default:
			b.logger.Warn("client event buffer full, dropping event",
				log.String("client", h.id),
				log.String("kind", string(event.Kind())),
			)
		}
		h.mu.Unlock()
	}
}

// ClaimAll retags every connected client with the given controlling version.
// Called when a version activates.
func (b *Bus) ClaimAll(version string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, h := range b.clients {
		h.claim(version)
	}
	return len(b.clients)
}

// Count returns the number of connected clients.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// CountNotOn returns how many connected clients are controlled by a version
// other than the given one. The version manager activates automatically once
// this reaches zero.
func (b *Bus) CountNotOn(version string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var n int
	for _, h := range b.clients {
		if h.Version() != version {
			n++
		}
	}
	return n
}
