package domain

// EventKind discriminates the closed event vocabulary broadcast to clients.
type EventKind string

const (
	KindQueueDepthChanged EventKind = "queue-depth-changed"
	KindDrainCompleted    EventKind = "drain-completed"
	KindUpdateAvailable   EventKind = "update-available"
	KindActivated         EventKind = "activated"
)

// Event is a notification delivered to every connected client, best-effort
// and fire-and-forget. The vocabulary is closed: consumers can exhaustively
// switch on Kind(). Only the underlying state (queue depth, version) is
// durable; a dropped event can always be re-derived on demand.
type Event interface {
	Kind() EventKind
}

// QueueDepthChanged is broadcast whenever the persisted queue count changes:
// after an append, a drain pass, or an administrative clear.
type QueueDepthChanged struct {
	PendingCount int `json:"pendingCount"`
}

func (QueueDepthChanged) Kind() EventKind { return KindQueueDepthChanged }

// DrainCompleted is broadcast exactly once per drain pass.
type DrainCompleted struct {
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

func (DrainCompleted) Kind() EventKind { return KindDrainCompleted }

// UpdateAvailable is broadcast when a newer agent version has finished
// installing its caches and is waiting to activate.
type UpdateAvailable struct {
	Version string `json:"version"`
}

func (UpdateAvailable) Kind() EventKind { return KindUpdateAvailable }

// Activated is broadcast after a version takes control: superseded
// namespaces are deleted and all open clients are claimed.
type Activated struct {
	Version string `json:"version"`
}

func (Activated) Kind() EventKind { return KindActivated }
