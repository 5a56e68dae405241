package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caresync-labs/caresync/internal/domain"
	"github.com/caresync-labs/caresync/pkg/log"
)

func TestBus_BroadcastReachesEveryClient(t *testing.T) {
	b := New(log.NewNoopLogger())
	h1 := b.Register("v1")
	h2 := b.Register("v1")

	b.Broadcast(domain.QueueDepthChanged{PendingCount: 3})

	for _, h := range []*ClientHandle{h1, h2} {
		ev := <-h.Events()
		depth, ok := ev.(domain.QueueDepthChanged)
		require.True(t, ok, "event type")
		assert.Equal(t, 3, depth.PendingCount)
	}
}

func TestBus_UniqueHandleIDs(t *testing.T) {
	b := New(log.NewNoopLogger())
	h1 := b.Register("v1")
	h2 := b.Register("v1")
	assert.NotEqual(t, h1.ID(), h2.ID())
}

func TestBus_SlowClientDropsWithoutBlocking(t *testing.T) {
	b := New(log.NewNoopLogger())
	h := b.Register("v1")

	// Overfill the buffer; Broadcast must never block.
	for i := 0; i < handleBuffer*2; i++ {
		b.Broadcast(domain.QueueDepthChanged{PendingCount: i})
	}

	var received int
	for {
		select {
		case <-h.Events():
			received++
			continue
		default:
		}
		break
	}
	assert.Equal(t, handleBuffer, received, "buffer holds at most handleBuffer events")
}

func TestBus_UnregisterClosesChannel(t *testing.T) {
	b := New(log.NewNoopLogger())
	h := b.Register("v1")

	b.Unregister(h)

	_, open := <-h.Events()
	assert.False(t, open, "events channel must be closed")
	assert.Zero(t, b.Count())

	// Double unregister is harmless.
	b.Unregister(h)
}

func TestBus_BroadcastAfterUnregisterIsSafe(t *testing.T) {
	b := New(log.NewNoopLogger())
	h := b.Register("v1")
	b.Unregister(h)

	// Must not panic on the closed channel.
	b.Broadcast(domain.Activated{Version: "v2"})
}

func TestBus_ClaimAll(t *testing.T) {
	b := New(log.NewNoopLogger())
	h1 := b.Register("v1")
	h2 := b.Register("v1")
	h3 := b.Register("v2")

	assert.Equal(t, 2, b.CountNotOn("v2"))

	claimed := b.ClaimAll("v2")
	assert.Equal(t, 3, claimed)
	assert.Zero(t, b.CountNotOn("v2"))

	for _, h := range []*ClientHandle{h1, h2, h3} {
		assert.Equal(t, "v2", h.Version())
	}
}
