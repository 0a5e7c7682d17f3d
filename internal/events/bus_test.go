package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablekit/poslink/internal/envelope"
)

func TestSubscribeAndEmit(t *testing.T) {
	bus := NewBus(nil)

	var got []envelope.Envelope
	bus.Subscribe(envelope.TypeOrderCreated, func(env envelope.Envelope) {
		got = append(got, env)
	})

	bus.Emit(envelope.TypeOrderCreated, envelope.Envelope{Type: envelope.TypeOrderCreated, RestaurantID: "r1"})

	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].RestaurantID)
}

func TestEmitRegistrationOrder(t *testing.T) {
	bus := NewBus(nil)

	var order []int
	bus.Subscribe("order.updated", func(envelope.Envelope) { order = append(order, 1) })
	bus.Subscribe("order.updated", func(envelope.Envelope) { order = append(order, 2) })
	bus.Subscribe("order.updated", func(envelope.Envelope) { order = append(order, 3) })

	bus.Emit("order.updated", envelope.Envelope{Type: "order.updated"})

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEmitUnknownTypeIsNoop(t *testing.T) {
	bus := NewBus(nil)

	// Must not panic or create a registry entry.
	bus.Emit("menu.updated", envelope.Envelope{Type: "menu.updated"})

	assert.Equal(t, 0, bus.Stats().EventTypes)
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	bus := NewBus(nil)

	secondRan := false
	bus.Subscribe("payment.processed", func(envelope.Envelope) {
		panic("listener blew up")
	})
	bus.Subscribe("payment.processed", func(envelope.Envelope) {
		secondRan = true
	})

	assert.NotPanics(t, func() {
		bus.Emit("payment.processed", envelope.Envelope{Type: "payment.processed"})
	})

	assert.True(t, secondRan, "second handler must still run after the first panics")

	stats := bus.Stats()
	assert.Equal(t, int64(1), stats.PanicsRecovered)
	assert.Equal(t, int64(1), stats.Delivered)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	id := bus.Subscribe("staff.update", func(envelope.Envelope) { calls++ })

	bus.Emit("staff.update", envelope.Envelope{Type: "staff.update"})
	bus.Unsubscribe("staff.update", id)
	bus.Emit("staff.update", envelope.Envelope{Type: "staff.update"})

	assert.Equal(t, 1, calls)

	// Repeat and unknown-id removals are no-ops.
	bus.Unsubscribe("staff.update", id)
	bus.Unsubscribe("staff.update", "not-a-real-id")
	bus.Unsubscribe("never.registered", id)
}

func TestLastUnsubscribeRemovesEntry(t *testing.T) {
	bus := NewBus(nil)

	id1 := bus.Subscribe("inventory.updated", func(envelope.Envelope) {})
	id2 := bus.Subscribe("inventory.updated", func(envelope.Envelope) {})
	assert.Equal(t, 2, bus.SubscriberCount("inventory.updated"))
	assert.Equal(t, 1, bus.Stats().EventTypes)

	bus.Unsubscribe("inventory.updated", id1)
	assert.Equal(t, 1, bus.SubscriberCount("inventory.updated"))
	assert.Equal(t, 1, bus.Stats().EventTypes)

	bus.Unsubscribe("inventory.updated", id2)
	assert.Equal(t, 0, bus.SubscriberCount("inventory.updated"))
	assert.Equal(t, 0, bus.Stats().EventTypes)
}

func TestNilHandlerIgnored(t *testing.T) {
	bus := NewBus(nil)

	id := bus.Subscribe("order.created", nil)

	assert.Empty(t, id)
	assert.Equal(t, 0, bus.SubscriberCount("order.created"))
}

func TestSubscribeDuringDispatch(t *testing.T) {
	bus := NewBus(nil)

	lateCalls := 0
	bus.Subscribe("system.notification", func(envelope.Envelope) {
		bus.Subscribe("system.notification", func(envelope.Envelope) { lateCalls++ })
	})

	bus.Emit("system.notification", envelope.Envelope{Type: "system.notification"})
	assert.Equal(t, 0, lateCalls, "handler added mid-dispatch must not see the current emit")

	bus.Emit("system.notification", envelope.Envelope{Type: "system.notification"})
	assert.Equal(t, 1, lateCalls)
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	bus := NewBus(nil)

	var id string
	calls := 0
	id = bus.Subscribe("settings.updated", func(envelope.Envelope) {
		calls++
		bus.Unsubscribe("settings.updated", id)
	})

	bus.Emit("settings.updated", envelope.Envelope{Type: "settings.updated"})
	bus.Emit("settings.updated", envelope.Envelope{Type: "settings.updated"})

	assert.Equal(t, 1, calls)
}

func TestStatsDelivered(t *testing.T) {
	bus := NewBus(nil)

	bus.Subscribe(envelope.EventConnected, func(envelope.Envelope) {})
	bus.Subscribe(envelope.EventConnected, func(envelope.Envelope) {})

	bus.Emit(envelope.EventConnected, envelope.Envelope{Type: envelope.EventConnected})
	bus.Emit(envelope.EventConnected, envelope.Envelope{Type: envelope.EventConnected})

	stats := bus.Stats()
	assert.Equal(t, int64(4), stats.Delivered)
	assert.Equal(t, 2, stats.Subscribers)
	assert.Equal(t, 1, stats.EventTypes)
}
