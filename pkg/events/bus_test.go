package events

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusEmitDeliversToSubscribers(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe("sess-1")
	defer bus.Unsubscribe(sub)

	bus.Emit("sess-1", LevelInfo, "classifying query", WithStep(1, 5))

	event := <-sub.C
	assert.Equal(t, "sess-1", event.SessionID)
	assert.Equal(t, LevelInfo, event.Level)
	assert.Equal(t, "classifying query", event.Message)
	assert.Equal(t, 1, event.Step)
	assert.Equal(t, 5, event.TotalSteps)
	assert.False(t, event.Timestamp.IsZero())
}

func TestBusEmitIsScopedBySession(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe("sess-1")
	defer bus.Unsubscribe(sub)

	bus.Emit("sess-2", LevelInfo, "other session")

	select {
	case event := <-sub.C:
		t.Fatalf("unexpected event: %+v", event)
	default:
	}
}

func TestBusEmitWithoutSubscribersDoesNotBlock(t *testing.T) {
	bus := NewBus(8)
	for i := 0; i < 100; i++ {
		bus.Emit("sess-1", LevelInfo, "no one listening")
	}
}

func TestBusOverflowDropsOldest(t *testing.T) {
	bus := NewBus(2)
	sub := bus.Subscribe("sess-1")
	defer bus.Unsubscribe(sub)

	for i := 1; i <= 5; i++ {
		bus.Emit("sess-1", LevelInfo, fmt.Sprintf("event %d", i))
	}

	// Buffer holds the newest two events; older ones were dropped.
	first := <-sub.C
	second := <-sub.C
	assert.Equal(t, "event 4", first.Message)
	assert.Equal(t, "event 5", second.Message)

	select {
	case event := <-sub.C:
		t.Fatalf("unexpected extra event: %+v", event)
	default:
	}
}

func TestBusMultipleSubscribersEachReceive(t *testing.T) {
	bus := NewBus(8)
	a := bus.Subscribe("sess-1")
	b := bus.Subscribe("sess-1")
	defer bus.Unsubscribe(a)
	defer bus.Unsubscribe(b)

	require.Equal(t, 2, bus.SubscriberCount("sess-1"))

	bus.Emit("sess-1", LevelSuccess, "analysis complete")

	assert.Equal(t, "analysis complete", (<-a.C).Message)
	assert.Equal(t, "analysis complete", (<-b.C).Message)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe("sess-1")

	bus.Unsubscribe(sub)
	_, open := <-sub.C
	assert.False(t, open)
	assert.Equal(t, 0, bus.SubscriberCount("sess-1"))

	// Double unsubscribe is a no-op.
	bus.Unsubscribe(sub)

	// Emitting after unsubscribe must not panic.
	bus.Emit("sess-1", LevelInfo, "late event")
}
