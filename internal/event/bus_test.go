package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/pkg/types"
)

func TestBusSubscribePublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var got []Event
	unsub := bus.Subscribe(SessionCreated, func(e Event) {
		got = append(got, e)
	})

	bus.Publish(Event{Type: SessionCreated, Data: SessionData{Info: &types.Session{ID: "s1"}}})
	bus.Publish(Event{Type: MessageCreated, Data: MessageData{}})

	require.Len(t, got, 1)
	assert.Equal(t, SessionCreated, got[0].Type)

	unsub()
	bus.Publish(Event{Type: SessionCreated})
	assert.Len(t, got, 1)
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	count := 0
	bus.SubscribeAll(func(e Event) { count++ })

	bus.Publish(Event{Type: SessionCreated})
	bus.Publish(Event{Type: TodoUpdated})

	assert.Equal(t, 2, count)
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Close())

	called := false
	bus.Subscribe(SessionCreated, func(Event) { called = true })
	bus.Publish(Event{Type: SessionCreated})

	assert.False(t, called)
	assert.NoError(t, bus.Close())
}
