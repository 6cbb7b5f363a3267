package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishOrder(t *testing.T) {
	bus := NewEventBus()

	var got []string
	bus.Subscribe(TypeStateChanged, func(e Event) {
		got = append(got, e.Data["state"].(string))
	})

	for _, s := range []string{"idle", "listening", "processing", "speaking"} {
		bus.Publish(Event{Type: TypeStateChanged, Data: map[string]any{"state": s}})
	}

	assert.Equal(t, []string{"idle", "listening", "processing", "speaking"}, got)
}

func TestSubscriberOrder(t *testing.T) {
	bus := NewEventBus()

	var got []int
	bus.Subscribe(TypeFinalResult, func(Event) { got = append(got, 1) })
	bus.Subscribe(TypeFinalResult, func(Event) { got = append(got, 2) })
	bus.Subscribe("*", func(Event) { got = append(got, 3) })

	bus.Publish(Event{Type: TypeFinalResult})

	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()

	count := 0
	sub := bus.Subscribe(TypeAudioLevel, func(Event) { count++ })
	other := bus.Subscribe(TypeAudioLevel, func(Event) {})

	bus.Publish(Event{Type: TypeAudioLevel})
	bus.Unsubscribe(sub)
	bus.Publish(Event{Type: TypeAudioLevel})

	assert.Equal(t, 1, count)
	assert.True(t, bus.HasSubscribers(TypeAudioLevel))

	bus.Unsubscribe(other)
	assert.False(t, bus.HasSubscribers(TypeAudioLevel))

	// 重复取消订阅是空操作
	bus.Unsubscribe(sub)
}

func TestPublishNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: TypeSessionError})
	})
}
