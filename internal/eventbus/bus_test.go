package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := New(nil)

	var gotA, gotB int
	bus.Subscribe(TopicServiceConnected, func(e Event) { gotA++ })
	bus.Subscribe(TopicServiceConnected, func(e Event) { gotB++ })

	bus.Publish(Event{Topic: TopicServiceConnected, Data: "svc"})

	assert.Equal(t, 1, gotA)
	assert.Equal(t, 1, gotB)
}

func TestPublishIsolatesPanickingSubscriber(t *testing.T) {
	bus := New(nil)

	var survivedCalled bool
	bus.Subscribe(TopicServiceDisconnected, func(e Event) { panic("boom") })
	bus.Subscribe(TopicServiceDisconnected, func(e Event) { survivedCalled = true })

	assert.NotPanics(t, func() {
		bus.Publish(Event{Topic: TopicServiceDisconnected})
	})
	assert.True(t, survivedCalled)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(nil)

	var count int
	unsub := bus.Subscribe(TopicCacheStats, func(e Event) { count++ })
	bus.Publish(Event{Topic: TopicCacheStats})
	unsub()
	bus.Publish(Event{Topic: TopicCacheStats})

	assert.Equal(t, 1, count)
}

func TestPublishToUnknownTopicIsNoop(t *testing.T) {
	bus := New(nil)
	assert.NotPanics(t, func() {
		bus.Publish(Event{Topic: Topic("nothing-subscribes-here")})
	})
}
