package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversPublishedEventsToSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)
	require.Equal(t, 1, b.SubscriberCount())

	b.Publish(&Event{Type: EventJobExeAdmitted, Message: "q-1"})

	select {
	case evt := <-sub:
		assert.Equal(t, EventJobExeAdmitted, evt.Type)
		assert.Equal(t, "q-1", evt.Message)
		assert.False(t, evt.Timestamp.IsZero(), "Publish stamps a zero timestamp")
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestUnsubscribeStopsDeliveryAndClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub
	assert.False(t, ok, "Unsubscribe closes the subscriber channel")
}

func TestBrokerFansOutToMultipleSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	a := b.Subscribe()
	c := b.Subscribe()
	defer b.Unsubscribe(a)
	defer b.Unsubscribe(c)

	b.Publish(&Event{Type: EventRoundCompleted})

	for _, sub := range []Subscriber{a, c} {
		select {
		case evt := <-sub:
			assert.Equal(t, EventRoundCompleted, evt.Type)
		case <-time.After(time.Second):
			t.Fatal("event was not delivered to all subscribers")
		}
	}
}
