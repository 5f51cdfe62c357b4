package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"smartqueue-backend/internal/model"
)

func TestBroadcastReachesOnlyPlaceSubscribers(t *testing.T) {
	hub := NewHub(4)
	sub1 := hub.Subscribe("hall_1")
	sub2 := hub.Subscribe("hall_1")
	other := hub.Subscribe("hall_2")

	hub.Broadcast(Update{PlaceID: "hall_1", CurrentCount: 3, State: model.StateNormal})

	for _, sub := range []*Subscriber{sub1, sub2} {
		select {
		case update := <-sub.C:
			assert.Equal(t, 3, update.CurrentCount)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for update")
		}
	}

	select {
	case <-other.C:
		t.Fatal("subscriber of another place received the update")
	default:
	}
}

func TestSlowSubscriberNeverBlocksBroadcast(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("hall_1")

	// Fill the buffer and keep broadcasting; the publisher must not
	// block and the oldest pending update stays intact.
	hub.Broadcast(Update{PlaceID: "hall_1", CurrentCount: 1})
	hub.Broadcast(Update{PlaceID: "hall_1", CurrentCount: 2})
	hub.Broadcast(Update{PlaceID: "hall_1", CurrentCount: 3})

	update := <-sub.C
	assert.Equal(t, 1, update.CurrentCount)
	select {
	case <-sub.C:
		t.Fatal("dropped updates should not be delivered")
	default:
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	hub := NewHub(4)
	sub := hub.Subscribe("hall_1")
	assert.Equal(t, 1, hub.SubscriberCount("hall_1"))

	hub.Unsubscribe(sub)
	assert.Equal(t, 0, hub.SubscriberCount("hall_1"))

	// Removing a handle that already disconnected is a no-op.
	hub.Unsubscribe(sub)

	// The channel is closed so streaming loops terminate.
	_, ok := <-sub.C
	assert.False(t, ok)

	// Broadcasting to a place with no subscribers is fine.
	hub.Broadcast(Update{PlaceID: "hall_1", CurrentCount: 1})
}
