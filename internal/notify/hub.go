package notify

import (
	"log"
	"sync"

	"smartqueue-backend/internal/model"
)

// Update is the payload pushed to dashboards whenever a place's
// occupancy changes.
type Update struct {
	PlaceID      string           `json:"place_id"`
	CurrentCount int              `json:"current_count"`
	State        model.PlaceState `json:"state"`
	RedirectHint string           `json:"redirect_hint,omitempty"`
}

// Subscriber is one dashboard connection listening to a single place.
// Updates arrive on C; the channel is closed when the subscriber is
// removed from the hub.
type Subscriber struct {
	placeID string
	C       chan Update
}

// Hub fans occupancy updates out to per-place subscriber sets. Delivery
// is fire-and-forget: a subscriber whose buffer is full misses the
// update rather than blocking the publisher.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]map[*Subscriber]struct{}
	bufSize int
}

// NewHub creates a hub whose subscribers buffer up to bufSize pending
// updates each.
func NewHub(bufSize int) *Hub {
	if bufSize < 1 {
		bufSize = 1
	}
	return &Hub{
		subs:    make(map[string]map[*Subscriber]struct{}),
		bufSize: bufSize,
	}
}

// Subscribe registers a new listener for one place.
func (h *Hub) Subscribe(placeID string) *Subscriber {
	sub := &Subscriber{
		placeID: placeID,
		C:       make(chan Update, h.bufSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[placeID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[placeID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a listener and closes its channel. Removing a
// subscriber that is already gone is a no-op.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[sub.placeID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.C)
	if len(set) == 0 {
		delete(h.subs, sub.placeID)
	}
}

// Broadcast delivers an update to every subscriber of the place. A dead
// or slow subscriber never blocks or fails the triggering request; its
// update is dropped and logged.
func (h *Hub) Broadcast(update Update) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[update.PlaceID] {
		select {
		case sub.C <- update:
		default:
			log.Printf("Dropping update for slow subscriber on place %s", update.PlaceID)
		}
	}
}

// SubscriberCount reports how many listeners a place currently has.
func (h *Hub) SubscriberCount(placeID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[placeID])
}
