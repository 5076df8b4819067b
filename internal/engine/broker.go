package engine

import (
	"encoding/json"
	"sync"
)

// StateEvent is the payload published to state subscribers.
type StateEvent struct {
	Type           string `json:"type"`
	Locked         bool   `json:"locked"`
	EndTimestampMS int64  `json:"endTimestampMs"`
	PlaceID        string `json:"placeId,omitempty"`
	RemainingMS    int64  `json:"remainingMs"`
}

// Broker is an in-process pub/sub for lock state changes. Last write
// wins; all subscribers eventually see the current state.
type Broker struct {
	mu   sync.RWMutex
	subs map[chan []byte]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan []byte]struct{})}
}

// Subscribe returns a channel that receives JSON-encoded state events.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// Publish sends an event to all subscribers.
func (b *Broker) Publish(event StateEvent) {
	data, _ := json.Marshal(event)
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- data:
		default:
			// Drop if subscriber is slow.
		}
	}
	b.mu.RUnlock()
}
