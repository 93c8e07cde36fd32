package alerts

import (
	"sync"

	"borderwatch/internal/model"
)

// Bus is the in-process publish point for unknown-presence events.
// Delivery is fire-and-forget: a subscriber that cannot keep up has
// events dropped rather than blocking the detection loop.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan model.AlertEvent
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan model.AlertEvent)}
}

// Subscribe registers a listener. The returned cancel func must be
// called to release the subscription; the channel is closed by it.
func (b *Bus) Subscribe(buffer int) (<-chan model.AlertEvent, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan model.AlertEvent, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(ev model.AlertEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers reports the current listener count.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
