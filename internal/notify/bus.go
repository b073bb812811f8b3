package notify

import "sync"

// Bus fans in-app events out to the subscribers of each user.
// Sends never block: a full subscriber misses the event.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Event
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]chan Event)}
}

// Subscribe registers a channel for userID's events. The returned cancel
// func unregisters and closes it.
func (b *Bus) Subscribe(userID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[int]chan Event)
	}
	b.subs[userID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if userSubs, ok := b.subs[userID]; ok {
				if _, ok := userSubs[id]; ok {
					delete(userSubs, id)
					close(ch)
				}
				if len(userSubs) == 0 {
					delete(b.subs, userID)
				}
			}
		})
	}
}

// Publish delivers event to userID's subscribers and reports how many got it.
func (b *Bus) Publish(event Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for _, ch := range b.subs[event.UserID] {
		select {
		case ch <- event:
			delivered++
		default:
		}
	}
	return delivered
}

// Close unregisters every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for userID, userSubs := range b.subs {
		for _, ch := range userSubs {
			close(ch)
		}
		delete(b.subs, userID)
	}
}
