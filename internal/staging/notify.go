package staging

import "sync"

// broadcaster fans values out to subscribers, latest-wins.
//
// Each subscriber channel has room for one value. Publishing replaces an
// unread value instead of blocking, so a slow reader only ever sees the most
// recent state.
type broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	closed bool
}

func newBroadcaster[T any]() *broadcaster[T] {
	return &broadcaster[T]{subs: make(map[int]chan T)}
}

// subscribe registers a listener and delivers current immediately.
// The returned func unsubscribes and closes the channel; it is idempotent.
func (b *broadcaster[T]) subscribe(current T) (<-chan T, func()) {
	ch := make(chan T, 1)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	ch <- current

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// publish sends v to every subscriber without blocking.
func (b *broadcaster[T]) publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		// Drop the stale value, if any, so the send below cannot block.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

// close closes every subscriber channel and rejects new subscriptions.
func (b *broadcaster[T]) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

// count returns the number of live subscribers.
func (b *broadcaster[T]) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
