// Package eventbus is a small typed publish/subscribe fan-out.
//
// Components publish value copies of their state; consumers (the local UI
// hub, other components, tests) subscribe with a buffered channel. Publish
// never blocks: a subscriber whose buffer is full misses that event and
// keeps receiving later ones, so a slow consumer cannot stall a state machine.
//
// Subscribers that must not miss the final value (control-plane changes such
// as login and logout) use SubscribeLatest instead: a full buffer has its
// stale value replaced, so the newest one is always delivered.
package eventbus

import "sync"

// DefaultBuffer is the channel capacity given to each subscriber.
const DefaultBuffer = 16

// Bus broadcasts values of type T to every current subscriber.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   map[chan T]bool // value: latest-value subscription
	closed bool
}

// New creates an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[chan T]bool)}
}

// Subscribe registers a subscriber and returns its channel together with a
// cancel function. Cancel removes the subscription and closes the channel;
// calling it more than once is safe.
func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	return b.subscribe(make(chan T, DefaultBuffer), false)
}

// SubscribeLatest registers a subscriber that holds at most one pending
// value. Publishing to it never drops the newest value: an undelivered older
// one is discarded in its place.
func (b *Bus[T]) SubscribeLatest() (<-chan T, func()) {
	return b.subscribe(make(chan T, 1), true)
}

func (b *Bus[T]) subscribe(ch chan T, latest bool) (<-chan T, func()) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = latest
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

// Publish delivers v to all subscribers without blocking.
//
// Publishers are serialized so a latest-value subscriber's replace step
// cannot interleave with another Publish.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch, latest := range b.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		if !latest {
			// slow subscriber, drop
			continue
		}
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

// Len returns the number of active subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later Subscribe calls receive an
// already-closed channel and Publish becomes a no-op.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = make(map[chan T]bool)
}
