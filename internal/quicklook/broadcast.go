package quicklook

import "sync"

// DefaultSubscriberBuffer is the per-subscriber buffer depth used when no
// override is configured.
const DefaultSubscriberBuffer = 64

// Subscription is a scoped handle onto a BroadcastQueue. Its lifetime is the
// subscription: values arrive on C() in publish order until Close is called
// or the queue drops it for a full buffer.
type Subscription[T any] struct {
	ch      chan T
	once    sync.Once
	onClose func()
}

// C returns the channel values are delivered on. It is closed when the
// subscription ends, whether by explicit Close or by the queue dropping a
// slow subscriber.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close unsubscribes and releases the handle. Safe to call more than once
// and safe to call concurrently with delivery.
func (s *Subscription[T]) Close() {
	s.close()
}

func (s *Subscription[T]) close() {
	s.once.Do(func() {
		close(s.ch)

		if s.onClose != nil {
			s.onClose()
		}
	})
}

// BroadcastQueue is a one-producer/many-consumer fan-out channel (C1).
// Publish never blocks: a subscriber whose buffer is full is dropped rather
// than slowing down the producer, since subscribers here are frontends that
// can reconnect and receive a fresh replay.
type BroadcastQueue[T any] struct {
	mu          sync.Mutex
	bufferSize  int
	subscribers map[*Subscription[T]]struct{}
}

// NewBroadcastQueue creates a queue whose subscriber channels are buffered
// to bufferSize entries.
func NewBroadcastQueue[T any](bufferSize int) *BroadcastQueue[T] {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}

	return &BroadcastQueue[T]{
		bufferSize:  bufferSize,
		subscribers: make(map[*Subscription[T]]struct{}),
	}
}

// Subscribe registers a new subscriber and delivers replay (if any) before
// returning, so the caller can hand the subscriber a consistent
// snapshot-then-live-tail view. If replay overflows the buffer the
// subscription is dropped immediately, consistent with the overflow policy.
func (b *BroadcastQueue[T]) Subscribe(replay []T) *Subscription[T] {
	sub := &Subscription[T]{ch: make(chan T, b.bufferSize)}

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	sub.onClose = func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}

	for _, v := range replay {
		select {
		case sub.ch <- v:
		default:
			sub.close()

			return sub
		}
	}

	return sub
}

// Publish delivers v to every currently-subscribed consumer's buffer. A
// subscriber whose buffer is full is dropped (its connection should
// reconnect and resubscribe for a fresh replay).
func (b *BroadcastQueue[T]) Publish(v T) {
	b.mu.Lock()
	subs := make([]*Subscription[T], 0, len(b.subscribers))

	for sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- v:
		default:
			sub.close()
		}
	}
}

// SubscriberCount reports the number of live subscribers, for metrics.
func (b *BroadcastQueue[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subscribers)
}
