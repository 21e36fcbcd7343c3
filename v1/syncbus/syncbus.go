package syncbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Event is a wakeup notification delivered to subscribers of a key.
// Events are hints, not state: a woken waiter must re-check the lock it
// raced for.
type Event struct {
	Key string
}

// Bus provides the pub/sub fabric lock runtimes use to propagate unlock
// and barrier-completion events across team members.
type Bus interface {
	Publish(ctx context.Context, key string) error
	Subscribe(ctx context.Context, key string) (<-chan Event, error)
	Unsubscribe(ctx context.Context, key string, ch <-chan Event) error
}

// InMemoryBus is a local implementation of Bus, used in tests and when
// every team member lives in one process.
type InMemoryBus struct {
	mu        sync.Mutex
	subs      map[string][]chan Event
	stops     map[chan Event]chan struct{}
	pending   map[string]struct{}
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subs:    make(map[string][]chan Event),
		stops:   make(map[chan Event]chan struct{}),
		pending: make(map[string]struct{}),
	}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, key string) error {
	b.mu.Lock()
	if _, ok := b.pending[key]; ok {
		b.mu.Unlock()
		return nil // deduplicate
	}
	b.pending[key] = struct{}{}
	chans := append([]chan Event(nil), b.subs[key]...)
	b.mu.Unlock()

	b.published.Add(1)
	evt := Event{Key: key}
	for _, ch := range chans {
		select {
		case ch <- evt:
			b.delivered.Add(1)
		default:
		}
	}

	b.mu.Lock()
	delete(b.pending, key)
	b.mu.Unlock()
	return nil
}

// Subscribe implements Bus.Subscribe. The subscription ends when ctx is
// canceled or Unsubscribe is called with the returned channel.
func (b *InMemoryBus) Subscribe(ctx context.Context, key string) (<-chan Event, error) {
	ch := make(chan Event, 1)
	stop := make(chan struct{})
	b.mu.Lock()
	b.subs[key] = append(b.subs[key], ch)
	b.stops[ch] = stop
	b.mu.Unlock()
	go func() {
		select {
		case <-ctx.Done():
			_ = b.Unsubscribe(context.Background(), key, ch)
		case <-stop:
		}
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, key string, ch <-chan Event) error {
	b.mu.Lock()
	subs := b.subs[key]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			b.subs[key] = subs
			close(c)
			if stop, ok := b.stops[c]; ok {
				close(stop)
				delete(b.stops, c)
			}
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, key)
	}
	b.mu.Unlock()
	return nil
}

// Metrics reports published and delivered event counts.
type Metrics struct {
	Published uint64
	Delivered uint64
}

func (b *InMemoryBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}
