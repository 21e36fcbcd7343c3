// Package watchbus streams lock holder transitions to observers. The
// mutex publishes a LockEvent per acquired/released transition; HTTP
// handlers in this package relay them to SSE and WebSocket clients.
package watchbus

import (
	"context"
	"encoding/json"
	"sync"
)

// LockEvent is the structured payload published on holder transitions.
type LockEvent struct {
	Lock  string `json:"lock"`
	Event string `json:"event"`
	Rank  int    `json:"rank"`
}

// Encode renders the event in its JSON wire form.
func (e LockEvent) Encode() []byte {
	data, _ := json.Marshal(e)
	return data
}

// DecodeLockEvent parses a published payload. ok is false for payloads
// that are not lock events; the handlers relay those verbatim.
func DecodeLockEvent(data []byte) (LockEvent, bool) {
	var e LockEvent
	if err := json.Unmarshal(data, &e); err != nil || e.Event == "" {
		return LockEvent{}, false
	}
	return e, true
}

// WatchBus delivers payload messages to watchers of a key.
type WatchBus interface {
	// Publish sends data to all watchers of key.
	Publish(ctx context.Context, key string, data []byte) error
	// Watch subscribes to messages for key. The returned channel
	// receives payloads until ctx is canceled or Unwatch is called.
	Watch(ctx context.Context, key string) (chan []byte, error)
	// Unwatch stops delivering messages for key to ch.
	Unwatch(ctx context.Context, key string, ch chan []byte) error
}

// InMemory is an in-process implementation of WatchBus.
type InMemory struct {
	mu    sync.Mutex
	subs  map[string][]chan []byte
	stops map[chan []byte]chan struct{}
}

// NewInMemory creates a new in-memory WatchBus.
func NewInMemory() *InMemory {
	return &InMemory{
		subs:  make(map[string][]chan []byte),
		stops: make(map[chan []byte]chan struct{}),
	}
}

// Publish implements WatchBus.Publish. Slow watchers drop messages
// rather than blocking the lock path.
func (b *InMemory) Publish(ctx context.Context, key string, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	b.mu.Lock()
	chans := append([]chan []byte(nil), b.subs[key]...)
	b.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// Watch implements WatchBus.Watch.
func (b *InMemory) Watch(ctx context.Context, key string) (chan []byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	ch := make(chan []byte, 16)
	stop := make(chan struct{})
	b.mu.Lock()
	b.subs[key] = append(b.subs[key], ch)
	b.stops[ch] = stop
	b.mu.Unlock()
	go func() {
		select {
		case <-ctx.Done():
			_ = b.Unwatch(context.Background(), key, ch)
		case <-stop:
		}
	}()
	return ch, nil
}

// Unwatch implements WatchBus.Unwatch.
func (b *InMemory) Unwatch(ctx context.Context, key string, ch chan []byte) error {
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
