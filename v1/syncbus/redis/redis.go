package redis

import (
	"context"
	"sync"
	"sync/atomic"

	redis "github.com/redis/go-redis/v9"

	tlerrors "github.com/teamlock-io/teamlock/v1/errors"
	"github.com/teamlock-io/teamlock/v1/syncbus"
)

type redisSubscription struct {
	pubsub *redis.PubSub
	chans  []chan syncbus.Event
}

// RedisBus implements syncbus.Bus on Redis pub/sub. Unlock events are
// single-key and latency-sensitive, so messages are forwarded one channel
// per key without batching.
type RedisBus struct {
	client *redis.Client

	mu        sync.Mutex
	closed    bool
	subs      map[string]*redisSubscription
	stops     map[chan syncbus.Event]chan struct{}
	pending   map[string]struct{}
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewRedisBus returns a new RedisBus using the provided client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{
		client:  client,
		subs:    make(map[string]*redisSubscription),
		stops:   make(map[chan syncbus.Event]chan struct{}),
		pending: make(map[string]struct{}),
	}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, key string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return tlerrors.ErrClosed
	}
	if _, ok := b.pending[key]; ok {
		b.mu.Unlock()
		return nil // deduplicate
	}
	b.pending[key] = struct{}{}
	b.mu.Unlock()

	err := b.client.Publish(ctx, key, "1").Err()

	b.mu.Lock()
	delete(b.pending, key)
	b.mu.Unlock()

	if err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *RedisBus) Subscribe(ctx context.Context, key string) (<-chan syncbus.Event, error) {
	ch := make(chan syncbus.Event, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, tlerrors.ErrClosed
	}

	sub := b.subs[key]
	if sub == nil {
		ps := b.client.Subscribe(ctx, key)
		if _, err := ps.Receive(ctx); err != nil {
			return nil, err
		}
		sub = &redisSubscription{pubsub: ps, chans: []chan syncbus.Event{ch}}
		b.subs[key] = sub
		go b.dispatch(key, sub)
	} else {
		sub.chans = append(sub.chans, ch)
	}
	stop := make(chan struct{})
	b.stops[ch] = stop

	go func() {
		select {
		case <-ctx.Done():
			_ = b.Unsubscribe(context.Background(), key, ch)
		case <-stop:
		}
	}()
	return ch, nil
}

func (b *RedisBus) dispatch(key string, sub *redisSubscription) {
	ch := sub.pubsub.Channel()
	for range ch { // terminates when the pubsub is closed
		b.mu.Lock()
		chans := append([]chan syncbus.Event(nil), sub.chans...)
		b.mu.Unlock()

		evt := syncbus.Event{Key: key}
		for _, c := range chans {
			select {
			case c <- evt:
				b.delivered.Add(1)
			default:
			}
		}
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *RedisBus) Unsubscribe(ctx context.Context, key string, ch <-chan syncbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.subs[key]
	if sub == nil {
		return nil
	}
	for i, c := range sub.chans {
		if c == ch {
			sub.chans[i] = sub.chans[len(sub.chans)-1]
			sub.chans = sub.chans[:len(sub.chans)-1]
			close(c)
			if stop, ok := b.stops[c]; ok {
				close(stop)
				delete(b.stops, c)
			}
			break
		}
	}
	if len(sub.chans) == 0 {
		delete(b.subs, key)
		if sub.pubsub != nil {
			return sub.pubsub.Close()
		}
	}
	return nil
}

// Metrics returns the published and delivered counts.
func (b *RedisBus) Metrics() syncbus.Metrics {
	return syncbus.Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}

// Close tears down every active subscription.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	var err error
	for _, stop := range b.stops {
		close(stop)
	}
	b.stops = make(map[chan syncbus.Event]chan struct{})
	for key, sub := range b.subs {
		for _, c := range sub.chans {
			close(c)
		}
		if sub.pubsub != nil {
			if cerr := sub.pubsub.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		delete(b.subs, key)
	}
	return err
}
