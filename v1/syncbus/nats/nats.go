package nats

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"

	"github.com/teamlock-io/teamlock/v1/syncbus"
)

type natsSubscription struct {
	sub   *nats.Subscription
	chans []chan syncbus.Event
}

// NATSBus implements syncbus.Bus on a NATS connection. Published messages
// carry a unique id so redeliveries after a reconnect are dropped.
type NATSBus struct {
	conn      *nats.Conn
	mu        sync.Mutex
	subs      map[string]*natsSubscription
	stops     map[chan syncbus.Event]chan struct{}
	pending   map[string]struct{}
	processed map[string]struct{}
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{
		conn:      conn,
		subs:      make(map[string]*natsSubscription),
		stops:     make(map[chan syncbus.Event]chan struct{}),
		pending:   make(map[string]struct{}),
		processed: make(map[string]struct{}),
	}
}

// Publish implements Bus.Publish. It retries with backoff until the
// message is out or ctx is canceled.
func (b *NATSBus) Publish(ctx context.Context, key string) error {
	b.mu.Lock()
	if _, ok := b.pending[key]; ok {
		b.mu.Unlock()
		return nil // deduplicate
	}
	b.pending[key] = struct{}{}
	b.mu.Unlock()

	id := uuid.NewString()
	backoff := 100 * time.Millisecond
	var err error
	for {
		err = b.conn.Publish(key, []byte(id))
		if err == nil {
			b.published.Add(1)
			break
		}
		_ = b.reconnect()
		select {
		case <-ctx.Done():
			b.mu.Lock()
			delete(b.pending, key)
			b.mu.Unlock()
			return ctx.Err()
		default:
		}
		jitter := time.Duration(rand.Int63n(int64(backoff)))
		time.Sleep(backoff + jitter)
		if backoff < time.Second {
			backoff *= 2
			if backoff > time.Second {
				backoff = time.Second
			}
		}
	}

	time.AfterFunc(time.Millisecond, func() {
		b.mu.Lock()
		delete(b.pending, key)
		b.mu.Unlock()
	})
	return err
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context, key string) (<-chan syncbus.Event, error) {
	ch := make(chan syncbus.Event, 1)
	backoff := 100 * time.Millisecond

	for {
		b.mu.Lock()
		sub := b.subs[key]
		if sub != nil {
			sub.chans = append(sub.chans, ch)
			b.mu.Unlock()
			break
		}
		b.mu.Unlock()
		ns, err := b.conn.Subscribe(key, b.handler(key))
		if err == nil {
			b.mu.Lock()
			b.subs[key] = &natsSubscription{sub: ns, chans: []chan syncbus.Event{ch}}
			b.mu.Unlock()
			break
		}
		_ = b.reconnect()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		jitter := time.Duration(rand.Int63n(int64(backoff)))
		time.Sleep(backoff + jitter)
		if backoff < time.Second {
			backoff *= 2
			if backoff > time.Second {
				backoff = time.Second
			}
		}
	}

	stop := make(chan struct{})
	b.mu.Lock()
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
func (b *NATSBus) Unsubscribe(ctx context.Context, key string, ch <-chan syncbus.Event) error {
	b.mu.Lock()
	sub := b.subs[key]
	if sub == nil {
		b.mu.Unlock()
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
		b.mu.Unlock()
		return sub.sub.Unsubscribe()
	}
	b.mu.Unlock()
	return nil
}

// Metrics returns the published and delivered counts.
func (b *NATSBus) Metrics() syncbus.Metrics {
	return syncbus.Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}

func (b *NATSBus) handler(key string) nats.MsgHandler {
	return func(m *nats.Msg) {
		id := string(m.Data)
		b.mu.Lock()
		if _, ok := b.processed[id]; ok {
			b.mu.Unlock()
			return
		}
		b.processed[id] = struct{}{}
		sub := b.subs[key]
		if sub == nil {
			b.mu.Unlock()
			return
		}
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

func (b *NATSBus) reconnect() error {
	if b.conn != nil && b.conn.IsConnected() {
		return nil
	}
	newConn, err := b.conn.Opts.Connect()
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.conn = newConn
	for key, sub := range b.subs {
		ns, err := b.conn.Subscribe(key, b.handler(key))
		if err != nil {
			continue
		}
		sub.sub = ns
	}
	b.mu.Unlock()
	return nil
}
