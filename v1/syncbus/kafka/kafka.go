package kafka

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"

	"github.com/teamlock-io/teamlock/v1/syncbus"
)

type kafkaSubscription struct {
	pc    sarama.PartitionConsumer
	chans []chan syncbus.Event
}

// KafkaBus implements syncbus.Bus on Kafka topics. Each event key maps to
// one topic; deliveries ride partition 0 since events are wakeup hints
// with no ordering requirement.
type KafkaBus struct {
	producer  sarama.SyncProducer
	consumer  sarama.Consumer
	mu        sync.Mutex
	subs      map[string]*kafkaSubscription
	stops     map[chan syncbus.Event]chan struct{}
	pending   map[string]struct{}
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewKafkaBus creates a new KafkaBus connecting to the given brokers.
func NewKafkaBus(brokers []string, cfg *sarama.Config) (*KafkaBus, error) {
	if !cfg.Producer.Return.Successes {
		cfg.Producer.Return.Successes = true
	}
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, err
	}
	return &KafkaBus{
		producer: producer,
		consumer: consumer,
		subs:     make(map[string]*kafkaSubscription),
		stops:    make(map[chan syncbus.Event]chan struct{}),
		pending:  make(map[string]struct{}),
	}, nil
}

// Publish implements Bus.Publish.
func (b *KafkaBus) Publish(ctx context.Context, key string) error {
	b.mu.Lock()
	if _, ok := b.pending[key]; ok {
		b.mu.Unlock()
		return nil // deduplicate
	}
	b.pending[key] = struct{}{}
	b.mu.Unlock()

	msg := &sarama.ProducerMessage{Topic: key, Value: sarama.StringEncoder("1")}
	_, _, err := b.producer.SendMessage(msg)

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
func (b *KafkaBus) Subscribe(ctx context.Context, key string) (<-chan syncbus.Event, error) {
	ch := make(chan syncbus.Event, 1)
	b.mu.Lock()
	sub := b.subs[key]
	if sub == nil {
		pc, err := b.consumer.ConsumePartition(key, 0, sarama.OffsetNewest)
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		sub = &kafkaSubscription{pc: pc}
		b.subs[key] = sub
		go b.dispatch(sub, key)
	}
	sub.chans = append(sub.chans, ch)
	stop := make(chan struct{})
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

func (b *KafkaBus) dispatch(sub *kafkaSubscription, key string) {
	for range sub.pc.Messages() {
		b.mu.Lock()
		cur := b.subs[key]
		if cur == nil {
			b.mu.Unlock()
			return
		}
		chans := append([]chan syncbus.Event(nil), cur.chans...)
		b.mu.Unlock()

		evt := syncbus.Event{Key: key}
		for _, ch := range chans {
			select {
			case ch <- evt:
				b.delivered.Add(1)
			default:
			}
		}
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *KafkaBus) Unsubscribe(ctx context.Context, key string, ch <-chan syncbus.Event) error {
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
		return sub.pc.Close()
	}
	b.mu.Unlock()
	return nil
}

// Metrics returns the published and delivered counts.
func (b *KafkaBus) Metrics() syncbus.Metrics {
	return syncbus.Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}

// Close releases resources used by the KafkaBus.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	for _, stop := range b.stops {
		close(stop)
	}
	b.stops = make(map[chan syncbus.Event]chan struct{})
	b.mu.Unlock()
	_ = b.producer.Close()
	_ = b.consumer.Close()
	return nil
}
