package watchbus

import (
	"context"
	"testing"
	"time"
)

func TestLockEventRoundTrip(t *testing.T) {
	evt := LockEvent{Lock: "all#0", Event: "released", Rank: 0}
	got, ok := DecodeLockEvent(evt.Encode())
	if !ok {
		t.Fatal("encoded event did not decode")
	}
	if got != evt {
		t.Fatalf("round trip changed event: %+v", got)
	}
	if _, ok := DecodeLockEvent([]byte("released")); ok {
		t.Fatal("raw payload decoded as lock event")
	}
}

func TestInMemoryPublishWatch(t *testing.T) {
	bus := NewInMemory()
	ctx := context.Background()
	ch, err := bus.Watch(ctx, "lock:compute#0")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := bus.Publish(ctx, "lock:compute#0", []byte("acquired")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-ch:
		if string(msg) != "acquired" {
			t.Fatalf("unexpected payload %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestInMemoryUnwatchClosesChannel(t *testing.T) {
	bus := NewInMemory()
	ctx := context.Background()
	ch, err := bus.Watch(ctx, "k")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := bus.Unwatch(ctx, "k", ch); err != nil {
		t.Fatalf("unwatch: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed")
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if _, ok := bus.subs["k"]; ok {
		t.Fatal("subscription still present")
	}
}

func TestInMemoryContextCancelUnwatches(t *testing.T) {
	bus := NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Watch(ctx, "k")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for close")
	}
}

func TestInMemorySlowWatcherDropsNotBlocks(t *testing.T) {
	bus := NewInMemory()
	ctx := context.Background()
	ch, err := bus.Watch(ctx, "k")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	done := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			_ = bus.Publish(ctx, "k", []byte("x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow watcher")
	}
	<-ch
}
