package event

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSyncPublishDeliversToAllHandlers(t *testing.T) {
	d := NewDispatcher()
	var got int32
	d.Subscribe(Connected, func(ev Event) { atomic.AddInt32(&got, 1) })
	d.Subscribe(Connected, func(ev Event) { atomic.AddInt32(&got, 1) })
	d.Subscribe(Disconnected, func(ev Event) { atomic.AddInt32(&got, 100) })

	d.Publish(New(Connected, nil))
	if got != 2 {
		t.Fatalf("got %d want 2", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d := NewDispatcher()
	var got int32
	tok := d.Subscribe(Connected, func(ev Event) { atomic.AddInt32(&got, 1) })
	d.Unsubscribe(Connected, tok)
	d.Publish(New(Connected, nil))
	if got != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", got)
	}
}

func TestErrorStrategyIgnoreSwallowsPanic(t *testing.T) {
	d := NewDispatcher(WithErrorStrategy(Ignore))
	var ran int32
	d.Subscribe(Connected, func(ev Event) { panic("boom") })
	d.Subscribe(Connected, func(ev Event) { atomic.AddInt32(&ran, 1) })
	d.Publish(New(Connected, nil))
	if ran != 1 {
		t.Fatalf("expected second handler to still run, ran=%d", ran)
	}
}

func TestErrorStrategyRaisePropagates(t *testing.T) {
	d := NewDispatcher(WithErrorStrategy(Raise))
	d.Subscribe(Connected, func(ev Event) { panic("boom") })

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic to propagate on publishing path")
		}
	}()
	d.Publish(New(Connected, nil))
}

func TestAsyncDispatchDeliversEventually(t *testing.T) {
	d := NewDispatcher(WithAsync(2, 8, DropNew))
	defer d.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	d.Subscribe(HealthCheck, func(ev Event) { wg.Done() })
	d.Publish(New(HealthCheck, map[string]any{"ok": true}))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async handler never ran")
	}
}

func TestAsyncQueueFullDropNewDoesNotBlock(t *testing.T) {
	block := make(chan struct{})
	d := NewDispatcher(WithAsync(1, 1, DropNew))
	defer func() {
		close(block)
		d.Close()
	}()
	d.Subscribe(PoolExhausted, func(ev Event) { <-block })

	// First event occupies the single worker; remaining sends should not
	// block the publisher even though the queue is saturated.
	for i := 0; i < 5; i++ {
		d.Publish(New(PoolExhausted, nil))
	}
}
