package event

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var received Event
	var wg sync.WaitGroup
	wg.Add(1)

	unsub := bus.Subscribe(SessionCreated, func(e Event) {
		received = e
		wg.Done()
	})
	defer unsub()

	bus.Publish(Event{Type: SessionCreated, Data: SessionData{SessionID: "s1"}})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Type != SessionCreated {
			t.Errorf("Expected SessionCreated, got %v", received.Type)
		}
		if received.Data.(SessionData).SessionID != "s1" {
			t.Errorf("Unexpected data: %v", received.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestBus_SubscribeOnlyMatchingType(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	bus.Subscribe(UsageAlert, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.PublishSync(Event{Type: SessionStopped})
	bus.PublishSync(Event{Type: UsageAlert})

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("Expected 1 delivery, got %d", got)
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	bus.SubscribeAll(func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.PublishSync(Event{Type: SessionCreated})
	bus.PublishSync(Event{Type: TurnCompleted})
	bus.PublishSync(Event{Type: UsageAlert})

	if got := atomic.LoadInt32(&count); got != 3 {
		t.Errorf("Expected 3 deliveries, got %d", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	unsub := bus.Subscribe(TurnStarted, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.PublishSync(Event{Type: TurnStarted})
	unsub()
	bus.PublishSync(Event{Type: TurnStarted})

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("Expected 1 delivery after unsubscribe, got %d", got)
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := NewBus()

	var count int32
	bus.Subscribe(TurnStarted, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.Close()
	bus.PublishSync(Event{Type: TurnStarted})

	if got := atomic.LoadInt32(&count); got != 0 {
		t.Errorf("Expected no deliveries after close, got %d", got)
	}
}
