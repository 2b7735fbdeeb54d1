package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	received := []Event{}

	unsub := bus.Subscribe(EventCommandStatusChanged, func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})
	defer unsub()

	bus.Publish(EventCommandStatusChanged, map[string]interface{}{
		"command_id": "cmd_123",
		"status":     "inProgress",
	})

	// Wait for async delivery
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}

	if received[0].Type != EventCommandStatusChanged {
		t.Errorf("expected type %s, got %s", EventCommandStatusChanged, received[0].Type)
	}

	if id, ok := received[0].Data["command_id"].(string); !ok || id != "cmd_123" {
		t.Errorf("expected command_id cmd_123, got %v", received[0].Data["command_id"])
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu1, mu2 sync.Mutex
	received1 := []Event{}
	received2 := []Event{}

	unsub1 := bus.Subscribe(EventStateChanged, func(e Event) {
		mu1.Lock()
		received1 = append(received1, e)
		mu1.Unlock()
	})
	defer unsub1()

	unsub2 := bus.Subscribe(EventStateChanged, func(e Event) {
		mu2.Lock()
		received2 = append(received2, e)
		mu2.Unlock()
	})
	defer unsub2()

	bus.Publish(EventStateChanged, map[string]interface{}{
		"property": "lock.lockedState",
	})

	time.Sleep(50 * time.Millisecond)

	mu1.Lock()
	count1 := len(received1)
	mu1.Unlock()

	mu2.Lock()
	count2 := len(received2)
	mu2.Unlock()

	if count1 != 1 {
		t.Errorf("subscriber 1 expected 1 event, got %d", count1)
	}
	if count2 != 1 {
		t.Errorf("subscriber 2 expected 1 event, got %d", count2)
	}
}

func TestBus_NonBlocking(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	// Subscribe with slow consumer
	unsub := bus.Subscribe(EventCommandAdded, func(e Event) {
		time.Sleep(100 * time.Millisecond)
	})
	defer unsub()

	// Publishing more events than the buffer holds must not block
	start := time.Now()
	for i := 0; i < 10; i++ {
		bus.Publish(EventCommandAdded, map[string]interface{}{"i": i})
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("publish blocked for %v", elapsed)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	count := 0

	unsub := bus.Subscribe(EventCommandRemoved, func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(EventCommandRemoved, nil)
	time.Sleep(50 * time.Millisecond)

	unsub()

	bus.Publish(EventCommandRemoved, nil)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected 1 event after unsubscribe, got %d", count)
	}
}

func TestBus_PanicRecovery(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	delivered := 0

	unsub := bus.Subscribe(EventDefinitionsReloaded, func(e Event) {
		mu.Lock()
		delivered++
		mu.Unlock()
		panic("subscriber failure")
	})
	defer unsub()

	bus.Publish(EventDefinitionsReloaded, nil)
	bus.Publish(EventDefinitionsReloaded, nil)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if delivered != 2 {
		t.Errorf("expected delivery to continue after panic, got %d", delivered)
	}
}

func TestBus_EventTypes(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	received := map[EventType]int{}

	for _, et := range []EventType{EventCommandAdded, EventStateChanged, EventCloudConnection} {
		et := et
		unsub := bus.Subscribe(et, func(e Event) {
			mu.Lock()
			received[et]++
			mu.Unlock()
		})
		defer unsub()
	}

	bus.Publish(EventCommandAdded, nil)
	bus.Publish(EventCloudConnection, nil)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if received[EventCommandAdded] != 1 || received[EventCloudConnection] != 1 {
		t.Errorf("unexpected counts: %v", received)
	}
	if received[EventStateChanged] != 0 {
		t.Errorf("state subscriber should not receive command events")
	}
}
