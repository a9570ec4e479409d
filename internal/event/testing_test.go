package event

import (
	"context"
	"testing"
	"time"
)

func TestEventCollectorCollectsEvents(t *testing.T) {
	collector := NewEventCollector[int]()
	collector.Collect(1)
	collector.Collect(2)

	events := collector.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0] != 1 || events[1] != 2 {
		t.Fatalf("unexpected events: %#v", events)
	}
}

func TestEventCollectorDrainsSubscription(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	events, cancel := bus.Subscribe()
	defer cancel()

	collector := NewEventCollector[int]()
	go collector.Drain(events)

	bus.Publish(1)
	bus.Publish(2)
	bus.Publish(3)
	collector.WaitFor(t, time.Second, func(values []int) bool {
		return len(values) == 3
	})
	bus.Close()
}

func TestReceiveWithTimeoutReceivesBusEvent(t *testing.T) {
	bus := NewBus[string](context.Background(), BusOptions{})
	defer bus.Close()

	events, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish("ok")
	received := ReceiveWithTimeout(t, events, 100*time.Millisecond)
	if received != "ok" {
		t.Fatalf("expected ok, got %q", received)
	}
}

func TestWaitForMatchSkipsOthers(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	defer bus.Close()

	events, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(1)
	bus.Publish(4)
	got := WaitForMatch(t, events, time.Second, func(value int) bool { return value%2 == 0 })
	if got != 4 {
		t.Fatalf("expected 4, got %d", got)
	}
	ExpectNone(t, events, 20*time.Millisecond)
}

func TestEventMatcherAppliesPredicates(t *testing.T) {
	value := MatchEvent(t, "alpha").
		Require("expected alpha", func(value string) bool {
			return value == "alpha"
		}).
		Event()
	if value != "alpha" {
		t.Fatalf("unexpected matched value %q", value)
	}
}
