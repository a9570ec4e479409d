package event

import (
	"sync"
	"testing"
	"time"
)

// EventCollector stores events received from callbacks or subscriptions.
type EventCollector[T any] struct {
	mu     sync.Mutex
	events []T
	notify chan struct{}
}

func NewEventCollector[T any]() *EventCollector[T] {
	return &EventCollector[T]{notify: make(chan struct{}, 1)}
}

func (collector *EventCollector[T]) Collect(event T) {
	if collector == nil {
		return
	}
	collector.mu.Lock()
	collector.events = append(collector.events, event)
	collector.mu.Unlock()
	select {
	case collector.notify <- struct{}{}:
	default:
	}
}

// Drain collects from ch until it closes. Run it in its own goroutine.
func (collector *EventCollector[T]) Drain(ch <-chan T) {
	for event := range ch {
		collector.Collect(event)
	}
}

func (collector *EventCollector[T]) Events() []T {
	if collector == nil {
		return nil
	}
	collector.mu.Lock()
	defer collector.mu.Unlock()
	copyEvents := make([]T, len(collector.events))
	copy(copyEvents, collector.events)
	return copyEvents
}

// WaitFor blocks until predicate holds over the collected events or the
// timeout expires, failing the test on timeout.
func (collector *EventCollector[T]) WaitFor(t *testing.T, timeout time.Duration, predicate func([]T) bool) []T {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		events := collector.Events()
		if predicate(events) {
			return events
		}
		select {
		case <-collector.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline.C:
			t.Fatalf("timed out after %s; collected %d events", timeout, len(collector.Events()))
			return nil
		}
	}
}

// ReceiveWithTimeout waits for a single event or fails the test.
func ReceiveWithTimeout[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case event, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return event
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for event after %s", timeout)
	}
	var zero T
	return zero
}

// WaitForMatch reads from ch until predicate accepts an event or timeout
// elapses.
func WaitForMatch[T any](t *testing.T, ch <-chan T, timeout time.Duration, predicate func(T) bool) T {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				t.Fatal("event channel closed")
			}
			if predicate(event) {
				return event
			}
		case <-deadline.C:
			t.Fatalf("timed out after %s waiting for matching event", timeout)
			var zero T
			return zero
		}
	}
}

// ExpectNone fails the test if ch delivers an event within window.
func ExpectNone[T any](t *testing.T, ch <-chan T, window time.Duration) {
	t.Helper()
	select {
	case event, ok := <-ch:
		if ok {
			t.Fatalf("expected no event, got %+v", event)
		}
	case <-time.After(window):
	}
}

// EventMatcher provides fluent assertions over event properties.
type EventMatcher[T any] struct {
	testing *testing.T
	event   T
}

func MatchEvent[T any](t *testing.T, event T) *EventMatcher[T] {
	if t != nil {
		t.Helper()
	}
	return &EventMatcher[T]{testing: t, event: event}
}

func (matcher *EventMatcher[T]) Require(message string, predicate func(T) bool) *EventMatcher[T] {
	if matcher == nil || matcher.testing == nil {
		return matcher
	}
	matcher.testing.Helper()
	if !predicate(matcher.event) {
		matcher.testing.Fatalf("%s: %+v", message, matcher.event)
	}
	return matcher
}

func (matcher *EventMatcher[T]) Event() T {
	if matcher == nil {
		var zero T
		return zero
	}
	return matcher.event
}
