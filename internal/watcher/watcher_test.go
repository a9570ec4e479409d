package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T, options Options) *Watcher {
	t.Helper()
	watcher, err := NewWithOptions(options)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() {
		_ = watcher.Close()
	})
	return watcher
}

func collect(events chan Event) func(Event) {
	return func(event Event) {
		select {
		case events <- event:
		default:
		}
	}
}

func TestWatcherDispatchesWriteEvent(t *testing.T) {
	watcher := newTestWatcher(t, Options{})
	root := t.TempDir()
	path := filepath.Join(root, "main.go")
	if err := os.WriteFile(path, []byte("package main\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	events := make(chan Event, 8)
	handle, err := watcher.Watch(root, WatchOptions{}, collect(events))
	if err != nil {
		t.Fatalf("watch root: %v", err)
	}
	defer handle.Close()

	if err := os.WriteFile(path, []byte("package main\n\nfunc main() {}\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	event, ok := waitForEvent(events)
	if !ok {
		t.Fatal("timed out waiting for write event")
	}
	if event.Path != path {
		t.Fatalf("expected path %q, got %q", path, event.Path)
	}
	if event.Root != root {
		t.Fatalf("expected root %q, got %q", root, event.Root)
	}
}

func TestWatcherFiltersIrrelevantFiles(t *testing.T) {
	watcher := newTestWatcher(t, Options{})
	root := t.TempDir()

	events := make(chan Event, 8)
	handle, err := watcher.Watch(root, WatchOptions{}, collect(events))
	if err != nil {
		t.Fatalf("watch root: %v", err)
	}
	defer handle.Close()

	for _, name := range []string{"notes.txt", ".main.go.swp", "main.go~"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if event, ok := waitForEventWithin(events, 200*time.Millisecond); ok {
		t.Fatalf("unexpected event for %q", event.Path)
	}
	if watcher.Metrics().EventsFiltered == 0 {
		t.Fatalf("expected filtered events to be counted")
	}
}

func TestWatcherCloseHandleStopsDelivery(t *testing.T) {
	watcher := newTestWatcher(t, Options{})
	root := t.TempDir()

	events := make(chan Event, 8)
	handle, err := watcher.Watch(root, WatchOptions{}, collect(events))
	if err != nil {
		t.Fatalf("watch root: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("close handle: %v", err)
	}
	if got := watcher.Metrics().ActiveWatches; got != 0 {
		t.Fatalf("expected no active watches, got %d", got)
	}

	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, ok := waitForEventWithin(events, 200*time.Millisecond); ok {
		t.Fatalf("unexpected event after close")
	}
}

func TestWatcherReportsRemovedRoot(t *testing.T) {
	watcher := newTestWatcher(t, Options{})
	parent := t.TempDir()
	root := filepath.Join(parent, "pkg")
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	failures := make(chan error, 1)
	handle, err := watcher.Watch(root, WatchOptions{OnError: func(err error) {
		select {
		case failures <- err:
		default:
		}
	}}, func(Event) {})
	if err != nil {
		t.Fatalf("watch root: %v", err)
	}
	defer handle.Close()

	if err := os.RemoveAll(root); err != nil {
		t.Fatalf("remove root: %v", err)
	}

	select {
	case err := <-failures:
		if !errors.Is(err, ErrRootRemoved) {
			t.Fatalf("expected ErrRootRemoved, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for root removal error")
	}
}

func TestWatcherSharesDirectoryWatches(t *testing.T) {
	watcher := newTestWatcher(t, Options{})
	root := t.TempDir()

	first, err := watcher.Watch(root, WatchOptions{}, func(Event) {})
	if err != nil {
		t.Fatalf("watch root: %v", err)
	}
	second, err := watcher.Watch(root, WatchOptions{}, func(Event) {})
	if err != nil {
		t.Fatalf("watch root again: %v", err)
	}

	metrics := watcher.Metrics()
	if metrics.ActiveWatches != 1 || metrics.Registrations != 2 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
	_ = first.Close()
	if got := watcher.Metrics().ActiveWatches; got != 1 {
		t.Fatalf("expected shared watch to survive, got %d", got)
	}
	_ = second.Close()
	if got := watcher.Metrics().ActiveWatches; got != 0 {
		t.Fatalf("expected watches released, got %d", got)
	}
}

func TestWatcherMaxWatches(t *testing.T) {
	watcher := newTestWatcher(t, Options{MaxWatches: 1})
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, err := watcher.Watch(root, WatchOptions{}, func(Event) {})
	if !errors.Is(err, ErrMaxWatchesExceeded) {
		t.Fatalf("expected ErrMaxWatchesExceeded, got %v", err)
	}
	if !IsExhausted(err) {
		t.Fatalf("expected exhaustion to be recognized")
	}
	if got := watcher.Metrics().ActiveWatches; got != 0 {
		t.Fatalf("expected partial registration rolled back, got %d", got)
	}
}

func TestWatcherRejectsClosed(t *testing.T) {
	watcher := newTestWatcher(t, Options{})
	_ = watcher.Close()
	if _, err := watcher.Watch(t.TempDir(), WatchOptions{}, func(Event) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func waitForEvent(events <-chan Event) (Event, bool) {
	return waitForEventWithin(events, 2*time.Second)
}

func waitForEventWithin(events <-chan Event, timeout time.Duration) (Event, bool) {
	select {
	case event := <-events:
		return event, true
	case <-time.After(timeout):
		return Event{}, false
	}
}
