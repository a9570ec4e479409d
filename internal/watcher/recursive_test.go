package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCollectDirsSkipsNonSourceDirs(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"internal/store", ".git/objects", "testdata/fixtures", "vendor/x", "_scratch"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	dirs, err := collectDirs(root)
	if err != nil {
		t.Fatalf("collect dirs: %v", err)
	}
	want := map[string]bool{
		root:                                     true,
		filepath.Join(root, "internal"):          true,
		filepath.Join(root, "internal", "store"): true,
	}
	if len(dirs) != len(want) {
		t.Fatalf("expected %d dirs, got %v", len(want), dirs)
	}
	for _, dir := range dirs {
		if !want[dir] {
			t.Fatalf("unexpected dir %q", dir)
		}
	}
}

func TestWatcherDeliversNestedEvents(t *testing.T) {
	watcher := newTestWatcher(t, Options{})
	root := t.TempDir()
	nested := filepath.Join(root, "internal", "store")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	events := make(chan Event, 8)
	handle, err := watcher.Watch(root, WatchOptions{}, collect(events))
	if err != nil {
		t.Fatalf("watch root: %v", err)
	}
	defer handle.Close()

	path := filepath.Join(nested, "store.go")
	if err := os.WriteFile(path, []byte("package store\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	event, ok := waitForEvent(events)
	if !ok {
		t.Fatal("timed out waiting for nested event")
	}
	if event.Path != path {
		t.Fatalf("expected %q, got %q", path, event.Path)
	}
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	watcher := newTestWatcher(t, Options{})
	root := t.TempDir()

	events := make(chan Event, 8)
	handle, err := watcher.Watch(root, WatchOptions{}, collect(events))
	if err != nil {
		t.Fatalf("watch root: %v", err)
	}
	defer handle.Close()

	dir := filepath.Join(root, "added")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for watcher.Metrics().ActiveWatches < 2 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for new directory watch")
		}
		time.Sleep(10 * time.Millisecond)
	}

	path := filepath.Join(dir, "added.go")
	if err := os.WriteFile(path, []byte("package added\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	event, ok := waitForEvent(events)
	if !ok {
		t.Fatal("timed out waiting for event in new directory")
	}
	if event.Path != path {
		t.Fatalf("expected %q, got %q", path, event.Path)
	}
}

func TestCleanupDropsVanishedDirectories(t *testing.T) {
	watcher := newTestWatcher(t, Options{})
	root := t.TempDir()
	nested := filepath.Join(root, "gone")
	if err := os.Mkdir(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	handle, err := watcher.Watch(root, WatchOptions{}, func(Event) {})
	if err != nil {
		t.Fatalf("watch root: %v", err)
	}
	defer handle.Close()

	watcher.mutex.Lock()
	source := watcher.watcher
	watcher.watcher = nil
	watcher.mutex.Unlock()
	defer func() {
		watcher.mutex.Lock()
		watcher.watcher = source
		watcher.mutex.Unlock()
	}()

	if err := os.Remove(nested); err != nil {
		t.Fatalf("remove: %v", err)
	}
	watcher.cleanup()
	if got := watcher.Metrics().ActiveWatches; got != 1 {
		t.Fatalf("expected vanished dir released, got %d active", got)
	}
}
