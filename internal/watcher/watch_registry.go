package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

type watchHandle struct {
	watcher *Watcher
	id      uint64
	once    sync.Once
}

func (handle *watchHandle) Close() error {
	if handle == nil || handle.watcher == nil {
		return nil
	}
	var err error
	handle.once.Do(func() {
		err = handle.watcher.unregister(handle.id)
	})
	return err
}

// Watch registers callback for filtered changes anywhere below root.
func (watcher *Watcher) Watch(root string, options WatchOptions, callback func(Event)) (Handle, error) {
	if watcher == nil {
		return nil, errors.New("watcher is nil")
	}
	if root == "" {
		return nil, errors.New("root is required")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	dirs, err := collectDirs(root)
	if err != nil {
		return nil, err
	}

	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	if watcher.closed {
		return nil, ErrClosed
	}

	watcher.nextID++
	entry := &registration{
		id:       watcher.nextID,
		root:     root,
		options:  options,
		callback: callback,
		dirs:     make(map[string]struct{}, len(dirs)),
	}
	for _, dir := range dirs {
		if err := watcher.addDirLocked(entry, dir); err != nil {
			watcher.releaseDirsLocked(entry)
			return nil, err
		}
	}
	watcher.registrations[entry.id] = entry
	return &watchHandle{watcher: watcher, id: entry.id}, nil
}

func (watcher *Watcher) unregister(id uint64) error {
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	entry, ok := watcher.registrations[id]
	if !ok {
		return nil
	}
	delete(watcher.registrations, id)
	return watcher.releaseDirsLocked(entry)
}

// addDirLocked adds dir to entry, sharing the fsnotify watch with any other
// registration that already covers it.
func (watcher *Watcher) addDirLocked(entry *registration, dir string) error {
	if _, ok := entry.dirs[dir]; ok {
		return nil
	}
	if watcher.dirRefs[dir] == 0 {
		if len(watcher.dirRefs) >= watcher.maxWatches {
			return ErrMaxWatchesExceeded
		}
		if watcher.watcher != nil {
			if err := watcher.watcher.Add(dir); err != nil {
				watcher.logWarn("watch add failed", map[string]string{
					"path":  dir,
					"error": err.Error(),
				})
				return err
			}
		}
		watcher.dirRefs[dir] = 0
		watcher.logDebug("watch added", dir, len(watcher.dirRefs))
	}
	watcher.dirRefs[dir]++
	entry.dirs[dir] = struct{}{}
	return nil
}

func (watcher *Watcher) dropDirLocked(entry *registration, dir string) error {
	if _, ok := entry.dirs[dir]; !ok {
		return nil
	}
	delete(entry.dirs, dir)
	count := watcher.dirRefs[dir]
	if count > 1 {
		watcher.dirRefs[dir] = count - 1
		return nil
	}
	delete(watcher.dirRefs, dir)
	if watcher.watcher == nil {
		return nil
	}
	if err := watcher.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return err
	}
	watcher.logDebug("watch removed", dir, len(watcher.dirRefs))
	return nil
}

func (watcher *Watcher) releaseDirsLocked(entry *registration) error {
	var errs []error
	for dir := range entry.dirs {
		if err := watcher.dropDirLocked(entry, dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type delivery struct {
	callback func(Event)
	event    Event
}

type failure struct {
	onError func(error)
	err     error
}

func (watcher *Watcher) handleEvent(raw fsnotify.Event) {
	if raw.Name == "" {
		return
	}
	path := filepath.Clean(raw.Name)
	now := time.Now()

	var isDir bool
	if raw.Has(fsnotify.Create) {
		if info, err := os.Lstat(path); err == nil && info.IsDir() {
			isDir = true
		}
	}
	var newDirs []string
	if isDir && !skipDir(filepath.Base(path)) {
		collected, err := collectDirs(path)
		if err == nil {
			newDirs = collected
		}
	}

	var deliveries []delivery
	var failures []failure

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return
	}
	for _, entry := range watcher.registrations {
		if entry.failed || !isWithinPath(entry.root, path) {
			continue
		}
		gone := raw.Has(fsnotify.Remove) || raw.Has(fsnotify.Rename)
		if gone && path == entry.root {
			entry.failed = true
			_ = watcher.releaseDirsLocked(entry)
			failures = append(failures, failure{
				onError: entry.options.OnError,
				err:     fmt.Errorf("%s: %w", entry.root, ErrRootRemoved),
			})
			continue
		}
		if gone {
			if _, ok := entry.dirs[path]; ok {
				for dir := range entry.dirs {
					if isWithinPath(path, dir) {
						_ = watcher.dropDirLocked(entry, dir)
					}
				}
			}
		}
		if len(newDirs) > 0 && !underSkippedDir(entry.root, path) {
			for _, dir := range newDirs {
				if err := watcher.addDirLocked(entry, dir); err != nil {
					failures = append(failures, failure{
						onError: entry.options.OnError,
						err:     fmt.Errorf("watch %s: %w", dir, err),
					})
					break
				}
			}
		}
		if isDir {
			continue
		}
		if !entry.options.Filter.Match(path) {
			atomic.AddUint64(&watcher.eventsFiltered, 1)
			continue
		}
		deliveries = append(deliveries, delivery{
			callback: entry.callback,
			event:    Event{Root: entry.root, Path: path, Op: raw.Op, Timestamp: now},
		})
	}
	watcher.mutex.Unlock()

	for _, item := range failures {
		atomic.AddUint64(&watcher.errorCount, 1)
		watcher.metrics.IncWatchError()
		watcher.logWarn("watch registration error", map[string]string{
			"error": item.err.Error(),
		})
		if item.onError != nil {
			item.onError(item.err)
		}
	}
	for _, item := range deliveries {
		atomic.AddUint64(&watcher.eventsDelivered, 1)
		watcher.metrics.IncWatchEvent()
		item.callback(item.event)
	}
}

// underSkippedDir reports whether any directory between root and path is one
// that collectDirs would not descend into.
func underSkippedDir(root, path string) bool {
	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		if skipDir(part) {
			return true
		}
	}
	return false
}

func isWithinPath(parent, child string) bool {
	parentPath := filepath.Clean(parent)
	childPath := filepath.Clean(child)
	rel, err := filepath.Rel(parentPath, childPath)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	return true
}
