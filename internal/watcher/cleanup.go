package watcher

import (
	"os"
	"time"
)

func (watcher *Watcher) cleanupLoop() {
	ticker := time.NewTicker(watcher.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			watcher.cleanup()
		case <-watcher.done:
			return
		}
	}
}

// cleanup releases watches on directories that vanished without a Remove
// event reaching us, for example after a restart raced with a deletion.
func (watcher *Watcher) cleanup() {
	if watcher == nil {
		return
	}
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return
	}
	paths := make([]string, 0, len(watcher.dirRefs))
	for path := range watcher.dirRefs {
		paths = append(paths, path)
	}
	watcher.mutex.Unlock()

	stale := make([]string, 0)
	for _, path := range paths {
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			stale = append(stale, path)
		}
	}
	if len(stale) == 0 {
		return
	}

	watcher.mutex.Lock()
	for _, path := range stale {
		for _, entry := range watcher.registrations {
			if path == entry.root {
				continue
			}
			if err := watcher.dropDirLocked(entry, path); err != nil {
				watcher.logWarn("watch cleanup failed", map[string]string{
					"path":  path,
					"error": err.Error(),
				})
			}
		}
	}
	activeCount := len(watcher.dirRefs)
	watcher.mutex.Unlock()

	for _, path := range stale {
		watcher.logDebug("watch cleaned", path, activeCount)
	}
}
