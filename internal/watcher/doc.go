// Package watcher turns fsnotify notifications into per-tree callbacks.
//
// A registration covers a directory tree: every directory below the root is
// added to the underlying fsnotify watcher, new directories are picked up as
// they are created, and events are filtered by file name before delivery.
// Delivery is immediate and best-effort; callers debounce on their side and
// must not assume every intermediate write is reported.
//
// The Watcher survives fsnotify errors by recreating the underlying watcher
// with exponential backoff. When restarts are exhausted, or when the kernel
// refuses more watches, the error handler and the affected registrations'
// OnError callbacks are invoked.
package watcher
