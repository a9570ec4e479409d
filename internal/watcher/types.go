package watcher

import (
	"sync"
	"time"

	"hotlib/internal/logging"
	"hotlib/internal/metrics"

	"github.com/fsnotify/fsnotify"
)

// Event represents a single filesystem change below a registered root.
type Event struct {
	Root      string
	Path      string
	Op        fsnotify.Op
	Timestamp time.Time
}

// Handle releases watcher resources for a registration.
type Handle interface {
	Close() error
}

// Watch registers a callback for filesystem events below root.
type Watch interface {
	Watch(root string, options WatchOptions, callback func(Event)) (Handle, error)
}

// WatchOptions configures one registration.
type WatchOptions struct {
	Filter Filter
	// OnError receives failures that end this registration, such as the root
	// directory being removed.
	OnError func(error)
}

// Options controls watcher behavior.
type Options struct {
	Logger          *logging.Logger
	Metrics         *metrics.Registry
	MaxWatches      int
	CleanupInterval time.Duration
	ErrorHandler    func(error)
}

// Metrics is a point-in-time snapshot of watcher counters.
type Metrics struct {
	ActiveWatches   int
	Registrations   int
	EventsDelivered uint64
	EventsFiltered  uint64
	Errors          uint64
	RestartAttempts int
}

type registration struct {
	id       uint64
	root     string
	options  WatchOptions
	callback func(Event)
	dirs     map[string]struct{}
	failed   bool
}

// Watcher is the concrete fsnotify-backed implementation.
type Watcher struct {
	watcher         *fsnotify.Watcher
	mutex           sync.Mutex
	registrations   map[uint64]*registration
	dirRefs         map[string]int
	events          chan fsnotify.Event
	errors          chan error
	done            chan struct{}
	closed          bool
	logger          *logging.Logger
	metrics         *metrics.Registry
	maxWatches      int
	cleanupInterval time.Duration
	errorHandler    func(error)
	nextID          uint64

	restartMutex    sync.Mutex
	restartTimer    *time.Timer
	restartAttempts int

	eventsDelivered uint64
	eventsFiltered  uint64
	errorCount      uint64
}
