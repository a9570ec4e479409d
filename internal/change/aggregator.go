// Package change debounces filesystem events into per-package change signals.
package change

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"hotlib/internal/logging"
	"hotlib/internal/metrics"
	"hotlib/internal/reload"
	"hotlib/internal/watcher"

	"github.com/benbjohnson/clock"
)

const DefaultQuietPeriod = 100 * time.Millisecond

// Sink receives one signal per quiet period that saw at least one event.
type Sink func(reload.ChangeSignal)

type Options struct {
	Clock   clock.Clock
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

// Aggregator holds a pending-change state per registered package. Each event
// pushes the package's deadline out by its quiet period; the sink is called
// once the deadline passes undisturbed.
type Aggregator struct {
	mu       sync.Mutex
	clock    clock.Clock
	sink     Sink
	logger   *logging.Logger
	metrics  *metrics.Registry
	packages map[string]*pending
	closed   bool
}

type pending struct {
	pkg   reload.Package
	quiet time.Duration
	paths map[string]struct{}
	timer *clock.Timer
	seq   uint64
}

func New(sink Sink, options Options) *Aggregator {
	clk := options.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Aggregator{
		clock:    clk,
		sink:     sink,
		logger:   logger.Component("change"),
		metrics:  options.Metrics,
		packages: make(map[string]*pending),
	}
}

// Register starts tracking pkg. A non-positive quiet period selects
// DefaultQuietPeriod. Registering again updates the quiet period.
func (a *Aggregator) Register(pkg reload.Package, quiet time.Duration) error {
	if a == nil {
		return errors.New("aggregator is nil")
	}
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return reload.ErrClosed
	}
	if state, ok := a.packages[pkg.ID]; ok {
		state.quiet = quiet
		return nil
	}
	a.packages[pkg.ID] = &pending{pkg: pkg, quiet: quiet}
	return nil
}

// Unregister forgets pkg and drops any pending deadline without signalling.
func (a *Aggregator) Unregister(id string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.packages[id]
	if !ok {
		return
	}
	state.stop()
	delete(a.packages, id)
}

// Observe records event for the package registered under id. It reports
// false when the package is unknown or the aggregator is closed.
func (a *Aggregator) Observe(id string, event watcher.Event) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	state, ok := a.packages[id]
	if !ok {
		return false
	}
	if state.paths == nil {
		state.paths = make(map[string]struct{})
	}
	if event.Path != "" {
		state.paths[event.Path] = struct{}{}
	}
	state.stop()
	state.seq++
	seq := state.seq
	state.timer = a.clock.AfterFunc(state.quiet, func() {
		a.fire(id, seq)
	})
	return true
}

// Flush emits the pending signal for id immediately. It reports whether a
// signal was emitted.
func (a *Aggregator) Flush(id string) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	state, ok := a.packages[id]
	if !ok || a.closed || state.paths == nil {
		a.mu.Unlock()
		return false
	}
	signal := a.takeLocked(state)
	a.mu.Unlock()
	a.emit(signal)
	return true
}

// Pending reports whether id has unsignalled changes.
func (a *Aggregator) Pending(id string) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.packages[id]
	return ok && state.paths != nil
}

// Close stops every timer. Pending changes are discarded.
func (a *Aggregator) Close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for id, state := range a.packages {
		state.stop()
		delete(a.packages, id)
	}
}

func (a *Aggregator) fire(id string, seq uint64) {
	a.mu.Lock()
	state, ok := a.packages[id]
	if a.closed || !ok || state.seq != seq || state.paths == nil {
		a.mu.Unlock()
		return
	}
	signal := a.takeLocked(state)
	a.mu.Unlock()
	a.emit(signal)
}

func (a *Aggregator) takeLocked(state *pending) reload.ChangeSignal {
	state.stop()
	state.seq++
	paths := make([]string, 0, len(state.paths))
	for path := range state.paths {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	state.paths = nil
	return reload.ChangeSignal{Package: state.pkg, Paths: paths, At: a.clock.Now()}
}

func (a *Aggregator) emit(signal reload.ChangeSignal) {
	a.metrics.IncChangeSignal(signal.Package.Name)
	a.logger.Debug("change signal", map[string]string{
		logging.FieldPackage: signal.Package.Name,
		"paths":              strconv.Itoa(len(signal.Paths)),
	})
	if a.sink != nil {
		a.sink(signal)
	}
}

func (state *pending) stop() {
	if state.timer != nil {
		state.timer.Stop()
		state.timer = nil
	}
}
