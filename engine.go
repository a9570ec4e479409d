package hotlib

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"hotlib/internal/build"
	"hotlib/internal/change"
	"hotlib/internal/coordinator"
	"hotlib/internal/event"
	"hotlib/internal/generation"
	"hotlib/internal/loader"
	"hotlib/internal/logging"
	"hotlib/internal/metrics"
	"hotlib/internal/process"
	"hotlib/internal/reload"
	"hotlib/internal/watcher"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultHistorySize = 256

type EngineOptions struct {
	Logger  *logging.Logger
	Metrics *metrics.Registry
	Clock   clock.Clock
	// Builder and Loader are used for packages whose Config leaves them
	// unset. Defaults are the go toolchain and the plugin loader.
	Builder    build.Builder
	Loader     loader.Loader
	MaxWatches int
	// HistorySize bounds the events kept for replay to late subscribers.
	HistorySize int
}

// Engine shares one watcher, coordinator and generation registry between
// any number of watched packages.
type Engine struct {
	id      string
	logger  *logging.Logger
	metrics *metrics.Registry
	clock   clock.Clock

	watcher     *watcher.Watcher
	aggregator  *change.Aggregator
	coordinator *coordinator.Coordinator
	registry    *generation.Registry
	builders    *routedBuilder
	processes   *process.Registry

	installed   *event.Bus[reload.GenerationEvent]
	lifecycle   *event.Bus[reload.LifecycleEvent]
	results     *event.Bus[reload.BuildAttempt]
	watchEvents *event.Bus[reload.WatchEvent]

	mu      sync.Mutex
	handles map[string]*Handle
	fatal   error
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewEngine starts an engine with no watched packages.
func NewEngine(options EngineOptions) (*Engine, error) {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	registryMetrics := options.Metrics
	if registryMetrics == nil {
		registryMetrics = metrics.Default
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.New()
	}
	historySize := options.HistorySize
	if historySize <= 0 {
		historySize = defaultHistorySize
	}

	id := uuid.NewString()
	logger = logger.With(map[string]string{"hotlib.engine": id})
	engine := &Engine{
		id:      id,
		logger:  logger.Component("engine"),
		metrics: registryMetrics,
		clock:   clk,
		handles: make(map[string]*Handle),
		done:    make(chan struct{}),
	}

	busOptions := func(name string) event.BusOptions {
		return event.BusOptions{Name: name, Registry: registryMetrics, Logger: logger, HistorySize: historySize}
	}
	ctx := context.Background()
	engine.installed = event.NewBus[reload.GenerationEvent](ctx, busOptions("generations"))
	engine.lifecycle = event.NewBus[reload.LifecycleEvent](ctx, busOptions("lifecycle"))
	engine.results = event.NewBus[reload.BuildAttempt](ctx, busOptions("build_results"))
	engine.watchEvents = event.NewBus[reload.WatchEvent](ctx, busOptions("watch_errors"))

	defaultLoader := options.Loader
	if defaultLoader == nil {
		defaultLoader = loader.NewPluginLoader(true, logger)
	}
	engine.registry = generation.NewRegistry(defaultLoader, generation.Options{
		Logger:    logger,
		Metrics:   registryMetrics,
		Installed: engine.installed,
		Lifecycle: engine.lifecycle,
		Now:       clk.Now,
	})

	engine.processes = process.NewRegistry()
	defaultBuilder := options.Builder
	if defaultBuilder == nil {
		defaultBuilder = build.NewGoBuilder(engine.processes, logger)
	}
	engine.builders = newRoutedBuilder(defaultBuilder)

	coord, err := coordinator.New(coordinator.Options{
		Builder:   engine.builders,
		Installer: engine.registry,
		Results:   engine.results,
		Logger:    logger,
		Metrics:   registryMetrics,
		Clock:     clk,
	})
	if err != nil {
		engine.closeBuses()
		return nil, err
	}
	engine.coordinator = coord

	engine.aggregator = change.New(engine.onChange, change.Options{
		Clock:   clk,
		Logger:  logger,
		Metrics: registryMetrics,
	})

	fsWatcher, err := watcher.NewWithOptions(watcher.Options{
		Logger:       logger,
		Metrics:      registryMetrics,
		MaxWatches:   options.MaxWatches,
		ErrorHandler: engine.onWatcherFailure,
	})
	if err != nil {
		engine.aggregator.Close()
		engine.coordinator.Close()
		engine.closeBuses()
		if watcher.IsExhausted(err) {
			return nil, fmt.Errorf("%w: %v", ErrResourceExhausted, err)
		}
		return nil, err
	}
	engine.watcher = fsWatcher

	installed, cancelInstalled := engine.installed.Subscribe()
	exhausted, cancelExhausted := engine.results.SubscribeFiltered(func(attempt reload.BuildAttempt) bool {
		return attempt.Status == reload.StatusFailed && loader.IsExhausted(attempt.Err)
	})
	engine.wg.Add(1)
	go engine.dispatch(installed, exhausted, func() {
		cancelInstalled()
		cancelExhausted()
	})

	engine.logger.Debug("engine started", nil)
	return engine, nil
}

// ID identifies the engine in logs and status output.
func (e *Engine) ID() string {
	return e.id
}

// Metrics exposes the collectors the engine reports to.
func (e *Engine) Metrics() *metrics.Registry {
	return e.metrics
}

// Watch validates root as a main package, starts watching it and requests
// the first build.
func (e *Engine) Watch(root string, cfg Config) (*Handle, error) {
	pkg, err := reload.NewPackage(root)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if e.fatal != nil {
		err := e.fatal
		e.mu.Unlock()
		return nil, err
	}
	if _, ok := e.handles[pkg.ID]; ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyWatched, pkg.ID)
	}
	logger := e.logger
	if cfg.Logger != nil {
		logger = cfg.Logger
	}
	handle := newHandle(e, pkg, cfg, logger)
	e.handles[pkg.ID] = handle
	e.mu.Unlock()

	if err := e.attach(handle); err != nil {
		e.detach(handle)
		e.mu.Lock()
		delete(e.handles, pkg.ID)
		e.mu.Unlock()
		return nil, err
	}

	epoch, err := e.coordinator.RequestBuild(pkg.ID)
	if err != nil {
		_ = handle.Close()
		return nil, err
	}
	handle.logger.Info("watching package", map[string]string{
		"root":             pkg.Root,
		logging.FieldEpoch: epoch.String(),
	})
	return handle, nil
}

func (e *Engine) attach(handle *Handle) error {
	pkg := handle.pkg
	cfg := handle.cfg
	if err := e.registry.RegisterWithLoader(pkg, cfg.ExpectedSymbols, cfg.Loader); err != nil {
		return err
	}
	e.builders.route(pkg.ID, cfg.Builder)
	if err := e.coordinator.Register(pkg, coordinator.PackageOptions{
		Build:          cfg.buildOptions(),
		KillSuperseded: cfg.KillSuperseded,
	}); err != nil {
		return err
	}
	if err := e.aggregator.Register(pkg, cfg.debounce()); err != nil {
		return err
	}
	watch, err := e.watcher.Watch(pkg.Root, watcher.WatchOptions{
		Filter: cfg.filter(),
		OnError: func(err error) {
			e.onWatchError(handle, err)
		},
	}, func(change watcher.Event) {
		e.aggregator.Observe(pkg.ID, change)
	})
	if err != nil {
		if watcher.IsExhausted(err) {
			exhausted := fmt.Errorf("%w: %v", ErrResourceExhausted, err)
			e.fail(exhausted)
			return exhausted
		}
		return &reload.WatchError{Package: pkg, Path: pkg.Root, Err: err}
	}
	handle.setWatch(watch)
	return nil
}

// detach undoes attach. Every step tolerates a package that was never
// registered.
func (e *Engine) detach(handle *Handle) error {
	var errs []error
	if watch := handle.takeWatch(); watch != nil {
		if err := watch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.aggregator.Unregister(handle.pkg.ID)
	e.coordinator.Unregister(handle.pkg.ID)
	e.builders.route(handle.pkg.ID, nil)
	e.registry.Retire(handle.pkg.ID)
	return errors.Join(errs...)
}

func (e *Engine) release(handle *Handle) error {
	err := e.detach(handle)
	e.mu.Lock()
	if e.handles[handle.pkg.ID] == handle {
		delete(e.handles, handle.pkg.ID)
	}
	e.mu.Unlock()
	return err
}

// Handles lists the watched packages ordered by root.
func (e *Engine) Handles() []*Handle {
	e.mu.Lock()
	handles := make([]*Handle, 0, len(e.handles))
	for _, handle := range e.handles {
		handles = append(handles, handle)
	}
	e.mu.Unlock()
	sort.Slice(handles, func(i, j int) bool { return handles[i].pkg.Root < handles[j].pkg.Root })
	return handles
}

// Err reports an engine-wide failure such as watch resource exhaustion.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatal
}

// Results streams build attempts of every package.
func (e *Engine) Results() (<-chan reload.BuildAttempt, func()) {
	return e.results.SubscribeReplay(nil, 0)
}

// Events streams engine notifications, replaying up to replay recent ones of
// each kind first. Naming types restricts the stream to events whose Type is
// listed. Slow readers lose events.
func (e *Engine) Events(replay int, types ...string) (<-chan event.Event, func()) {
	out := make(chan event.Event, 256)
	ctx, stop := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	forward(ctx, &wg, e.installed, event.OfType[reload.GenerationEvent](types...), replay, out)
	forward(ctx, &wg, e.lifecycle, event.OfType[reload.LifecycleEvent](types...), replay, out)
	forward(ctx, &wg, e.results, event.OfType[reload.BuildAttempt](types...), replay, out)
	forward(ctx, &wg, e.watchEvents, event.OfType[reload.WatchEvent](types...), replay, out)
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, stop
}

func forward[T event.Event](ctx context.Context, wg *sync.WaitGroup, bus *event.Bus[T], filter func(T) bool, replay int, out chan<- event.Event) {
	source, cancel := bus.SubscribeReplay(filter, replay)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			select {
			case item, ok := <-source:
				if !ok {
					return
				}
				select {
				case out <- item:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops every watched package and releases engine resources.
// Generations still referenced are unloaded when their last Ref is released.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	handles := make([]*Handle, 0, len(e.handles))
	for _, handle := range e.handles {
		handles = append(handles, handle)
	}
	e.mu.Unlock()

	var group errgroup.Group
	for _, handle := range handles {
		group.Go(handle.Close)
	}
	err := group.Wait()

	e.aggregator.Close()
	e.coordinator.Close()
	if watchErr := e.watcher.Close(); watchErr != nil {
		err = errors.Join(err, watchErr)
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if stopErr := e.processes.StopAll(stopCtx); stopErr != nil {
		err = errors.Join(err, stopErr)
	}
	e.registry.Close()
	close(e.done)
	e.closeBuses()
	e.wg.Wait()
	e.logger.Debug("engine closed", nil)
	return err
}

func (e *Engine) closeBuses() {
	e.installed.Close()
	e.lifecycle.Close()
	e.results.Close()
	e.watchEvents.Close()
}

func (e *Engine) onChange(signal reload.ChangeSignal) {
	epoch, err := e.coordinator.RequestBuild(signal.Package.ID)
	if err != nil {
		if !errors.Is(err, ErrClosed) && !errors.Is(err, reload.ErrUnknownPackage) {
			e.logger.Warn("build request failed", map[string]string{
				logging.FieldPackage: signal.Package.Name,
				"error":              err.Error(),
			})
		}
		return
	}
	e.logger.Debug("build requested", map[string]string{
		logging.FieldPackage: signal.Package.Name,
		logging.FieldEpoch:   epoch.String(),
		"paths":              strconv.Itoa(len(signal.Paths)),
	})
}

// dispatch wakes handles on install and turns loader exhaustion into an
// engine failure.
func (e *Engine) dispatch(installed <-chan reload.GenerationEvent, exhausted <-chan reload.BuildAttempt, cancel func()) {
	defer e.wg.Done()
	defer cancel()
	for {
		select {
		case item, ok := <-installed:
			if !ok {
				return
			}
			e.mu.Lock()
			handle := e.handles[item.Package.ID]
			e.mu.Unlock()
			if handle != nil {
				handle.broadcast()
			}
		case attempt, ok := <-exhausted:
			if !ok {
				return
			}
			e.fail(fmt.Errorf("%w: %v", ErrResourceExhausted, attempt.Err))
		case <-e.done:
			return
		}
	}
}

// onWatchError handles a failure that ends one package's watch.
func (e *Engine) onWatchError(handle *Handle, err error) {
	if watcher.IsExhausted(err) {
		e.fail(fmt.Errorf("%w: %v", ErrResourceExhausted, err))
		return
	}
	watchErr := &reload.WatchError{Package: handle.pkg, Path: handle.pkg.Root, Err: err}
	fatal := errors.Is(err, watcher.ErrRootRemoved)
	e.watchEvents.Publish(reload.WatchEvent{Package: handle.pkg, Err: watchErr, Fatal: fatal, At: e.clock.Now()})
	if fatal {
		handle.fail(watchErr)
		return
	}
	handle.logger.Warn("watch error", map[string]string{"error": err.Error()})
}

// onWatcherFailure is called once the watcher gives up restarting.
func (e *Engine) onWatcherFailure(err error) {
	if watcher.IsExhausted(err) {
		e.fail(fmt.Errorf("%w: %v", ErrResourceExhausted, err))
		return
	}
	e.logger.Error("watcher failed", map[string]string{"error": err.Error()})
}

// fail records an engine-wide fatal error and wakes every waiting handle.
func (e *Engine) fail(err error) {
	e.mu.Lock()
	if e.fatal != nil {
		e.mu.Unlock()
		return
	}
	e.fatal = err
	handles := make([]*Handle, 0, len(e.handles))
	for _, handle := range e.handles {
		handles = append(handles, handle)
	}
	e.mu.Unlock()

	e.logger.Error("engine failed", map[string]string{"error": err.Error()})
	for _, handle := range handles {
		e.watchEvents.Publish(reload.WatchEvent{Package: handle.pkg, Err: err, Fatal: true, At: e.clock.Now()})
		handle.broadcast()
	}
}

// routedBuilder lets packages on one engine use different builders.
type routedBuilder struct {
	mu        sync.RWMutex
	fallback  build.Builder
	byPackage map[string]build.Builder
}

func newRoutedBuilder(fallback build.Builder) *routedBuilder {
	return &routedBuilder{fallback: fallback, byPackage: make(map[string]build.Builder)}
}

func (r *routedBuilder) route(id string, builder build.Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if builder == nil {
		delete(r.byPackage, id)
		return
	}
	r.byPackage[id] = builder
}

func (r *routedBuilder) Build(ctx context.Context, request build.Request) (build.Result, error) {
	r.mu.RLock()
	builder, ok := r.byPackage[request.Package.ID]
	r.mu.RUnlock()
	if !ok {
		builder = r.fallback
	}
	return builder.Build(ctx, request)
}
