package hotlib

import (
	"context"
	"errors"
	"sync"

	"hotlib/internal/coordinator"
	"hotlib/internal/generation"
	"hotlib/internal/logging"
	"hotlib/internal/reload"
	"hotlib/internal/watcher"

	"github.com/google/uuid"
)

// Handle is one watched package. It never owns generations; it hands out
// Refs to whichever generation is current.
type Handle struct {
	engine  *Engine
	pkg     reload.Package
	cfg     Config
	session string
	logger  *logging.Logger

	mu      sync.Mutex
	watch   watcher.Handle
	changed chan struct{}
	err     error
	closed  bool
	// ownsEngine is set for handles created by Watch; closing the handle
	// closes its private engine.
	ownsEngine bool
	closeOnce  sync.Once
	closeErr   error
}

// Status is a snapshot of a handle for reporting.
type Status struct {
	Session     string
	Package     reload.Package
	Current     uint64
	Generations []generation.Info
	Build       coordinator.Snapshot
	Err         error
	Closed      bool
}

// Watch starts a private engine for root. Closing the handle stops it.
func Watch(root string, cfg Config) (*Handle, error) {
	engine, err := NewEngine(EngineOptions{
		Logger:  cfg.Logger,
		Builder: cfg.Builder,
		Loader:  cfg.Loader,
	})
	if err != nil {
		return nil, err
	}
	handle, err := engine.Watch(root, cfg)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	handle.mu.Lock()
	handle.ownsEngine = true
	handle.mu.Unlock()
	return handle, nil
}

func newHandle(engine *Engine, pkg reload.Package, cfg Config, logger *logging.Logger) *Handle {
	session := uuid.NewString()
	return &Handle{
		engine:  engine,
		pkg:     pkg,
		cfg:     cfg,
		session: session,
		logger: logger.With(map[string]string{
			logging.FieldPackage: pkg.Name,
			logging.FieldSession: session,
		}),
		changed: make(chan struct{}),
	}
}

func (h *Handle) Package() reload.Package {
	return h.pkg
}

// Session identifies this watch in logs and status output.
func (h *Handle) Session() string {
	return h.session
}

// Current returns a Ref to the current generation. When nothing has loaded
// yet it returns ErrNoGeneration, or waits if BlockUntilFirstBuild is set.
func (h *Handle) Current(ctx context.Context) (*Ref, error) {
	return h.await(ctx, 0, h.cfg.BlockUntilFirstBuild)
}

// Next waits until a generation numbered above after is current and returns
// a Ref to it.
func (h *Handle) Next(ctx context.Context, after uint64) (*Ref, error) {
	return h.await(ctx, after, true)
}

func (h *Handle) await(ctx context.Context, after uint64, block bool) (*Ref, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		changed, err := h.state()
		if err != nil {
			return nil, err
		}
		if inner, ok := h.engine.registry.Acquire(h.pkg.ID); ok {
			if inner.Generation().Number > after {
				return newRef(inner), nil
			}
			inner.Release()
		}
		if !block {
			return nil, ErrNoGeneration
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// state returns the channel closed on the next change together with any
// error that must end a wait.
func (h *Handle) state() (<-chan struct{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	if h.err != nil {
		return nil, h.err
	}
	if err := h.engine.Err(); err != nil {
		return nil, err
	}
	return h.changed, nil
}

func (h *Handle) broadcast() {
	h.mu.Lock()
	close(h.changed)
	h.changed = make(chan struct{})
	h.mu.Unlock()
}

func (h *Handle) fail(err error) {
	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.mu.Unlock()
	h.logger.Error("watch failed", map[string]string{"error": err.Error()})
	h.broadcast()
}

// Err reports the failure that ended this watch, if any. Generations loaded
// before the failure stay usable.
func (h *Handle) Err() error {
	h.mu.Lock()
	err := h.err
	h.mu.Unlock()
	if err != nil {
		return err
	}
	return h.engine.Err()
}

// OnReload streams an event each time a new generation becomes current.
func (h *Handle) OnReload() (<-chan reload.GenerationEvent, func()) {
	id := h.pkg.ID
	return h.engine.installed.SubscribeFiltered(func(item reload.GenerationEvent) bool {
		return item.Package.ID == id
	})
}

// Results streams this package's build status transitions.
func (h *Handle) Results() (<-chan reload.BuildAttempt, func()) {
	return h.engine.coordinator.Subscribe(h.pkg.ID)
}

// Rebuild requests a build now, flushing any debounced changes, and returns
// its epoch.
func (h *Handle) Rebuild() (reload.Epoch, error) {
	if _, err := h.state(); err != nil {
		return 0, err
	}
	if h.engine.aggregator.Flush(h.pkg.ID) {
		if snapshot, ok := h.engine.coordinator.Snapshot(h.pkg.ID); ok {
			return snapshot.Latest, nil
		}
	}
	epoch, err := h.engine.coordinator.RequestBuild(h.pkg.ID)
	if errors.Is(err, reload.ErrUnknownPackage) {
		return 0, ErrClosed
	}
	return epoch, err
}

// Wait blocks until the build for epoch reaches a terminal status and
// returns it. Recent results are remembered, so epochs that already ended
// are reported as they finished. ErrEpochExpired means too many builds ran
// since epoch for its result to be known.
func (h *Handle) Wait(ctx context.Context, epoch reload.Epoch) (reload.BuildAttempt, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	results, cancel := h.Results()
	defer cancel()
	if attempt, ok, err := h.finished(epoch); ok || err != nil {
		return attempt, err
	}
	for {
		select {
		case attempt, ok := <-results:
			if !ok {
				return reload.BuildAttempt{}, ErrClosed
			}
			if !attempt.Status.Terminal() {
				continue
			}
			if attempt.Epoch == epoch {
				return attempt, nil
			}
			if attempt.Epoch > epoch {
				// The live event for epoch was dropped; the record still has it.
				if recorded, ok, err := h.finished(epoch); ok || err != nil {
					return recorded, err
				}
			}
		case <-ctx.Done():
			return reload.BuildAttempt{}, ctx.Err()
		}
	}
}

func (h *Handle) finished(epoch reload.Epoch) (reload.BuildAttempt, bool, error) {
	attempt, ok, err := h.engine.coordinator.Finished(h.pkg.ID, epoch)
	if errors.Is(err, reload.ErrUnknownPackage) {
		return reload.BuildAttempt{}, false, ErrClosed
	}
	return attempt, ok, err
}

func (h *Handle) Status() Status {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	status := Status{
		Session:     h.session,
		Package:     h.pkg,
		Generations: h.engine.registry.Generations(h.pkg.ID),
		Err:         h.Err(),
		Closed:      closed,
	}
	status.Current, _ = h.engine.registry.Current(h.pkg.ID)
	status.Build, _ = h.engine.coordinator.Snapshot(h.pkg.ID)
	return status
}

// Close stops watching, cancels any running build and retires the current
// generation. Outstanding Refs stay valid until released. Close is
// idempotent.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		owns := h.ownsEngine
		h.mu.Unlock()
		h.broadcast()

		h.closeErr = h.engine.release(h)
		if owns {
			h.closeErr = errors.Join(h.closeErr, h.engine.Close())
		}
		h.logger.Info("stopped watching package", nil)
	})
	return h.closeErr
}

func (h *Handle) setWatch(watch watcher.Handle) {
	h.mu.Lock()
	h.watch = watch
	h.mu.Unlock()
}

func (h *Handle) takeWatch() watcher.Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	watch := h.watch
	h.watch = nil
	return watch
}
