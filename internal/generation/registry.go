package generation

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"hotlib/internal/event"
	"hotlib/internal/loader"
	"hotlib/internal/logging"
	"hotlib/internal/metrics"
	"hotlib/internal/reload"
)

type Options struct {
	Logger    *logging.Logger
	Metrics   *metrics.Registry
	Installed *event.Bus[reload.GenerationEvent]
	Lifecycle *event.Bus[reload.LifecycleEvent]
	Now       func() time.Time
}

// Registry owns every generation of every registered package. Acquire holds
// the read lock while taking a reference so it can never observe a
// generation that a concurrent install has already retired.
type Registry struct {
	mu       sync.RWMutex
	loader   loader.Loader
	packages map[string]*packageState
	// numbers outlives package state so a re-registered package keeps
	// counting where its previous session stopped.
	numbers   map[string]uint64
	logger    *logging.Logger
	metrics   *metrics.Registry
	installed *event.Bus[reload.GenerationEvent]
	lifecycle *event.Bus[reload.LifecycleEvent]
	now       func() time.Time
}

type packageState struct {
	pkg     reload.Package
	expect  []Expect
	loader  loader.Loader
	current *Generation
	live    map[uint64]*Generation
	retired bool
}

func NewRegistry(source loader.Loader, options Options) *Registry {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		loader:    source,
		packages:  make(map[string]*packageState),
		numbers:   make(map[string]uint64),
		logger:    logger.Component("generation"),
		metrics:   options.Metrics,
		installed: options.Installed,
		lifecycle: options.Lifecycle,
		now:       now,
	}
}

// Register declares pkg and the symbols each of its generations must export.
// Registering a retired package starts a new session.
func (r *Registry) Register(pkg reload.Package, expect []Expect) error {
	return r.RegisterWithLoader(pkg, expect, nil)
}

// RegisterWithLoader is Register with a package-specific loader. A nil
// source uses the registry's loader.
func (r *Registry) RegisterWithLoader(pkg reload.Package, expect []Expect, source loader.Loader) error {
	if source == nil {
		source = r.loader
	}
	if source == nil {
		return errors.New("loader is required")
	}
	for _, item := range expect {
		if item.Name == "" {
			return errors.New("expected symbol name is required")
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.packages[pkg.ID]
	if ok && !state.retired {
		return errors.New("package already registered: " + pkg.ID)
	}
	if !ok {
		state = &packageState{live: make(map[uint64]*Generation)}
		r.packages[pkg.ID] = state
	}
	state.pkg = pkg
	state.expect = append([]Expect(nil), expect...)
	state.loader = source
	state.retired = false
	return nil
}

// Install loads artifact, validates the expected symbols and makes the result
// current. On failure the library is closed and the current generation stays.
func (r *Registry) Install(pkg reload.Package, epoch reload.Epoch, artifact string) (*Generation, error) {
	r.mu.RLock()
	state, ok := r.packages[pkg.ID]
	var expect []Expect
	var source loader.Loader
	retired := true
	if ok {
		expect = state.expect
		source = state.loader
		retired = state.retired
	}
	r.mu.RUnlock()
	if !ok {
		return nil, reload.ErrUnknownPackage
	}
	if retired {
		return nil, reload.ErrClosed
	}

	library, err := source.Load(artifact)
	if err != nil {
		return nil, &LoadError{Stage: StageOpen, Package: pkg.Name, Artifact: artifact, Err: err}
	}
	symbols := make(map[string]Symbol, len(expect))
	for _, item := range expect {
		value, err := library.Lookup(item.Name)
		if err != nil {
			_ = library.Close()
			return nil, &LoadError{Stage: StageSymbol, Package: pkg.Name, Artifact: artifact, Symbol: item.Name, Err: err}
		}
		symbol, err := resolve(item, value)
		if err != nil {
			_ = library.Close()
			return nil, &LoadError{Stage: StageType, Package: pkg.Name, Artifact: artifact, Symbol: item.Name, Err: err}
		}
		symbols[item.Name] = symbol
	}

	now := r.now()
	r.mu.Lock()
	if state.retired || r.packages[pkg.ID] != state {
		r.mu.Unlock()
		_ = library.Close()
		return nil, reload.ErrClosed
	}
	r.numbers[pkg.ID]++
	generation := newGeneration(r.numbers[pkg.ID], state.pkg, epoch, artifact, library, symbols, now)
	previous := state.current
	state.current = generation
	state.live[generation.Number] = generation
	if previous != nil {
		previous.state.Store(reload.StateRetiring)
	}
	r.mu.Unlock()

	var previousNumber uint64
	if previous != nil {
		previousNumber = previous.Number
	}
	r.metrics.IncGenerationInstalled(pkg.Name)
	r.logger.Info("generation installed", map[string]string{
		logging.FieldPackage:    pkg.Name,
		logging.FieldGeneration: strconv.FormatUint(generation.Number, 10),
		logging.FieldEpoch:      epoch.String(),
		"artifact":              artifact,
	})
	r.installed.Publish(reload.GenerationEvent{
		Package:    state.pkg,
		Generation: generation.Number,
		Previous:   previousNumber,
		Epoch:      epoch,
		Artifact:   artifact,
		At:         now,
	})
	if previous != nil {
		r.publishLifecycle(previous, reload.StateRetiring)
		r.maybeUnload(previous)
	}
	return generation, nil
}

// Acquire takes a reference to the current generation of the package.
func (r *Registry) Acquire(id string) (*Ref, bool) {
	r.mu.RLock()
	state, ok := r.packages[id]
	if !ok || state.retired || state.current == nil {
		r.mu.RUnlock()
		return nil, false
	}
	generation := state.current
	generation.refs.Add(1)
	r.mu.RUnlock()
	r.metrics.AddGenerationRefs(generation.Package.Name, 1)
	return &Ref{generation: generation, registry: r}, true
}

// Current reports the number of the current generation without taking a
// reference.
func (r *Registry) Current(id string) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.packages[id]
	if !ok || state.current == nil {
		return 0, false
	}
	return state.current.Number, true
}

// Release drops ref. Releasing the last reference of a retiring generation
// unloads it.
func (r *Registry) Release(ref *Ref) {
	if ref == nil || ref.generation == nil {
		return
	}
	if !ref.released.CompareAndSwap(false, true) {
		return
	}
	generation := ref.generation
	remaining := generation.refs.Add(-1)
	r.metrics.AddGenerationRefs(generation.Package.Name, -1)
	if remaining == 0 {
		r.maybeUnload(generation)
	}
}

// Retire ends the package's session: the current generation starts retiring
// with no successor and no further installs or acquires succeed.
func (r *Registry) Retire(id string) {
	r.mu.Lock()
	state, ok := r.packages[id]
	if !ok || state.retired {
		r.mu.Unlock()
		return
	}
	state.retired = true
	current := state.current
	state.current = nil
	if current != nil {
		current.state.Store(reload.StateRetiring)
	} else if len(state.live) == 0 {
		delete(r.packages, id)
	}
	r.mu.Unlock()

	if current != nil {
		r.publishLifecycle(current, reload.StateRetiring)
		r.maybeUnload(current)
	}
}

// Close retires every package.
func (r *Registry) Close() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.packages))
	for id := range r.packages {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Retire(id)
	}
}

// Generations lists the package's generations that have not been unloaded,
// oldest first.
func (r *Registry) Generations(id string) []Info {
	r.mu.RLock()
	state, ok := r.packages[id]
	if !ok {
		r.mu.RUnlock()
		return nil
	}
	infos := make([]Info, 0, len(state.live))
	for _, generation := range state.live {
		infos = append(infos, Info{
			Number:   generation.Number,
			Epoch:    generation.Epoch,
			Artifact: generation.Artifact,
			State:    generation.State(),
			Refs:     generation.Refs(),
			LoadedAt: generation.LoadedAt,
		})
	}
	r.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Number < infos[j].Number })
	return infos
}

// maybeUnload closes a retiring generation once nothing references it. The
// state swap makes the close happen exactly once.
func (r *Registry) maybeUnload(generation *Generation) {
	if generation.refs.Load() != 0 {
		return
	}
	if !generation.state.CompareAndSwap(reload.StateRetiring, reload.StateUnloaded) {
		return
	}
	var closeErr error
	if generation.library != nil {
		closeErr = generation.library.Close()
	}

	r.mu.Lock()
	if state, ok := r.packages[generation.Package.ID]; ok {
		delete(state.live, generation.Number)
		if state.retired && len(state.live) == 0 && state.current == nil {
			delete(r.packages, generation.Package.ID)
		}
	}
	r.mu.Unlock()

	fields := map[string]string{
		logging.FieldPackage:    generation.Package.Name,
		logging.FieldGeneration: strconv.FormatUint(generation.Number, 10),
	}
	if closeErr != nil {
		fields["error"] = closeErr.Error()
		r.logger.Warn("generation unload failed", fields)
	} else {
		r.logger.Debug("generation unloaded", fields)
	}
	r.metrics.IncGenerationUnloaded(generation.Package.Name)
	r.publishLifecycle(generation, reload.StateUnloaded)
}

func (r *Registry) publishLifecycle(generation *Generation, state reload.GenerationState) {
	r.lifecycle.Publish(reload.LifecycleEvent{
		Package:    generation.Package,
		Generation: generation.Number,
		State:      state,
		At:         r.now(),
	})
}
