// Package coordinator turns change signals into a serialized sequence of
// builds per package.
//
// Each package has a latest requested epoch, at most one running build and a
// single pending flag. Requests that arrive while a build runs collapse into
// one follow-up build of the newest epoch. A build that finishes after a newer
// epoch was requested is reported as superseded and its artifact discarded.
package coordinator

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"time"

	"hotlib/internal/buffer"
	"hotlib/internal/build"
	"hotlib/internal/event"
	"hotlib/internal/generation"
	"hotlib/internal/logging"
	"hotlib/internal/metrics"
	"hotlib/internal/reload"

	"github.com/benbjohnson/clock"
)

// finishedHistory is how many terminal attempts each package remembers for
// Finished.
const finishedHistory = 64

// Installer makes a built artifact the package's current generation.
type Installer interface {
	Install(pkg reload.Package, epoch reload.Epoch, artifact string) (*generation.Generation, error)
}

type Options struct {
	Builder   build.Builder
	Installer Installer
	Results   *event.Bus[reload.BuildAttempt]
	Logger    *logging.Logger
	Metrics   *metrics.Registry
	Clock     clock.Clock
}

// PackageOptions configures one registered package.
type PackageOptions struct {
	Build build.Options
	// KillSuperseded cancels a running build as soon as a newer request
	// arrives instead of letting it finish and discarding the result.
	KillSuperseded bool
}

// Snapshot is a point-in-time view of one package's build state.
type Snapshot struct {
	Package      reload.Package
	Latest       reload.Epoch
	Running      bool
	RunningEpoch reload.Epoch
	Pending      bool
	Last         reload.BuildAttempt
}

type Coordinator struct {
	mu        sync.Mutex
	packages  map[string]*packageState
	closed    bool
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	builder   build.Builder
	installer Installer
	results   *event.Bus[reload.BuildAttempt]
	ownsBus   bool
	logger    *logging.Logger
	metrics   *metrics.Registry
	clock     clock.Clock
}

type packageState struct {
	pkg          reload.Package
	options      PackageOptions
	latest       reload.Epoch
	running      bool
	runningEpoch reload.Epoch
	pending      bool
	pendingEpoch reload.Epoch
	cancel       context.CancelFunc
	last         reload.BuildAttempt
	finished     *buffer.Ring[reload.BuildAttempt]
}

func New(options Options) (*Coordinator, error) {
	if options.Builder == nil {
		return nil, errors.New("builder is required")
	}
	if options.Installer == nil {
		return nil, errors.New("installer is required")
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	coordinator := &Coordinator{
		packages:  make(map[string]*packageState),
		ctx:       ctx,
		cancel:    cancel,
		builder:   options.Builder,
		installer: options.Installer,
		results:   options.Results,
		logger:    logger.Component("coordinator"),
		metrics:   options.Metrics,
		clock:     clk,
	}
	if coordinator.results == nil {
		coordinator.results = event.NewBus[reload.BuildAttempt](context.Background(), event.BusOptions{
			Name:     "build_results",
			Registry: options.Metrics,
			Logger:   logger,
		})
		coordinator.ownsBus = true
	}
	return coordinator, nil
}

func (c *Coordinator) Register(pkg reload.Package, options PackageOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return reload.ErrClosed
	}
	if _, ok := c.packages[pkg.ID]; ok {
		return errors.New("package already registered: " + pkg.ID)
	}
	c.packages[pkg.ID] = &packageState{
		pkg:      pkg,
		options:  options,
		finished: buffer.NewRing[reload.BuildAttempt](finishedHistory),
	}
	return nil
}

// Unregister forgets the package and cancels its running build.
func (c *Coordinator) Unregister(id string) {
	c.mu.Lock()
	state, ok := c.packages[id]
	if ok {
		delete(c.packages, id)
		if state.cancel != nil {
			state.cancel()
		}
	}
	c.mu.Unlock()
}

// RequestBuild records that the package's sources changed and returns the
// epoch assigned to the request. It never waits for a build.
func (c *Coordinator) RequestBuild(id string) (reload.Epoch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, reload.ErrClosed
	}
	state, ok := c.packages[id]
	if !ok {
		return 0, reload.ErrUnknownPackage
	}
	state.latest++
	epoch := state.latest
	now := c.clock.Now()
	c.publishLocked(state, reload.BuildAttempt{Package: state.pkg, Epoch: epoch, Status: reload.StatusPending, StartedAt: now})

	if !state.running {
		c.startLocked(state, epoch)
		return epoch, nil
	}
	if state.pending {
		c.publishLocked(state, reload.BuildAttempt{
			Package:    state.pkg,
			Epoch:      state.pendingEpoch,
			Status:     reload.StatusSuperseded,
			FinishedAt: now,
		})
	}
	state.pending = true
	state.pendingEpoch = epoch
	if state.options.KillSuperseded && state.cancel != nil {
		c.logger.Debug("canceling superseded build", map[string]string{
			logging.FieldPackage: state.pkg.Name,
			logging.FieldEpoch:   state.runningEpoch.String(),
		})
		state.cancel()
	}
	return epoch, nil
}

// Subscribe streams build status transitions for one package until cancel
// is called or the coordinator closes.
func (c *Coordinator) Subscribe(id string) (<-chan reload.BuildAttempt, func()) {
	return c.results.SubscribeFiltered(func(attempt reload.BuildAttempt) bool {
		return attempt.Package.ID == id
	})
}

// Results exposes the bus every attempt is published on.
func (c *Coordinator) Results() *event.Bus[reload.BuildAttempt] {
	return c.results
}

func (c *Coordinator) Snapshot(id string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.packages[id]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		Package:      state.pkg,
		Latest:       state.latest,
		Running:      state.running,
		RunningEpoch: state.runningEpoch,
		Pending:      state.pending,
		Last:         state.last,
	}, true
}

// Finished returns the terminal attempt recorded for epoch. ok is false
// while the epoch is queued or running or has not been requested yet.
// reload.ErrEpochExpired means the epoch ended but its record was evicted.
func (c *Coordinator) Finished(id string, epoch reload.Epoch) (attempt reload.BuildAttempt, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, registered := c.packages[id]
	if !registered {
		return reload.BuildAttempt{}, false, reload.ErrUnknownPackage
	}
	for _, item := range state.finished.List() {
		if item.Epoch == epoch {
			return item, true, nil
		}
	}
	switch {
	case epoch > state.latest:
	case state.running && epoch == state.runningEpoch:
	case state.pending && epoch == state.pendingEpoch:
	default:
		return reload.BuildAttempt{}, false, reload.ErrEpochExpired
	}
	return reload.BuildAttempt{}, false, nil
}

// Close cancels every running build and waits for their goroutines.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, state := range c.packages {
		if state.cancel != nil {
			state.cancel()
		}
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	if c.ownsBus {
		c.results.Close()
	}
}

func (c *Coordinator) startLocked(state *packageState, epoch reload.Epoch) {
	ctx, cancel := context.WithCancel(c.ctx)
	state.running = true
	state.runningEpoch = epoch
	state.pending = false
	state.pendingEpoch = 0
	state.cancel = cancel
	started := c.clock.Now()
	c.publishLocked(state, reload.BuildAttempt{Package: state.pkg, Epoch: epoch, Status: reload.StatusRunning, StartedAt: started})
	c.metrics.AddBuildsRunning(state.pkg.Name, 1)

	request := build.Request{Package: state.pkg, Epoch: epoch, Options: state.options.Build}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, cancel, state, request, started)
	}()
}

func (c *Coordinator) run(ctx context.Context, cancel context.CancelFunc, state *packageState, request build.Request, started time.Time) {
	defer cancel()
	pkg := request.Package
	epoch := request.Epoch
	result, buildErr := c.builder.Build(ctx, request)

	attempt := reload.BuildAttempt{
		Package:     pkg,
		Epoch:       epoch,
		Artifact:    result.Artifact,
		Diagnostics: result.Diagnostics,
		StartedAt:   started,
	}

	// Only requests seen before this check discard the result. One arriving
	// while Install runs lets this epoch install and becomes the follow-up
	// build, since the build completed before it was requested.
	if c.superseded(state, epoch) {
		discard(result.Artifact)
		attempt.Status = reload.StatusSuperseded
		attempt.Artifact = ""
		c.logger.Debug("build superseded", map[string]string{
			logging.FieldPackage: pkg.Name,
			logging.FieldEpoch:   epoch.String(),
		})
	} else if buildErr != nil {
		attempt.Status = reload.StatusFailed
		attempt.Err = buildErr
		if failure, ok := build.AsBuildError(buildErr); ok && failure.Diagnostics != "" {
			attempt.Diagnostics = failure.Diagnostics
		}
		c.logger.Warn("build failed", map[string]string{
			logging.FieldPackage: pkg.Name,
			logging.FieldEpoch:   epoch.String(),
			"error":              buildErr.Error(),
		})
	} else {
		installed, err := c.installer.Install(pkg, epoch, result.Artifact)
		if err != nil {
			discard(result.Artifact)
			attempt.Status = reload.StatusFailed
			attempt.Err = err
			c.logger.Warn("load failed", map[string]string{
				logging.FieldPackage: pkg.Name,
				logging.FieldEpoch:   epoch.String(),
				"error":              err.Error(),
			})
		} else {
			attempt.Status = reload.StatusSucceeded
			attempt.Generation = installed.Number
		}
	}
	attempt.FinishedAt = c.clock.Now()
	c.metrics.AddBuildsRunning(pkg.Name, -1)
	c.metrics.ObserveBuild(pkg.Name, string(attempt.Status), attempt.Duration())

	c.mu.Lock()
	defer c.mu.Unlock()
	state.running = false
	state.runningEpoch = 0
	state.cancel = nil
	c.publishLocked(state, attempt)
	if c.closed || c.packages[pkg.ID] != state || !state.pending {
		return
	}
	c.logger.Debug("starting follow-up build", map[string]string{
		logging.FieldPackage: pkg.Name,
		logging.FieldEpoch:   state.latest.String(),
		"coalesced":          strconv.FormatUint(uint64(state.latest-epoch), 10),
	})
	c.startLocked(state, state.latest)
}

// superseded reports whether the result of epoch must be discarded: a newer
// request exists or the package is no longer registered.
func (c *Coordinator) superseded(state *packageState, epoch reload.Epoch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.packages[state.pkg.ID] != state || state.latest != epoch
}

func (c *Coordinator) publishLocked(state *packageState, attempt reload.BuildAttempt) {
	state.last = attempt
	if attempt.Status.Terminal() {
		state.finished.Add(attempt)
	}
	c.results.Publish(attempt)
}

func discard(artifact string) {
	if artifact == "" {
		return
	}
	_ = os.Remove(artifact)
}
