package build

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Step scripts the outcome of one ScriptedBuilder call. A nil Release
// completes immediately; otherwise the build waits for Release to be closed
// or sent to, or for its context to end.
type Step struct {
	Artifact    string
	Err         error
	Diagnostics string
	Release     <-chan struct{}
	Delay       time.Duration
}

// ScriptedBuilder is an in-process Builder for tests. Calls consume Steps in
// order; once the script runs out, Default (or a generated artifact name)
// decides the outcome.
type ScriptedBuilder struct {
	mu         sync.Mutex
	steps      []Step
	Default    func(Request) Step
	calls      []Request
	running    map[string]int
	maxRunning int
	started    chan Request
}

func NewScriptedBuilder(steps ...Step) *ScriptedBuilder {
	return &ScriptedBuilder{
		steps:   steps,
		running: make(map[string]int),
		started: make(chan Request, 64),
	}
}

// Push appends steps to the script.
func (b *ScriptedBuilder) Push(steps ...Step) {
	b.mu.Lock()
	b.steps = append(b.steps, steps...)
	b.mu.Unlock()
}

// Started delivers every request as its build begins.
func (b *ScriptedBuilder) Started() <-chan Request {
	return b.started
}

func (b *ScriptedBuilder) Calls() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	calls := make([]Request, len(b.calls))
	copy(calls, b.calls)
	return calls
}

// MaxConcurrent reports the highest number of simultaneous builds observed
// for any single package.
func (b *ScriptedBuilder) MaxConcurrent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxRunning
}

// ScriptedArtifact is the artifact name used when a step leaves it empty.
func ScriptedArtifact(request Request) string {
	return fmt.Sprintf("%s/%s-e%d%s", request.Package.ID, request.Package.Name, request.Epoch, ArtifactSuffix)
}

func (b *ScriptedBuilder) Build(ctx context.Context, request Request) (Result, error) {
	b.mu.Lock()
	b.calls = append(b.calls, request)
	b.running[request.Package.ID]++
	if b.running[request.Package.ID] > b.maxRunning {
		b.maxRunning = b.running[request.Package.ID]
	}
	var step Step
	switch {
	case len(b.steps) > 0:
		step = b.steps[0]
		b.steps = b.steps[1:]
	case b.Default != nil:
		step = b.Default(request)
	}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running[request.Package.ID]--
		b.mu.Unlock()
	}()

	select {
	case b.started <- request:
	default:
	}

	canceled := func(err error) (Result, error) {
		return Result{}, &BuildError{Stage: StageCanceled, Package: request.Package.Name, Epoch: request.Epoch, Err: err}
	}
	if step.Release != nil {
		select {
		case <-step.Release:
		case <-ctx.Done():
			return canceled(ctx.Err())
		}
	}
	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return canceled(ctx.Err())
		}
	}

	if step.Err != nil {
		return Result{Diagnostics: step.Diagnostics}, &BuildError{
			Stage:       StageCompile,
			Package:     request.Package.Name,
			Epoch:       request.Epoch,
			ExitCode:    1,
			Diagnostics: step.Diagnostics,
			Err:         step.Err,
		}
	}
	artifact := step.Artifact
	if artifact == "" {
		artifact = ScriptedArtifact(request)
	}
	return Result{Artifact: artifact, Diagnostics: step.Diagnostics}, nil
}
