package reload

import (
	"strconv"
	"time"
)

// Epoch numbers build attempts for one package, starting at 1.
type Epoch uint64

func (e Epoch) String() string {
	return strconv.FormatUint(uint64(e), 10)
}

// ChangeSignal means the package's sources changed since the last observed
// build. Paths is informational only.
type ChangeSignal struct {
	Package Package
	Paths   []string
	At      time.Time
}

func (s ChangeSignal) Type() string         { return "change_signal" }
func (s ChangeSignal) Timestamp() time.Time { return s.At }

type BuildStatus string

const (
	StatusPending    BuildStatus = "pending"
	StatusRunning    BuildStatus = "running"
	StatusSucceeded  BuildStatus = "succeeded"
	StatusFailed     BuildStatus = "failed"
	StatusSuperseded BuildStatus = "superseded"
)

func (s BuildStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSuperseded:
		return true
	default:
		return false
	}
}

// BuildAttempt is one status transition of one build. Err is set for
// StatusFailed; Generation is set for StatusSucceeded.
type BuildAttempt struct {
	Package     Package
	Epoch       Epoch
	Status      BuildStatus
	Artifact    string
	Err         error
	Diagnostics string
	StartedAt   time.Time
	FinishedAt  time.Time
	Generation  uint64
}

func (a BuildAttempt) Type() string { return "build_" + string(a.Status) }

func (a BuildAttempt) Timestamp() time.Time {
	if !a.FinishedAt.IsZero() {
		return a.FinishedAt
	}
	return a.StartedAt
}

func (a BuildAttempt) Duration() time.Duration {
	if a.StartedAt.IsZero() || a.FinishedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}

type GenerationState string

const (
	StateCurrent  GenerationState = "current"
	StateRetiring GenerationState = "retiring"
	StateUnloaded GenerationState = "unloaded"
)

// GenerationEvent is published when Generation becomes current. Previous is
// zero for the first generation.
type GenerationEvent struct {
	Package    Package
	Generation uint64
	Previous   uint64
	Epoch      Epoch
	Artifact   string
	At         time.Time
}

func (e GenerationEvent) Type() string         { return "generation_installed" }
func (e GenerationEvent) Timestamp() time.Time { return e.At }

// LifecycleEvent reports a generation leaving the current state.
type LifecycleEvent struct {
	Package    Package
	Generation uint64
	State      GenerationState
	At         time.Time
}

func (e LifecycleEvent) Type() string         { return "generation_" + string(e.State) }
func (e LifecycleEvent) Timestamp() time.Time { return e.At }

// WatchEvent reports a watcher failure for a package. Fatal failures end the
// package's watch.
type WatchEvent struct {
	Package Package
	Err     error
	Fatal   bool
	At      time.Time
}

func (e WatchEvent) Type() string         { return "watch_error" }
func (e WatchEvent) Timestamp() time.Time { return e.At }
