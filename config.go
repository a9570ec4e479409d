package hotlib

import (
	"time"

	"hotlib/internal/build"
	"hotlib/internal/change"
	"hotlib/internal/generation"
	"hotlib/internal/loader"
	"hotlib/internal/logging"
	"hotlib/internal/watcher"
)

type (
	Expect = generation.Expect
	Symbol = generation.Symbol
)

const (
	KindFunc = generation.KindFunc
	KindVar  = generation.KindVar
)

// ExpectFunc declares a function symbol by example, e.g.
// ExpectFunc("Greet", (func(string) string)(nil)).
func ExpectFunc(name string, fn any) Expect {
	return generation.ExpectFunc(name, fn)
}

// ExpectVar declares a variable symbol by example pointer, e.g.
// ExpectVar("Settings", (*Settings)(nil)).
func ExpectVar(name string, ptr any) Expect {
	return generation.ExpectVar(name, ptr)
}

// ExpectAny declares a symbol that must exist but may have any type.
func ExpectAny(name string) Expect {
	return generation.Expect{Name: name}
}

// Config describes how one package is watched, built and loaded.
type Config struct {
	// DebouncePeriod is the quiet time after the last change before a build
	// starts. Zero selects 100ms.
	DebouncePeriod time.Duration
	// ExpectedSymbols must be exported by every generation. A build missing
	// one, or exporting it with another type, is not installed.
	ExpectedSymbols []Expect
	// BlockUntilFirstBuild makes Handle.Current wait for the first
	// generation instead of returning ErrNoGeneration.
	BlockUntilFirstBuild bool

	GoBinary     string
	BuildArgs    []string
	BuildEnv     []string
	BuildTimeout time.Duration
	// OutputDir holds build artifacts. Empty selects a per-package
	// directory under the user cache dir.
	OutputDir string
	// KillSuperseded stops a running build once a newer change arrives.
	KillSuperseded bool

	// Include lists base-name patterns that trigger rebuilds. Empty selects
	// *.go, go.mod and go.sum.
	Include     []string
	IgnoreTests bool

	// Loader and Builder replace the plugin loader and go toolchain, mostly
	// for tests.
	Loader  loader.Loader
	Builder build.Builder
	Logger  *logging.Logger
}

func (c Config) debounce() time.Duration {
	if c.DebouncePeriod <= 0 {
		return change.DefaultQuietPeriod
	}
	return c.DebouncePeriod
}

func (c Config) buildOptions() build.Options {
	return build.Options{
		GoBinary:  c.GoBinary,
		Args:      append([]string(nil), c.BuildArgs...),
		Env:       append([]string(nil), c.BuildEnv...),
		OutputDir: c.OutputDir,
		Timeout:   c.BuildTimeout,
	}
}

func (c Config) filter() watcher.Filter {
	return watcher.Filter{Include: append([]string(nil), c.Include...), IgnoreTests: c.IgnoreTests}
}
