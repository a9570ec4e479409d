// Package build runs the Go toolchain to produce plugin artifacts.
package build

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hotlib/internal/reload"
)

const (
	StageSpawn    = "spawn"
	StageCompile  = "compile"
	StageArtifact = "artifact"
	StageCanceled = "canceled"
)

// Options configures builds for one package.
type Options struct {
	GoBinary  string
	Args      []string
	Env       []string
	OutputDir string
	Timeout   time.Duration
}

type Request struct {
	Package reload.Package
	Epoch   reload.Epoch
	Options Options
}

type Result struct {
	Artifact    string
	Diagnostics string
	Size        int64
	Duration    time.Duration
}

// Builder turns a package's sources into a loadable artifact. Build blocks
// until the artifact exists or the build fails; cancelling ctx stops the
// build and yields a StageCanceled error.
type Builder interface {
	Build(ctx context.Context, request Request) (Result, error)
}

// BuildError is a failed build. Diagnostics holds the tool's combined output
// and is not interpreted.
type BuildError struct {
	Stage       string
	Package     string
	Epoch       reload.Epoch
	ExitCode    int
	Diagnostics string
	Err         error
}

func (e *BuildError) Error() string {
	prefix := fmt.Sprintf("build %s (epoch %d) %s", e.Package, e.Epoch, e.Stage)
	if e.Stage == StageCompile && e.ExitCode != 0 {
		prefix = fmt.Sprintf("%s: exit status %d", prefix, e.ExitCode)
	}
	if e.Err == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// IsCanceled reports whether err is a build stopped by its context.
func IsCanceled(err error) bool {
	buildErr, ok := AsBuildError(err)
	return ok && buildErr.Stage == StageCanceled
}

func AsBuildError(err error) (*BuildError, bool) {
	var buildErr *BuildError
	if errors.As(err, &buildErr) {
		return buildErr, true
	}
	return nil, false
}
