package build

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"hotlib/internal/logging"
	"hotlib/internal/process"
	"hotlib/internal/reload"

	"github.com/dustin/go-humanize"
)

const (
	DefaultGoBinary = "go"
	ArtifactSuffix  = ".so"
	pluginPathRoot  = "hotlib"
)

// GoBuilder runs `go build -buildmode=plugin` in the package root. Each
// build gets a unique plugin path because the runtime refuses to load two
// plugins with the same one.
type GoBuilder struct {
	Processes *process.Registry
	Logger    *logging.Logger
	Now       func() time.Time
}

func NewGoBuilder(processes *process.Registry, logger *logging.Logger) *GoBuilder {
	if processes == nil {
		processes = process.NewRegistry()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &GoBuilder{Processes: processes, Logger: logger.Component("build"), Now: time.Now}
}

// DefaultOutputDir is the per-package artifact directory under the user
// cache.
func DefaultOutputDir(pkg reload.Package) string {
	base, err := os.UserCacheDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}
	sum := sha256.Sum256([]byte(pkg.Root))
	return filepath.Join(base, "hotlib", fmt.Sprintf("%s-%s", pkg.Name, hex.EncodeToString(sum[:])[:8]))
}

// ArtifactPath is where the build for epoch writes its output.
func ArtifactPath(dir string, pkg reload.Package, epoch reload.Epoch) string {
	return filepath.Join(dir, fmt.Sprintf("%s-e%d%s", pkg.Name, epoch, ArtifactSuffix))
}

func (b *GoBuilder) Build(ctx context.Context, request Request) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	options := request.Options
	pkg := request.Package
	fail := func(stage string, err error) *BuildError {
		return &BuildError{Stage: stage, Package: pkg.Name, Epoch: request.Epoch, Err: err}
	}

	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	outputDir := options.OutputDir
	if outputDir == "" {
		outputDir = DefaultOutputDir(pkg)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Result{}, fail(StageSpawn, err)
	}
	artifact := ArtifactPath(outputDir, pkg, request.Epoch)
	if err := os.Remove(artifact); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Result{}, fail(StageSpawn, err)
	}

	goBinary := options.GoBinary
	if goBinary == "" {
		goBinary = DefaultGoBinary
	}
	now := b.now()
	args := Args(pkg, request.Epoch, artifact, options.Args, now)

	var output bytes.Buffer
	cmd := exec.Command(goBinary, args...)
	cmd.Dir = pkg.Root
	cmd.Env = append(os.Environ(), options.Env...)
	cmd.Stdout = &output
	cmd.Stderr = &output
	process.Configure(cmd)

	if err := ctx.Err(); err != nil {
		return Result{}, fail(StageCanceled, err)
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fail(StageSpawn, err)
	}

	pid := cmd.Process.Pid
	exited := make(chan struct{})
	b.Processes.RegisterWithWait(pid, process.GroupID(pid), "go build "+pkg.Name, func(waitCtx context.Context) error {
		select {
		case <-exited:
			return nil
		case <-waitCtx.Done():
			return waitCtx.Err()
		}
	})

	var stopWG sync.WaitGroup
	stopWG.Add(1)
	go func() {
		defer stopWG.Done()
		select {
		case <-ctx.Done():
			_ = b.Processes.Stop(context.Background(), pid)
		case <-exited:
		}
	}()

	waitErr := cmd.Wait()
	close(exited)
	stopWG.Wait()
	b.Processes.Unregister(pid)
	duration := b.now().Sub(now)
	diagnostics := output.String()

	if ctxErr := ctx.Err(); ctxErr != nil {
		_ = os.Remove(artifact)
		buildErr := fail(StageCanceled, ctxErr)
		buildErr.Diagnostics = diagnostics
		return Result{Duration: duration}, buildErr
	}
	if waitErr != nil {
		buildErr := fail(StageCompile, waitErr)
		buildErr.Diagnostics = diagnostics
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			buildErr.ExitCode = exitErr.ExitCode()
		}
		b.Logger.Warn("build failed", map[string]string{
			logging.FieldPackage: pkg.Name,
			logging.FieldEpoch:   request.Epoch.String(),
			"exit_code":          strconv.Itoa(buildErr.ExitCode),
			"diagnostics":        strconv.Itoa(DiagnosticLines(diagnostics)),
			"duration":           duration.Round(time.Millisecond).String(),
		})
		return Result{Diagnostics: diagnostics, Duration: duration}, buildErr
	}

	info, err := os.Stat(artifact)
	if err != nil {
		buildErr := fail(StageArtifact, err)
		buildErr.Diagnostics = diagnostics
		return Result{Diagnostics: diagnostics, Duration: duration}, buildErr
	}

	b.Logger.Info("build finished", map[string]string{
		logging.FieldPackage: pkg.Name,
		logging.FieldEpoch:   request.Epoch.String(),
		"artifact":           artifact,
		"size":               humanize.Bytes(uint64(info.Size())),
		"duration":           duration.Round(time.Millisecond).String(),
	})
	return Result{
		Artifact:    artifact,
		Diagnostics: diagnostics,
		Size:        info.Size(),
		Duration:    duration,
	}, nil
}

func (b *GoBuilder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Args assembles the go command line. A caller-supplied -ldflags value is
// kept and extended with the plugin path.
func Args(pkg reload.Package, epoch reload.Epoch, artifact string, extra []string, now time.Time) []string {
	pluginPath := fmt.Sprintf("-pluginpath=%s/%s/%d-%d", pluginPathRoot, pkg.Name, epoch, now.UnixNano())
	args := []string{"build", "-buildmode=plugin"}
	ldflags := pluginPath
	rest := make([]string, 0, len(extra))
	for index := 0; index < len(extra); index++ {
		arg := extra[index]
		switch {
		case arg == "-ldflags" || arg == "--ldflags":
			if index+1 < len(extra) {
				ldflags = strings.TrimSpace(extra[index+1] + " " + pluginPath)
				index++
			}
		case strings.HasPrefix(arg, "-ldflags=") || strings.HasPrefix(arg, "--ldflags="):
			value := arg[strings.Index(arg, "=")+1:]
			ldflags = strings.TrimSpace(strings.Trim(value, `"'`) + " " + pluginPath)
		case arg == "-buildmode" || arg == "-o":
			index++
		case strings.HasPrefix(arg, "-buildmode="), strings.HasPrefix(arg, "-o="):
		default:
			rest = append(rest, arg)
		}
	}
	args = append(args, "-ldflags="+ldflags, "-o", artifact)
	args = append(args, rest...)
	return append(args, ".")
}
