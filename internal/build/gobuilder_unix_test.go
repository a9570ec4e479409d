//go:build !windows

package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hotlib/internal/process"
	"hotlib/internal/reload"
)

const fakeGoSuccess = `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then out="$2"; shift; fi
  shift
done
printf 'artifact' > "$out"
`

const fakeGoFailure = `#!/bin/sh
echo "./main.go:3:5: undefined: broken" >&2
exit 2
`

const fakeGoNoArtifact = `#!/bin/sh
exit 0
`

const fakeGoSlow = `#!/bin/sh
sleep 10
`

func fakeGo(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "go")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake go: %v", err)
	}
	return path
}

func testRequest(t *testing.T, goBinary string) Request {
	t.Helper()
	root := t.TempDir()
	return Request{
		Package: reload.Package{ID: root, Name: "plugin", Root: root},
		Epoch:   1,
		Options: Options{GoBinary: goBinary, OutputDir: t.TempDir()},
	}
}

func TestGoBuilderProducesArtifact(t *testing.T) {
	builder := NewGoBuilder(nil, nil)
	request := testRequest(t, fakeGo(t, fakeGoSuccess))

	result, err := builder.Build(context.Background(), request)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if result.Artifact != ArtifactPath(request.Options.OutputDir, request.Package, 1) {
		t.Fatalf("unexpected artifact %q", result.Artifact)
	}
	if result.Size != int64(len("artifact")) {
		t.Fatalf("unexpected size %d", result.Size)
	}
}

func TestGoBuilderReportsCompileFailure(t *testing.T) {
	builder := NewGoBuilder(nil, nil)
	request := testRequest(t, fakeGo(t, fakeGoFailure))

	_, err := builder.Build(context.Background(), request)
	buildErr, ok := AsBuildError(err)
	if !ok {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if buildErr.Stage != StageCompile || buildErr.ExitCode != 2 {
		t.Fatalf("unexpected error %+v", buildErr)
	}
	if !strings.Contains(buildErr.Diagnostics, "undefined: broken") {
		t.Fatalf("expected diagnostics, got %q", buildErr.Diagnostics)
	}
}

func TestGoBuilderReportsMissingArtifact(t *testing.T) {
	builder := NewGoBuilder(nil, nil)
	request := testRequest(t, fakeGo(t, fakeGoNoArtifact))

	_, err := builder.Build(context.Background(), request)
	buildErr, ok := AsBuildError(err)
	if !ok || buildErr.Stage != StageArtifact {
		t.Fatalf("expected artifact stage error, got %v", err)
	}
}

func TestGoBuilderReportsSpawnFailure(t *testing.T) {
	builder := NewGoBuilder(nil, nil)
	request := testRequest(t, filepath.Join(t.TempDir(), "missing-go"))

	_, err := builder.Build(context.Background(), request)
	buildErr, ok := AsBuildError(err)
	if !ok || buildErr.Stage != StageSpawn {
		t.Fatalf("expected spawn stage error, got %v", err)
	}
}

func TestGoBuilderCancelStopsProcess(t *testing.T) {
	processes := process.NewRegistryWithGrace(100 * time.Millisecond)
	builder := NewGoBuilder(processes, nil)
	request := testRequest(t, fakeGo(t, fakeGoSlow))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	started := time.Now()
	_, err := builder.Build(ctx, request)
	if !IsCanceled(err) {
		t.Fatalf("expected canceled error, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("cancel took too long: %s", elapsed)
	}
	if got := len(processes.Entries()); got != 0 {
		t.Fatalf("expected process registry drained, got %d", got)
	}
}
