package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hotlib"
	"hotlib/internal/build"
	"hotlib/internal/config"
	"hotlib/internal/loader"
	"hotlib/internal/metrics"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writePackage(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "greeter")
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\nfunc Greet() string { return \"hi\" }\n"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return root
}

func testDeps(builder *build.ScriptedBuilder) (commandDeps, *syncBuffer) {
	memory := loader.NewMemoryLoader()
	memory.Default = func(path string) (map[string]any, error) {
		return map[string]any{"Greet": func() string { return "hello from " + filepath.Base(path) }}, nil
	}
	out := &syncBuffer{}
	return commandDeps{
		Stdout:  out,
		Stderr:  out,
		Environ: []string{"HOTLIB_LOG_LEVEL=error"},
		Engine: hotlib.EngineOptions{
			Builder: builder,
			Loader:  memory,
			Metrics: metrics.NewRegistry(),
		},
	}, out
}

func TestVersionCommand(t *testing.T) {
	deps, out := testDeps(build.NewScriptedBuilder())
	if code := run(context.Background(), []string{"version"}, deps); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, out.String())
	}
	if !strings.HasPrefix(out.String(), "hotlib ") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestBuildCommandReportsSymbols(t *testing.T) {
	deps, out := testDeps(build.NewScriptedBuilder())
	root := writePackage(t)
	if code := run(context.Background(), []string{"build", root, "--symbol", "Greet"}, deps); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, out.String())
	}
	output := out.String()
	if !strings.Contains(output, "greeter: built") {
		t.Fatalf("expected build summary, got %q", output)
	}
	if !strings.Contains(output, "func Greet") {
		t.Fatalf("expected symbol listing, got %q", output)
	}
}

func TestBuildCommandFailure(t *testing.T) {
	builder := build.NewScriptedBuilder(build.Step{
		Err:         errors.New("exit status 1"),
		Diagnostics: "main.go:3:1: syntax error",
	})
	deps, out := testDeps(builder)
	root := writePackage(t)
	if code := run(context.Background(), []string{"build", root}, deps); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out.String(), "syntax error") {
		t.Fatalf("expected diagnostics in output, got %q", out.String())
	}
}

func TestBuildCommandMissingSymbol(t *testing.T) {
	deps, out := testDeps(build.NewScriptedBuilder())
	root := writePackage(t)
	if code := run(context.Background(), []string{"build", root, "--symbol", "Missing"}, deps); code != 1 {
		t.Fatalf("expected exit 1, got %d: %s", code, out.String())
	}
}

func TestWatchCommandCallsSymbol(t *testing.T) {
	deps, out := testDeps(build.NewScriptedBuilder())
	root := writePackage(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{"watch", root, "--call", "Greet"}, deps)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "Greet: hello from greeter-e1.so") {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for call output, got %q", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(out.String(), "greeter: generation 1 loaded (epoch 1)") {
		t.Fatalf("expected reload line, got %q", out.String())
	}
	cancel()
	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("expected clean exit, got %d: %s", code, out.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watch did not stop after cancel")
	}
}

func TestWatchCommandRequiresDir(t *testing.T) {
	deps, _ := testDeps(build.NewScriptedBuilder())
	if code := run(context.Background(), []string{"watch"}, deps); code != 1 {
		t.Fatalf("expected exit 1 without dirs, got %d", code)
	}
}

func TestPackageConfigFromSettings(t *testing.T) {
	settings, err := config.LoadWithEnv("", nil, map[string]any{
		"watch.debounce-ms":     int64(20),
		"build.kill-superseded": true,
		"load.symbols":          []string{"Greet"},
	})
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	cfg := packageConfig(settings, nil)
	if cfg.DebouncePeriod != 20*time.Millisecond {
		t.Fatalf("unexpected debounce %s", cfg.DebouncePeriod)
	}
	if !cfg.KillSuperseded || !cfg.BlockUntilFirstBuild || !cfg.IgnoreTests {
		t.Fatalf("unexpected flags %+v", cfg)
	}
	if len(cfg.ExpectedSymbols) != 1 || cfg.ExpectedSymbols[0].Name != "Greet" {
		t.Fatalf("unexpected symbols %+v", cfg.ExpectedSymbols)
	}
	options := engineOptions(hotlib.EngineOptions{}, settings, nil)
	if options.MaxWatches != 4096 {
		t.Fatalf("expected max watches from settings, got %d", options.MaxWatches)
	}
}

func TestCallSymbolRejectsVariables(t *testing.T) {
	deps, _ := testDeps(build.NewScriptedBuilder())
	memory := loader.NewMemoryLoader()
	value := 3
	memory.Default = func(path string) (map[string]any, error) {
		return map[string]any{"Count": &value, "Fail": func() error { return errors.New("boom") }}, nil
	}
	deps.Engine.Loader = memory
	engine, err := hotlib.NewEngine(deps.Engine)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()
	handle, err := engine.Watch(writePackage(t), hotlib.Config{BlockUntilFirstBuild: true})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ref, err := handle.Current(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	defer ref.Release()

	if _, err := callSymbol(ref, "Count"); !errors.Is(err, hotlib.ErrSymbolType) {
		t.Fatalf("expected symbol type error, got %v", err)
	}
	if _, err := callSymbol(ref, "Fail"); err == nil || err.Error() != "boom" {
		t.Fatalf("expected call error, got %v", err)
	}
	if _, err := callSymbol(ref, "Absent"); !errors.Is(err, hotlib.ErrSymbolNotFound) {
		t.Fatalf("expected missing symbol error, got %v", err)
	}
}
