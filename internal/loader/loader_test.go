package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"syscall"
	"testing"

	"hotlib/internal/reload"
)

func TestMemoryLoaderServesSymbols(t *testing.T) {
	loader := NewMemoryLoader()
	greet := func() string { return "hi" }
	loader.Add("a.so", map[string]any{"Greet": greet})

	library, err := loader.Load("a.so")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	value, err := library.Lookup("Greet")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if fn, ok := value.(func() string); !ok || fn() != "hi" {
		t.Fatalf("unexpected symbol %#v", value)
	}
	if _, err := library.Lookup("Missing"); !errors.Is(err, ErrSymbolNotFound) {
		t.Fatalf("expected ErrSymbolNotFound, got %v", err)
	}
	if loader.Open() != 1 {
		t.Fatalf("expected one open library")
	}

	if err := library.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := library.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if loader.Closes("a.so") != 1 || loader.Open() != 0 {
		t.Fatalf("unexpected close accounting: closes=%d open=%d", loader.Closes("a.so"), loader.Open())
	}
	if _, err := library.Lookup("Greet"); !errors.Is(err, ErrLibraryClosed) {
		t.Fatalf("expected ErrLibraryClosed, got %v", err)
	}
}

func TestMemoryLoaderFailures(t *testing.T) {
	loader := NewMemoryLoader()
	if _, err := loader.Load("missing.so"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	boom := errors.New("boom")
	loader.Fail("bad.so", boom)
	if _, err := loader.Load("bad.so"); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
}

func TestPluginLoaderRejectsMissingFile(t *testing.T) {
	loader := NewPluginLoader(true, nil)
	_, err := loader.Load(filepath.Join(t.TempDir(), "missing.so"))
	if err == nil {
		t.Fatalf("expected error for missing artifact")
	}
}

func TestPluginLibraryCloseRemovesArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugin-e1.so")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	library := &pluginLibrary{path: path, handle: &plugin.Plugin{}, loader: NewPluginLoader(true, nil)}
	if err := library.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected artifact removed, got %v", err)
	}
	if _, err := library.Lookup("Anything"); !errors.Is(err, ErrLibraryClosed) {
		t.Fatalf("expected ErrLibraryClosed, got %v", err)
	}
	if err := library.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestIsExhausted(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: errors.New("plugin.Open(\"x.so\"): too many open files"), want: true},
		{err: fmt.Errorf("open: %w", syscall.EMFILE), want: true},
		{err: fmt.Errorf("wrapped: %w", reload.ErrResourceExhausted), want: true},
		{err: errors.New("plugin was built with a different version of package"), want: false},
	}
	for _, tc := range cases {
		if got := IsExhausted(tc.err); got != tc.want {
			t.Fatalf("IsExhausted(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
