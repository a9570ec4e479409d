// Package loader opens build artifacts and resolves their exported symbols.
package loader

import (
	"errors"
	"strings"
	"syscall"

	"hotlib/internal/reload"
)

var (
	ErrSymbolNotFound = errors.New("symbol not found")
	ErrLibraryClosed  = errors.New("library closed")
	ErrUnsupported    = errors.New("dynamic loading unsupported on this platform")
)

// IsExhausted reports whether err means the process ran out of the
// resources needed to open another library.
func IsExhausted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, reload.ErrResourceExhausted) || errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE) || errors.Is(err, syscall.ENOMEM) {
		return true
	}
	// dlopen failures only carry text.
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "too many open files") || strings.Contains(message, "cannot allocate memory")
}

// Loader opens artifacts produced by a build.
type Loader interface {
	Load(path string) (Library, error)
}

// Library is one opened artifact. Lookup returns functions as func values
// and variables as pointers to them. After Close, Lookup fails with
// ErrLibraryClosed.
type Library interface {
	Path() string
	Lookup(name string) (any, error)
	Close() error
}
