package loader

import (
	"errors"
	"fmt"
	"os"
	"plugin"
	"runtime"
	"strings"
	"sync"

	"hotlib/internal/logging"
	"hotlib/internal/reload"
)

// PluginLoader opens Go plugins. The runtime cannot unmap a plugin, so Close
// only drops the handle and, with RemoveOnClose, deletes the artifact file.
type PluginLoader struct {
	RemoveOnClose bool
	Logger        *logging.Logger
}

func NewPluginLoader(removeOnClose bool, logger *logging.Logger) *PluginLoader {
	if logger == nil {
		logger = logging.Discard()
	}
	return &PluginLoader{RemoveOnClose: removeOnClose, Logger: logger.Component("loader")}
}

func (l *PluginLoader) Load(path string) (Library, error) {
	if !pluginSupported() {
		return nil, fmt.Errorf("%w (%s/%s)", ErrUnsupported, runtime.GOOS, runtime.GOARCH)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	handle, err := plugin.Open(path)
	if err != nil {
		if IsExhausted(err) {
			return nil, fmt.Errorf("%w: %v", reload.ErrResourceExhausted, err)
		}
		return nil, err
	}
	return &pluginLibrary{path: path, handle: handle, loader: l}, nil
}

func pluginSupported() bool {
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd":
		return true
	default:
		return false
	}
}

type pluginLibrary struct {
	mu     sync.Mutex
	path   string
	handle *plugin.Plugin
	loader *PluginLoader
}

func (l *pluginLibrary) Path() string {
	return l.path
}

func (l *pluginLibrary) Lookup(name string) (any, error) {
	l.mu.Lock()
	handle := l.handle
	l.mu.Unlock()
	if handle == nil {
		return nil, ErrLibraryClosed
	}
	symbol, err := handle.Lookup(name)
	if err != nil {
		// plugin.Lookup reports a missing symbol with a plain error.
		if strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("%s: %w", name, ErrSymbolNotFound)
		}
		return nil, err
	}
	return symbol, nil
}

func (l *pluginLibrary) Close() error {
	l.mu.Lock()
	if l.handle == nil {
		l.mu.Unlock()
		return nil
	}
	l.handle = nil
	l.mu.Unlock()

	if l.loader == nil || !l.loader.RemoveOnClose {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	l.loader.Logger.Debug("artifact removed", map[string]string{"artifact": l.path})
	return nil
}
