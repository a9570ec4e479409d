package loader

import (
	"fmt"
	"os"
	"sync"
)

// MemoryLoader serves libraries from an in-process table keyed by artifact
// path. Tests register symbol tables with Add and inspect load and close
// counts.
type MemoryLoader struct {
	mu      sync.Mutex
	tables  map[string]map[string]any
	fail    map[string]error
	loads   map[string]int
	closes  map[string]int
	open    map[string]int
	Default func(path string) (map[string]any, error)
}

func NewMemoryLoader() *MemoryLoader {
	return &MemoryLoader{
		tables: make(map[string]map[string]any),
		fail:   make(map[string]error),
		loads:  make(map[string]int),
		closes: make(map[string]int),
		open:   make(map[string]int),
	}
}

// Add registers the symbols served for path.
func (l *MemoryLoader) Add(path string, symbols map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	table := make(map[string]any, len(symbols))
	for name, value := range symbols {
		table[name] = value
	}
	l.tables[path] = table
	delete(l.fail, path)
}

// Fail makes loading path return err.
func (l *MemoryLoader) Fail(path string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail[path] = err
}

func (l *MemoryLoader) Load(path string) (Library, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.fail[path]; ok {
		return nil, err
	}
	table, ok := l.tables[path]
	if !ok && l.Default != nil {
		symbols, err := l.Default(path)
		if err != nil {
			return nil, err
		}
		table = symbols
		ok = true
	}
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, os.ErrNotExist)
	}
	l.loads[path]++
	l.open[path]++
	return &memoryLibrary{path: path, symbols: table, loader: l}, nil
}

func (l *MemoryLoader) Loads(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[path]
}

func (l *MemoryLoader) Closes(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes[path]
}

// Open reports how many libraries are loaded and not yet closed.
func (l *MemoryLoader) Open() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, count := range l.open {
		total += count
	}
	return total
}

type memoryLibrary struct {
	mu      sync.Mutex
	path    string
	symbols map[string]any
	loader  *MemoryLoader
	closed  bool
}

func (l *memoryLibrary) Path() string {
	return l.path
}

func (l *memoryLibrary) Lookup(name string) (any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrLibraryClosed
	}
	value, ok := l.symbols[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrSymbolNotFound)
	}
	return value, nil
}

func (l *memoryLibrary) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.loader.mu.Lock()
	l.loader.closes[l.path]++
	l.loader.open[l.path]--
	l.loader.mu.Unlock()
	return nil
}
