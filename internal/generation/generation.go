// Package generation keeps the loaded generations of each package and
// decides when an old one may be unloaded.
//
// A generation is Current until a newer one is installed or the package is
// retired, then Retiring until its last reference is released, then
// Unloaded. States never move backwards and unloading happens exactly once.
package generation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync/atomic"
	"time"

	"hotlib/internal/loader"
	"hotlib/internal/reload"
)

type SymbolKind string

const (
	KindFunc SymbolKind = "func"
	KindVar  SymbolKind = "var"
)

// Expect names a symbol every generation must export. A nil Type accepts any
// value; otherwise functions must have exactly Type and variables must be
// *Type.
type Expect struct {
	Name string
	Type reflect.Type
}

// ExpectFunc is shorthand for an Expect whose type is taken from a typed nil
// function value, e.g. ExpectFunc("Handle", (func(string) error)(nil)).
func ExpectFunc(name string, fn any) Expect {
	return Expect{Name: name, Type: reflect.TypeOf(fn)}
}

// ExpectVar is shorthand for an Expect on a variable whose element type is
// taken from ptr, e.g. ExpectVar("Config", (*Settings)(nil)).
func ExpectVar(name string, ptr any) Expect {
	t := reflect.TypeOf(ptr)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return Expect{Name: name, Type: t}
}

type Symbol struct {
	Name  string
	Kind  SymbolKind
	Value any
}

// Generation is one successfully loaded artifact. Its symbol table is fixed
// at install time.
type Generation struct {
	Number   uint64
	Package  reload.Package
	Epoch    reload.Epoch
	Artifact string
	LoadedAt time.Time

	symbols map[string]Symbol
	library loader.Library
	refs    atomic.Int64
	state   atomic.Value
}

func newGeneration(number uint64, pkg reload.Package, epoch reload.Epoch, artifact string, library loader.Library, symbols map[string]Symbol, now time.Time) *Generation {
	generation := &Generation{
		Number:   number,
		Package:  pkg,
		Epoch:    epoch,
		Artifact: artifact,
		LoadedAt: now,
		symbols:  symbols,
		library:  library,
	}
	generation.state.Store(reload.StateCurrent)
	return generation
}

func (g *Generation) State() reload.GenerationState {
	return g.state.Load().(reload.GenerationState)
}

func (g *Generation) Refs() int64 {
	return g.refs.Load()
}

// Symbols returns the resolved table sorted by name.
func (g *Generation) Symbols() []Symbol {
	symbols := make([]Symbol, 0, len(g.symbols))
	for _, symbol := range g.symbols {
		symbols = append(symbols, symbol)
	}
	sort.Slice(symbols, func(i, j int) bool { return symbols[i].Name < symbols[j].Name })
	return symbols
}

// Lookup returns a symbol from the install-time table, falling back to the
// library for names that were not declared up front.
func (g *Generation) Lookup(name string) (Symbol, error) {
	if symbol, ok := g.symbols[name]; ok {
		return symbol, nil
	}
	if g.State() == reload.StateUnloaded || g.library == nil {
		return Symbol{}, fmt.Errorf("%s: %w", name, loader.ErrLibraryClosed)
	}
	value, err := g.library.Lookup(name)
	if err != nil {
		return Symbol{}, err
	}
	return resolve(Expect{Name: name}, value)
}

// resolve checks value against expect and classifies it.
func resolve(expect Expect, value any) (Symbol, error) {
	actual := reflect.TypeOf(value)
	if actual == nil {
		return Symbol{}, fmt.Errorf("%s is nil: %w", expect.Name, ErrSymbolType)
	}
	symbol := Symbol{Name: expect.Name, Value: value}
	if expect.Type == nil {
		if actual.Kind() == reflect.Func {
			symbol.Kind = KindFunc
		} else {
			symbol.Kind = KindVar
		}
		return symbol, nil
	}
	switch {
	case actual == expect.Type:
		if actual.Kind() == reflect.Func {
			symbol.Kind = KindFunc
		} else {
			symbol.Kind = KindVar
		}
	case actual == reflect.PointerTo(expect.Type):
		symbol.Kind = KindVar
	default:
		return Symbol{}, fmt.Errorf("%s has type %s, want %s: %w", expect.Name, actual, expect.Type, ErrSymbolType)
	}
	return symbol, nil
}

// Ref is one counted hold on a generation. Release is idempotent.
type Ref struct {
	generation *Generation
	registry   *Registry
	released   atomic.Bool
}

func (r *Ref) Generation() *Generation {
	if r == nil {
		return nil
	}
	return r.generation
}

func (r *Ref) Released() bool {
	return r == nil || r.released.Load()
}

func (r *Ref) Release() {
	if r == nil || r.registry == nil {
		return
	}
	r.registry.Release(r)
}

// Info is a point-in-time view of a live generation.
type Info struct {
	Number   uint64
	Epoch    reload.Epoch
	Artifact string
	State    reload.GenerationState
	Refs     int64
	LoadedAt time.Time
}

var ErrSymbolType = errors.New("symbol has wrong type")

const (
	StageOpen   = "open"
	StageSymbol = "symbol"
	StageType   = "type"
)

// LoadError is a failed install. The current generation is unaffected.
type LoadError struct {
	Stage    string
	Package  string
	Artifact string
	Symbol   string
	Err      error
}

func (e *LoadError) Error() string {
	message := fmt.Sprintf("load %s %s", e.Package, e.Stage)
	if e.Symbol != "" {
		message = fmt.Sprintf("%s %q", message, e.Symbol)
	}
	if e.Err == nil {
		return message
	}
	return fmt.Sprintf("%s: %v", message, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
