package hotlib

import (
	"fmt"

	"hotlib/internal/generation"
)

// Ref keeps one generation loaded until Release. A Ref is not safe for use
// after Release.
type Ref struct {
	inner *generation.Ref
}

func newRef(inner *generation.Ref) *Ref {
	return &Ref{inner: inner}
}

// Generation is the number of the referenced generation.
func (r *Ref) Generation() uint64 {
	if r == nil || r.inner == nil {
		return 0
	}
	return r.inner.Generation().Number
}

// Epoch is the build epoch the generation was produced by.
func (r *Ref) Epoch() uint64 {
	if r == nil || r.inner == nil {
		return 0
	}
	return uint64(r.inner.Generation().Epoch)
}

// Get resolves a symbol of the referenced generation.
func (r *Ref) Get(name string) (Symbol, error) {
	if r == nil || r.inner == nil || r.inner.Released() {
		return Symbol{}, ErrReleased
	}
	return r.inner.Generation().Lookup(name)
}

// Symbols lists the symbols validated when the generation was installed.
func (r *Ref) Symbols() []Symbol {
	if r == nil || r.inner == nil {
		return nil
	}
	return r.inner.Generation().Symbols()
}

// Release drops the reference. It is safe to call more than once.
func (r *Ref) Release() {
	if r == nil || r.inner == nil {
		return
	}
	r.inner.Release()
}

// Lookup returns a symbol as T. Variables may be requested either as their
// pointer type or as the value type, which copies the current value.
func Lookup[T any](ref *Ref, name string) (T, error) {
	var zero T
	symbol, err := ref.Get(name)
	if err != nil {
		return zero, err
	}
	if value, ok := symbol.Value.(T); ok {
		return value, nil
	}
	if pointer, ok := symbol.Value.(*T); ok && pointer != nil {
		return *pointer, nil
	}
	return zero, fmt.Errorf("%s is %T, not %T: %w", name, symbol.Value, zero, ErrSymbolType)
}
