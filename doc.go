// Package hotlib rebuilds and reloads a Go plugin package while the host
// process keeps running.
//
// Watch a package directory to get a Handle. Every time the sources settle
// after a change, the package is rebuilt with `go build -buildmode=plugin`,
// loaded, checked for the expected symbols and made current. Callers take a
// Ref to the current generation, use its symbols, and release it; an old
// generation is dropped only after its last Ref is released.
//
//	handle, err := hotlib.Watch("./plugins/greeter", hotlib.Config{
//		ExpectedSymbols:      []hotlib.Expect{hotlib.ExpectFunc("Greet", (func(string) string)(nil))},
//		BlockUntilFirstBuild: true,
//	})
//	if err != nil {
//		return err
//	}
//	defer handle.Close()
//
//	ref, err := handle.Current(ctx)
//	if err != nil {
//		return err
//	}
//	defer ref.Release()
//	greet, err := hotlib.Lookup[func(string) string](ref, "Greet")
//
// The Go runtime cannot unmap a plugin. Unloading a generation closes its
// handle and removes the artifact file; the code stays mapped until exit.
package hotlib
