// Package reload holds the vocabulary shared by the reload engine: package
// identity, change signals, build attempts and the events published when a
// generation changes state.
//
// The types are plain values. Ownership of anything with a lifecycle (loaded
// libraries, processes, timers) stays with the component that created it.
package reload
