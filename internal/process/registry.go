// Package process tracks running build processes (the go command and the
// compiler and linker it spawns) so a canceled or superseded build can be
// stopped as a unit: SIGTERM to the process group first, SIGKILL after a
// grace period.
package process

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

const (
	defaultStopTimeout = 5 * time.Second
	DefaultGrace       = 2 * time.Second
)

var ErrProcessNotFound = errors.New("process not running")

type Entry struct {
	PID     int
	PGID    int
	Name    string
	Started time.Time
	// Wait blocks until the process has been reaped by its owner.
	Wait func(context.Context) error
}

type Registry struct {
	mu      sync.Mutex
	entries map[int]Entry
	grace   time.Duration
}

func NewRegistry() *Registry {
	return NewRegistryWithGrace(DefaultGrace)
}

// NewRegistryWithGrace sets how long a process may take to exit after
// SIGTERM before the group is killed.
func NewRegistryWithGrace(grace time.Duration) *Registry {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Registry{
		entries: make(map[int]Entry),
		grace:   grace,
	}
}

func (r *Registry) Register(pid, pgid int, name string) {
	r.RegisterWithWait(pid, pgid, name, nil)
}

func (r *Registry) RegisterWithWait(pid, pgid int, name string, wait func(context.Context) error) {
	if r == nil || pid <= 0 {
		return
	}
	r.mu.Lock()
	r.entries[pid] = Entry{
		PID:     pid,
		PGID:    pgid,
		Name:    name,
		Started: time.Now(),
		Wait:    wait,
	}
	r.mu.Unlock()
}

func (r *Registry) Unregister(pid int) {
	if r == nil || pid <= 0 {
		return
	}
	r.mu.Lock()
	delete(r.entries, pid)
	r.mu.Unlock()
}

// Entries returns the tracked processes ordered by start time.
func (r *Registry) Entries() []Entry {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	entries := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Started.Before(entries[j].Started)
	})
	return entries
}

// Stop terminates the process group registered under pid.
func (r *Registry) Stop(ctx context.Context, pid int) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	entry, ok := r.entries[pid]
	delete(r.entries, pid)
	r.mu.Unlock()
	if !ok {
		return ErrProcessNotFound
	}
	err := stopProcess(ctx, entry.PID, entry.PGID, r.graceWait(entry.Wait))
	if errors.Is(err, ErrProcessNotFound) {
		return nil
	}
	return err
}

func (r *Registry) StopAll(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	entries := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.Unlock()

	var stopErr error
	for _, entry := range entries {
		if err := stopProcess(ctx, entry.PID, entry.PGID, r.graceWait(entry.Wait)); err != nil && !errors.Is(err, ErrProcessNotFound) {
			stopErr = errors.Join(stopErr, err)
		}
	}
	if len(entries) > 0 {
		r.mu.Lock()
		for _, entry := range entries {
			delete(r.entries, entry.PID)
		}
		r.mu.Unlock()
	}
	return stopErr
}

// graceWait bounds an owner-supplied wait by the registry grace period so a
// process ignoring SIGTERM gets killed.
func (r *Registry) graceWait(wait func(context.Context) error) func(context.Context) error {
	if wait == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if ctx == nil {
			ctx = context.Background()
		}
		graceCtx, cancel := context.WithTimeout(ctx, r.grace)
		defer cancel()
		return wait(graceCtx)
	}
}
