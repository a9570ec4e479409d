package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"hotlib"
	"hotlib/internal/config"
	"hotlib/internal/logging"
	"hotlib/internal/metrics"
	"hotlib/internal/reload"
	"hotlib/internal/statusapi"

	"golang.org/x/sync/errgroup"
)

type watchRequest struct {
	Dirs     []string
	Calls    []string
	Settings config.Settings
	Logger   *logging.Logger
	Out      io.Writer
	Engine   hotlib.EngineOptions
}

// lockedWriter serializes output from the per-package goroutines.
type lockedWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *lockedWriter) Printf(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, format, args...)
}

func runWatch(ctx context.Context, req watchRequest) error {
	options := engineOptions(req.Engine, req.Settings, req.Logger)
	if options.Metrics == nil {
		options.Metrics = metrics.NewRegistry().WithProcessCollectors()
	}
	engine, err := hotlib.NewEngine(options)
	if err != nil {
		return err
	}
	cfg := packageConfig(req.Settings, req.Logger)
	out := &lockedWriter{out: req.Out}

	handles := make([]*hotlib.Handle, 0, len(req.Dirs))
	for _, dir := range req.Dirs {
		handle, err := engine.Watch(dir, cfg)
		if err != nil {
			return errors.Join(fmt.Errorf("watch %s: %w", dir, err), engine.Close())
		}
		handles = append(handles, handle)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, handle := range handles {
		handle := handle
		group.Go(func() error {
			return followReloads(groupCtx, handle, req.Calls, out)
		})
		group.Go(func() error {
			followResults(groupCtx, handle, out)
			return nil
		})
	}
	if addr := strings.TrimSpace(req.Settings.Status.Addr); addr != "" {
		router := statusapi.NewRouter(engine, statusapi.Options{Logger: req.Logger, Metrics: engine.Metrics()})
		group.Go(func() error {
			return statusapi.Serve(groupCtx, addr, router, req.Logger)
		})
	}

	// Ending live log subscriptions closes /logs/stream sockets, which
	// server shutdown does not wait for.
	defer req.Logger.Close()
	err = group.Wait()
	return errors.Join(err, engine.Close())
}

// followReloads reports every generation that becomes current and runs the
// requested calls against it. It returns nil once ctx ends.
func followReloads(ctx context.Context, handle *hotlib.Handle, calls []string, out *lockedWriter) error {
	name := handle.Package().String()
	var last uint64
	for {
		ref, err := handle.Next(ctx, last)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: %w", name, err)
		}
		last = ref.Generation()
		out.Printf("%s: generation %d loaded (epoch %d)\n", name, ref.Generation(), ref.Epoch())
		for _, call := range calls {
			result, err := callSymbol(ref, call)
			if err != nil {
				out.Printf("%s: %s: %v\n", name, call, err)
				continue
			}
			if result != "" {
				out.Printf("%s: %s: %s\n", name, call, result)
			}
		}
		ref.Release()
	}
}

func followResults(ctx context.Context, handle *hotlib.Handle, out *lockedWriter) {
	name := handle.Package().String()
	results, cancel := handle.Results()
	defer cancel()
	for {
		select {
		case attempt, ok := <-results:
			if !ok {
				return
			}
			if attempt.Status != reload.StatusFailed {
				continue
			}
			out.Printf("%s: build %d failed after %s: %v\n", name, attempt.Epoch, attempt.Duration().Round(time.Millisecond), attempt.Err)
			if diagnostics := strings.TrimSpace(attempt.Diagnostics); diagnostics != "" {
				out.Printf("%s\n", diagnostics)
			}
		case <-ctx.Done():
			return
		}
	}
}

// callSymbol invokes a no-argument exported function. Supported shapes are
// func(), func() string, func() error and func(context.Context) error.
func callSymbol(ref *hotlib.Ref, name string) (string, error) {
	symbol, err := ref.Get(name)
	if err != nil {
		return "", err
	}
	switch fn := symbol.Value.(type) {
	case func():
		fn()
		return "", nil
	case func() string:
		return fn(), nil
	case func() error:
		return "", fn()
	case func(context.Context) error:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return "", fn(ctx)
	default:
		return "", fmt.Errorf("%w: %s is %T, want a func with no arguments", hotlib.ErrSymbolType, name, symbol.Value)
	}
}
