package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"hotlib"
	"hotlib/internal/config"
	"hotlib/internal/logging"
	"hotlib/internal/reload"

	"github.com/dustin/go-humanize"
)

type buildRequest struct {
	Dir      string
	Settings config.Settings
	Logger   *logging.Logger
	Out      io.Writer
	Engine   hotlib.EngineOptions
}

// runBuild builds dir once, loads the artifact and checks the configured
// symbols, then tears everything down.
func runBuild(ctx context.Context, req buildRequest) (err error) {
	engine, err := hotlib.NewEngine(engineOptions(req.Engine, req.Settings, req.Logger))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, engine.Close())
	}()

	cfg := packageConfig(req.Settings, req.Logger)
	cfg.BlockUntilFirstBuild = true
	handle, err := engine.Watch(req.Dir, cfg)
	if err != nil {
		return err
	}

	attempt, err := handle.Wait(ctx, 1)
	if err != nil {
		return err
	}
	name := handle.Package().String()
	switch attempt.Status {
	case reload.StatusSucceeded:
	case reload.StatusFailed:
		if diagnostics := strings.TrimSpace(attempt.Diagnostics); diagnostics != "" {
			fmt.Fprintln(req.Out, diagnostics)
		}
		return fmt.Errorf("%s: %w", name, attempt.Err)
	default:
		return fmt.Errorf("%s: build ended %s", name, attempt.Status)
	}

	ref, err := handle.Current(ctx)
	if err != nil {
		return err
	}
	defer ref.Release()

	size := "unknown size"
	if info, statErr := os.Stat(attempt.Artifact); statErr == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}
	fmt.Fprintf(req.Out, "%s: built %s (%s) in %s\n", name, attempt.Artifact, size, attempt.Duration().Round(time.Millisecond))
	for _, symbol := range ref.Symbols() {
		fmt.Fprintf(req.Out, "  %s %s %T\n", symbol.Kind, symbol.Name, symbol.Value)
	}
	return nil
}
