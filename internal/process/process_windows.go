//go:build windows

package process

import (
	"context"
	"os"
	"os/exec"
	"time"
)

// Configure is a no-op: Windows has no process groups to signal, so a build
// is stopped by killing the go command itself.
func Configure(cmd *exec.Cmd) {}

// GroupID is always 0 on Windows.
func GroupID(pid int) int {
	return 0
}

// stopProcess kills the build process and waits for it. Compiler children
// of the go command exit once their parent's pipes close.
func stopProcess(ctx context.Context, pid, _ int, wait func(context.Context) error) error {
	if pid <= 0 {
		return nil
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return ErrProcessNotFound
	}
	_ = process.Kill()
	return waitForExit(ctx, pid, wait)
}

func waitForExit(ctx context.Context, pid int, wait func(context.Context) error) error {
	if wait != nil {
		return wait(ctx)
	}
	if pid <= 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := defaultStopTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ctx.Err()
		}
		if remaining < timeout {
			timeout = remaining
		}
	}
	deadline := time.Now().Add(timeout)
	for {
		process, err := os.FindProcess(pid)
		if err != nil || process == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return context.DeadlineExceeded
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
