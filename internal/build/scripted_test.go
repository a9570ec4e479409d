package build

import (
	"context"
	"errors"
	"testing"
	"time"

	"hotlib/internal/reload"
)

func TestScriptedBuilderFollowsScript(t *testing.T) {
	release := make(chan struct{})
	builder := NewScriptedBuilder(
		Step{Artifact: "first.so"},
		Step{Err: errors.New("boom"), Diagnostics: "main.go:1:1: boom"},
		Step{Release: release},
	)
	pkg := reload.Package{ID: "/src/plugin", Name: "plugin", Root: "/src/plugin"}

	result, err := builder.Build(context.Background(), Request{Package: pkg, Epoch: 1})
	if err != nil || result.Artifact != "first.so" {
		t.Fatalf("unexpected first result %+v, %v", result, err)
	}

	_, err = builder.Build(context.Background(), Request{Package: pkg, Epoch: 2})
	buildErr, ok := AsBuildError(err)
	if !ok || buildErr.Stage != StageCompile {
		t.Fatalf("expected compile error, got %v", err)
	}

	done := make(chan Result, 1)
	go func() {
		result, _ := builder.Build(context.Background(), Request{Package: pkg, Epoch: 3})
		done <- result
	}()
	select {
	case <-done:
		t.Fatal("build completed before release")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case result := <-done:
		if result.Artifact != ScriptedArtifact(Request{Package: pkg, Epoch: 3}) {
			t.Fatalf("unexpected artifact %q", result.Artifact)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for released build")
	}
	if got := len(builder.Calls()); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestScriptedBuilderHonorsCancel(t *testing.T) {
	builder := NewScriptedBuilder(Step{Release: make(chan struct{})})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := builder.Build(ctx, Request{Package: reload.Package{ID: "x", Name: "x"}, Epoch: 1})
	if !IsCanceled(err) {
		t.Fatalf("expected canceled, got %v", err)
	}
}
