package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesToBuffer(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelInfo, io.Discard)

	logger.Info("build started", map[string]string{FieldEpoch: "1"})

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != LevelInfo {
		t.Fatalf("expected info level, got %q", entry.Level)
	}
	if entry.Message != "build started" {
		t.Fatalf("expected message build started, got %q", entry.Message)
	}
	if entry.Context[FieldEpoch] != "1" {
		t.Fatalf("expected context epoch=1, got %v", entry.Context)
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelWarning, io.Discard)

	logger.Info("info", nil)
	logger.Warn("warn", nil)

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != LevelWarning {
		t.Fatalf("expected warning level, got %q", entries[0].Level)
	}
}

func TestLoggerRendersJSONThroughZerolog(t *testing.T) {
	var out bytes.Buffer
	logger := NewLoggerWithOutput(NewLogBuffer(10), LevelDebug, &out).Component("coordinator")

	logger.Warn("build failed", map[string]string{FieldPackage: "demo"})

	line := strings.TrimSpace(out.String())
	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	if decoded["level"] != "warn" {
		t.Fatalf("expected warn level, got %v", decoded["level"])
	}
	if decoded["message"] != "build failed" {
		t.Fatalf("expected message, got %v", decoded["message"])
	}
	if decoded[FieldComponent] != "coordinator" {
		t.Fatalf("expected component field, got %v", decoded[FieldComponent])
	}
	if decoded[FieldPackage] != "demo" {
		t.Fatalf("expected package field, got %v", decoded[FieldPackage])
	}
}

func TestLoggerWithDoesNotMutateParent(t *testing.T) {
	buffer := NewLogBuffer(10)
	parent := NewLoggerWithOutput(buffer, LevelInfo, io.Discard)
	child := parent.With(map[string]string{FieldPackage: "a"})

	parent.Info("parent", nil)
	child.Info("child", nil)

	entries := buffer.List()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Context != nil {
		t.Fatalf("expected parent entry without context, got %v", entries[0].Context)
	}
	if entries[1].Context[FieldPackage] != "a" {
		t.Fatalf("expected child package field, got %v", entries[1].Context)
	}
}

func TestLoggerSubscribeReceivesEntries(t *testing.T) {
	logger := NewLoggerWithOutput(NewLogBuffer(10), LevelInfo, io.Discard)
	output, cancel := logger.Component("coordinator").Subscribe(LevelWarning)
	defer cancel()

	logger.Info("build started", nil)
	logger.Warn("build failed", nil)

	select {
	case entry := <-output:
		if entry.Message != "build failed" {
			t.Fatalf("unexpected message %q", entry.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for log entry")
	}

	logger.Close()
	select {
	case _, ok := <-output:
		if ok {
			t.Fatal("expected subscription closed after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close")
	}
	logger.Info("after close", nil)
	if entries := logger.Buffer().List(); entries[len(entries)-1].Message != "after close" {
		t.Fatalf("expected buffering to continue after close, got %+v", entries)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Info("ignored", nil)
	if logger.Enabled(LevelError) {
		t.Fatal("expected nil logger to be disabled")
	}
	if logger.With(map[string]string{"a": "b"}) != nil {
		t.Fatal("expected nil logger With to return nil")
	}
}

func TestParseLevelAndFormat(t *testing.T) {
	cases := map[string]Level{
		"debug": LevelDebug,
		"INFO":  LevelInfo,
		"warn":  LevelWarning,
		"error": LevelError,
	}
	for input, want := range cases {
		got, ok := ParseLevel(input)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) = %q, %v", input, got, ok)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatal("expected unknown level to fail")
	}
	if format, ok := ParseFormat("pretty"); !ok || format != FormatConsole {
		t.Fatalf("expected console format, got %q", format)
	}
	if format, ok := ParseFormat(""); !ok || format != FormatJSON {
		t.Fatalf("expected json default, got %q", format)
	}
}
