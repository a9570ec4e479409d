package logging

import "testing"

func TestLogBufferCircular(t *testing.T) {
	buffer := NewLogBuffer(2)
	buffer.Add(LogEntry{Message: "first"})
	buffer.Add(LogEntry{Message: "second"})
	buffer.Add(LogEntry{Message: "third"})

	entries := buffer.List()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "second" {
		t.Fatalf("expected second, got %q", entries[0].Message)
	}
	if entries[1].Message != "third" {
		t.Fatalf("expected third, got %q", entries[1].Message)
	}
}

func TestLogBufferMatching(t *testing.T) {
	buffer := NewLogBuffer(10)
	buffer.Add(LogEntry{Level: LevelInfo, Message: "a", Context: map[string]string{FieldPackage: "one"}})
	buffer.Add(LogEntry{Level: LevelError, Message: "b", Context: map[string]string{FieldPackage: "one"}})
	buffer.Add(LogEntry{Level: LevelError, Message: "c", Context: map[string]string{FieldPackage: "two"}})

	matched := buffer.Matching(FieldPackage, "one", LevelWarning)
	if len(matched) != 1 || matched[0].Message != "b" {
		t.Fatalf("unexpected matches: %+v", matched)
	}
}
