package logging

import (
	"sync"

	"hotlib/internal/buffer"
)

type LogBuffer struct {
	mu      sync.Mutex
	entries *buffer.Ring[LogEntry]
}

func NewLogBuffer(size int) *LogBuffer {
	return &LogBuffer{
		entries: buffer.NewRing[LogEntry](size),
	}
}

func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.entries == nil {
		return
	}

	b.entries.Add(entry)
}

func (b *LogBuffer) List() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.entries.List()
}

// Matching returns buffered entries whose context carries key=value and whose
// level is at least minLevel.
func (b *LogBuffer) Matching(key, value string, minLevel Level) []LogEntry {
	entries := b.List()
	out := make([]LogEntry, 0, len(entries))
	for _, entry := range entries {
		if !LevelAtLeast(entry.Level, minLevel) {
			continue
		}
		if key != "" && entry.Context[key] != value {
			continue
		}
		out = append(out, entry)
	}
	return out
}
