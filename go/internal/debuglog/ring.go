// Package debuglog keeps the most recent log entries in memory so the
// master can inspect store failures without access to the process logs.
package debuglog

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const DefaultSize = 200

// Entry is one captured log line.
type Entry struct {
	Time    time.Time     `json:"time"`
	Level   zerolog.Level `json:"level"`
	Message string        `json:"message"`
	Error   string        `json:"error,omitempty"`
	Key     string        `json:"key,omitempty"`
}

// Ring is a fixed-size zerolog.LevelWriter. Lines below the minimum level
// are discarded; once full, the oldest entry is overwritten.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	min     zerolog.Level
}

// New creates a ring holding up to size entries at or above min.
func New(size int, min zerolog.Level) *Ring {
	if size <= 0 {
		size = DefaultSize
	}
	return &Ring{entries: make([]Entry, size), min: min}
}

// Write implements io.Writer for loggers that do not report levels.
func (r *Ring) Write(p []byte) (int, error) {
	return r.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel implements zerolog.LevelWriter.
func (r *Ring) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level != zerolog.NoLevel && level < r.min {
		return len(p), nil
	}

	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		// Not a JSON line; keep it as the message.
		r.add(Entry{Time: time.Now(), Level: level, Message: string(p)})
		return len(p), nil
	}

	entry := Entry{Level: level, Time: time.Now()}
	if s, ok := fields[zerolog.MessageFieldName].(string); ok {
		entry.Message = s
	}
	if s, ok := fields[zerolog.ErrorFieldName].(string); ok {
		entry.Error = s
	}
	if s, ok := fields["key"].(string); ok {
		entry.Key = s
	}
	if s, ok := fields[zerolog.TimestampFieldName].(string); ok {
		if ts, err := time.Parse(zerolog.TimeFieldFormat, s); err == nil {
			entry.Time = ts
		}
	}
	if level == zerolog.NoLevel {
		if s, ok := fields[zerolog.LevelFieldName].(string); ok {
			if parsed, err := zerolog.ParseLevel(s); err == nil {
				entry.Level = parsed
			}
		}
		if entry.Level != zerolog.NoLevel && entry.Level < r.min {
			return len(p), nil
		}
	}

	r.add(entry)
	return len(p), nil
}

func (r *Ring) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// Entries returns the captured entries, oldest first.
func (r *Ring) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]Entry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]Entry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}

// Len returns the number of captured entries.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.entries)
	}
	return r.next
}
