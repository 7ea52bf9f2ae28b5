// Package logging sets up the operational logger and the build trace.
//   - NewLogger returns a leveled slog.Logger for stderr.
//   - TraceLogger appends one JSON line per build event (engine connect
//     calls, spike schedules) to <dir>/build_trace.jsonl.
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace is a custom slog level below Debug for per-node build output.
const LevelTrace = slog.LevelDebug - 4

// TraceFile is the build trace file name inside the trace directory.
const TraceFile = "build_trace.jsonl"

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "error", "warn", "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// TraceLogger writes build events to a JSONL file.
// It is safe for concurrent use. A nil TraceLogger is valid and discards
// everything, so callers never need to check whether tracing is on.
type TraceLogger struct {
	mu     sync.Mutex
	file   *os.File
	events int
}

// NewTraceLogger opens dir/build_trace.jsonl for append when level is debug
// or trace. It returns nil at coarser levels, when dir is empty, or when the
// file cannot be opened.
func NewTraceLogger(dir string, level string) *TraceLogger {
	if dir == "" || ParseLevel(level) > slog.LevelDebug {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, TraceFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}
	return &TraceLogger{file: f}
}

// Event appends one line with the event kind, a timestamp and fields.
// The caller's map is not mutated.
func (tl *TraceLogger) Event(kind string, fields map[string]any) {
	if tl == nil {
		return
	}

	entry := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		entry[k] = v
	}
	entry["event"] = kind
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.file == nil {
		return
	}
	if _, err := tl.file.Write(append(data, '\n')); err == nil {
		tl.events++
	}
}

// Events returns the number of events written.
func (tl *TraceLogger) Events() int {
	if tl == nil {
		return 0
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.events
}

// Close closes the trace file. Safe to call on nil receiver.
func (tl *TraceLogger) Close() error {
	if tl == nil {
		return nil
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.file == nil {
		return nil
	}
	err := tl.file.Close()
	tl.file = nil
	return err
}
