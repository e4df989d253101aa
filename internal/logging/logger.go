// Package logging provides the two log sinks a session writes to:
//   - A leveled slog.Logger for stderr (code diagnostics)
//   - A ModelLog of JSONL modelling events (<dir>/model.jsonl): which fit ran,
//     where the starting point came from, solver warnings
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

	"github.com/google/uuid"
)

// LevelTrace is a custom slog level below Debug for full engine output.
const LevelTrace = slog.LevelDebug - 4

// ModelLogFile is the file name of the modelling log inside its directory.
const ModelLogFile = "model.jsonl"

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// ModelLog writes modelling events as JSONL. Every line carries "time",
// "level", "msg" and the run id. It is safe for concurrent use, and a nil
// ModelLog is a no-op.
type ModelLog struct {
	mu    sync.Mutex
	w     io.Writer
	file  *os.File
	runID string
}

// NewModelLog opens dir/model.jsonl for append under a fresh run id.
// Returns nil if the directory or file cannot be created.
func NewModelLog(dir string) *ModelLog {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, ModelLogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}
	return &ModelLog{w: f, file: f, runID: uuid.NewString()}
}

// NewModelLogWriter writes modelling events to w under a fresh run id.
func NewModelLogWriter(w io.Writer) *ModelLog {
	return &ModelLog{w: w, runID: uuid.NewString()}
}

// RunID identifies every event written by this log.
func (ml *ModelLog) RunID() string {
	if ml == nil {
		return ""
	}
	return ml.runID
}

// Info records a modelling event. The caller's map is not mutated.
func (ml *ModelLog) Info(msg string, fields map[string]any) { ml.write("INFO", msg, fields) }

// Warn records a modelling warning, such as a solver that stopped at its
// iteration limit.
func (ml *ModelLog) Warn(msg string, fields map[string]any) { ml.write("WARN", msg, fields) }

func (ml *ModelLog) write(level, msg string, fields map[string]any) {
	if ml == nil {
		return
	}
	entry := make(map[string]any, len(fields)+4)
	for k, v := range fields {
		entry[k] = v
	}
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level
	entry["msg"] = msg
	entry["run_id"] = ml.runID

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.w == nil {
		return
	}
	_, _ = ml.w.Write(data)
}

// Close closes an owned file. Safe to call on nil receiver.
func (ml *ModelLog) Close() {
	if ml == nil {
		return
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.file != nil {
		ml.file.Close()
		ml.file = nil
	}
	ml.w = nil
}

// Sinks bundles the diagnostic logger and the modelling log.
type Sinks struct {
	Code  *slog.Logger
	Model *ModelLog
}

// Discard returns sinks that drop everything.
func Discard() Sinks {
	return Sinks{Code: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// OrDiscard fills a nil diagnostic logger.
func (s Sinks) OrDiscard() Sinks {
	if s.Code == nil {
		s.Code = Discard().Code
	}
	return s
}
