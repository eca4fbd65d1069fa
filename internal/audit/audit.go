// Package audit provides the append-only JSONL trail of every file and
// command decision made during an agent session.
//
// A failed audit write must never become an availability failure: Record
// reports problems to a fallback stderr logger and returns, it does not
// propagate errors to the operation that triggered the event.
package audit

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// EventType classifies audit events.
type EventType string

const (
	EventCommandRun     EventType = "command_run"
	EventCommandBlocked EventType = "command_blocked"
	EventFileRead       EventType = "file_read"
	EventFileWrite      EventType = "file_write"
	EventFileBlocked    EventType = "file_blocked"
	EventSessionStart   EventType = "session_start"
	EventSessionEnd     EventType = "session_end"
)

/// Rotation bounds: 10 MB per file, 5 backups, 50 MB total on disk.
const (
	maxSizeMB  = 10
	maxBackups = 5
)

// Event is one audit record, serialized as a single JSON line.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"event_type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Allowed   bool                   `json:"allowed"`
	Reason    string                 `json:"reason,omitempty"`
}

// Logger writes events to a size-rotated JSONL file.
type Logger struct {
	mu       sync.Mutex
	out      *lumberjack.Logger
	fallback *log.Logger
	enabled  bool
}

// New creates a logger writing to path, creating parent directories as
// needed. The returned logger is always usable; if the directory cannot
// be created, events fall through to the fallback stream only.
func New(path string) *Logger {
	l := &Logger{
		fallback: log.New(os.Stderr, "audit: ", log.LstdFlags),
		enabled:  true,
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		l.fallback.Printf("cannot create audit directory: %v", err)
		return l
	}
	l.out = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}
	return l
}

// Disabled returns a logger that drops all events. Used by tests and by
// subcommands that only read state.
func Disabled() *Logger {
	return &Logger{enabled: false}
}

// Record appends one event. Never returns an error; failures go to the
// fallback logger.
func (l *Logger) Record(ev Event) {
	if !l.enabled {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.Payload = sanitize(ev.Payload)

	line, err := json.Marshal(ev)
	if err != nil {
		l.fallback.Printf("cannot encode event %s: %v", ev.Type, err)
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		l.fallback.Printf("dropped event: %s", strings.TrimSpace(string(line)))
		return
	}
	if _, err := l.out.Write(line); err != nil {
		l.fallback.Printf("cannot write event %s: %v", ev.Type, err)
	}
}

// Command records a shell command decision.
func (l *Logger) Command(command string, allowed bool, reason string) {
	typ := EventCommandRun
	if !allowed {
		typ = EventCommandBlocked
	}
	l.Record(Event{
		Type:    typ,
		Payload: map[string]interface{}{"command": command},
		Allowed: allowed,
		Reason:  reason,
	})
}

// FileOp records a file read/write decision. op is "read" or "write".
func (l *Logger) FileOp(op, path string, allowed bool, reason string) {
	var typ EventType
	switch {
	case !allowed:
		typ = EventFileBlocked
	case op == "read":
		typ = EventFileRead
	default:
		typ = EventFileWrite
	}
	l.Record(Event{
		Type:    typ,
		Payload: map[string]interface{}{"operation": op, "file_path": path},
		Allowed: allowed,
		Reason:  reason,
	})
}

// SessionStart records the beginning of a harness invocation.
func (l *Logger) SessionStart(sessionID string) {
	l.Record(Event{
		Type:    EventSessionStart,
		Payload: map[string]interface{}{"session_id": sessionID},
		Allowed: true,
	})
}

// SessionEnd records the end of a harness invocation with its outcome.
func (l *Logger) SessionEnd(sessionID, outcome string) {
	l.Record(Event{
		Type:    EventSessionEnd,
		Payload: map[string]interface{}{"session_id": sessionID, "outcome": outcome},
		Allowed: true,
	})
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return nil
	}
	return l.out.Close()
}

var sensitiveKeys = []string{"token", "password", "secret", "key", "api_key", "auth"}

const maxPayloadValueLen = 1000

// sanitize masks secret-looking keys and truncates oversized values so
// the trail stays reviewable and never leaks credentials.
func sanitize(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		lower := strings.ToLower(k)
		masked := false
		for _, s := range sensitiveKeys {
			if strings.Contains(lower, s) {
				out[k] = "[REDACTED]"
				masked = true
				break
			}
		}
		if masked {
			continue
		}
		if s, ok := v.(string); ok && len(s) > maxPayloadValueLen {
			out[k] = s[:maxPayloadValueLen] + "...[truncated]"
			continue
		}
		out[k] = v
	}
	return out
}

// Tail reads up to n most recent events from the current log file.
// Rotated backups are not consulted.
func Tail(path string, n int, filter EventType) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")

	var events []Event
	for _, line := range lines {
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			// Torn line from a crash mid-write; skip it.
			continue
		}
		if filter != "" && ev.Type != filter {
			continue
		}
		events = append(events, ev)
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}
