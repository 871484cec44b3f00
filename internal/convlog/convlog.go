// Package convlog writes conversation and feedback events as NDJSON for
// offline analysis. Writes happen on a background goroutine so logging
// never blocks a user turn; events are dropped (with a warning) when the
// queue is full.
package convlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Event is one logged conversation event.
type Event struct {
	Timestamp string         `json:"ts"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id,omitempty"`
	Channel   string         `json:"channel"`
	Direction string         `json:"direction"`
	EventType string         `json:"event_type"`
	Question  string         `json:"question,omitempty"`
	Content   string         `json:"content,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Config controls NDJSON conversation logging.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Logger appends events to a per-user NDJSON file and optionally to a
// single global file.
type Logger struct {
	cfg    Config
	slog   *slog.Logger
	queue  chan Event
	done   chan struct{}
	closeO sync.Once
}

// New creates a conversation logger. When cfg.Enabled is false the
// returned logger discards all events.
func New(cfg Config, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}

	l := &Logger{
		cfg:  cfg,
		slog: logger,
		done: make(chan struct{}),
	}
	if !cfg.Enabled {
		return l, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0755); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
	}

	l.queue = make(chan Event, cfg.QueueSize)
	go l.writeLoop()
	return l, nil
}

// Log enqueues an event. Missing timestamps are filled in, content is
// sanitized for single-line NDJSON output.
func (l *Logger) Log(event Event) {
	if !l.cfg.Enabled {
		return
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	event.Content = Sanitize(event.Content)
	event.Question = Sanitize(event.Question)

	select {
	case l.queue <- event:
	default:
		l.slog.Warn("conversation log queue full, dropping event",
			"user_id", event.UserID, "event_type", event.EventType)
	}
}

// Close stops the writer after draining queued events.
func (l *Logger) Close() error {
	l.closeO.Do(func() {
		if l.cfg.Enabled {
			close(l.queue)
			<-l.done
		}
	})
	return nil
}

func (l *Logger) writeLoop() {
	defer close(l.done)
	for event := range l.queue {
		data, err := json.Marshal(event)
		if err != nil {
			l.slog.Warn("failed to marshal conversation event", "error", err)
			continue
		}
		line := append(data, '\n')

		userPath := filepath.Join(l.cfg.Dir, sanitizeFilename(event.UserID)+".ndjson")
		if err := appendLine(userPath, line); err != nil {
			l.slog.Warn("failed to write conversation log", "path", userPath, "error", err)
		}
		if l.cfg.GlobalEnabled {
			if err := appendLine(l.cfg.GlobalPath, line); err != nil {
				l.slog.Warn("failed to write global conversation log", "path", l.cfg.GlobalPath, "error", err)
			}
		}
	}
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append log line: %w", err)
	}
	return f.Close()
}

// Sanitize collapses newlines so multi-line agent responses stay on one
// NDJSON line and one log line.
func Sanitize(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}

var filenameReplacer = strings.NewReplacer("/", "_", "\\", "_", "..", "_")

func sanitizeFilename(s string) string {
	if s == "" {
		return "unknown"
	}
	return filenameReplacer.Replace(s)
}
