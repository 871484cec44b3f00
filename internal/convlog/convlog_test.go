package convlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoggerWritesPerUserAndGlobalFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	globalPath := filepath.Join(dir, "all.ndjson")

	logger, err := New(Config{
		Enabled:       true,
		Dir:           filepath.Join(dir, "users"),
		GlobalEnabled: true,
		GlobalPath:    globalPath,
		QueueSize:     10,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Log(Event{
		UserID:    "user-1",
		SessionID: "sess-1",
		Channel:   "webhook",
		Direction: "outbound",
		EventType: "reply",
		Question:  "what is\nthe answer",
		Content:   "line one\nline two",
	})
	logger.Log(Event{
		UserID:    "user-2",
		Channel:   "webhook",
		Direction: "inbound",
		EventType: "feedback",
		Content:   "Like",
	})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var ev Event
	lines := readLines(t, filepath.Join(dir, "users", "user-1.ndjson"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line for user-1, got %d", len(lines))
	}
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Content != "line one line two" {
		t.Errorf("expected sanitized content, got %q", ev.Content)
	}
	if ev.Question != "what is the answer" {
		t.Errorf("expected sanitized question, got %q", ev.Question)
	}
	if ev.Timestamp == "" {
		t.Error("expected timestamp to be filled in")
	}

	if got := len(readLines(t, globalPath)); got != 2 {
		t.Errorf("expected 2 lines in global log, got %d", got)
	}
}

func TestLoggerDisabledWritesNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := New(Config{Enabled: false, Dir: dir}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Log(Event{UserID: "user-1", EventType: "reply", Content: "hello"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "user-1.ndjson")); !os.IsNotExist(err) {
		t.Errorf("expected no log file, stat err = %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	if got := sanitizeFilename("../etc/passwd"); got == "../etc/passwd" {
		t.Errorf("expected path separators replaced, got %q", got)
	}
	if got := sanitizeFilename(""); got != "unknown" {
		t.Errorf("expected fallback name, got %q", got)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return lines
}
