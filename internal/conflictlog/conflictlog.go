// Package conflictlog appends human-readable records of merge conflicts and
// keeps a short in-memory tail for the status surfaces.
package conflictlog

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/starford/othala/internal/models"
)

// recentCap bounds the in-memory tail served to the API and tools.
const recentCap = 256

// Log is the append-only conflict record. Lines are one record each, flushed
// to disk before Append returns.
type Log struct {
	path string

	mu       sync.Mutex
	f        *os.File
	recent   []models.ConflictRecord
	appended int
	closed   bool
}

// Open opens path for appending, creating it when missing.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("conflictlog: open: %w", err)
	}
	return &Log{path: path, f: f}, nil
}

// Path returns the conflict log location.
func (l *Log) Path() string { return l.path }

// Append writes one record and forces it to disk.
func (l *Log) Append(rec models.ConflictRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("conflictlog: closed")
	}
	if _, err := l.f.WriteString(formatLine(rec) + "\n"); err != nil {
		return fmt.Errorf("conflictlog: append: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("conflictlog: sync: %w", err)
	}
	l.appended++
	l.recent = append(l.recent, rec)
	if len(l.recent) > recentCap {
		l.recent = l.recent[len(l.recent)-recentCap:]
	}
	return nil
}

// Appended returns the number of records written since open.
func (l *Log) Appended() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appended
}

// Recent returns a copy of the newest n buffered records, oldest first.
// n <= 0 returns everything buffered.
func (l *Log) Recent(n int) []models.ConflictRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.recent) {
		n = len(l.recent)
	}
	out := make([]models.ConflictRecord, n)
	copy(out, l.recent[len(l.recent)-n:])
	return out
}

// Close flushes and releases the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.f.Close(); err != nil {
		return fmt.Errorf("conflictlog: close: %w", err)
	}
	return nil
}

// Tail reads the newest n lines of the conflict log at path, oldest first.
// A missing file yields no lines; tools inspecting a collection that never
// conflicted should not fail.
func Tail(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conflictlog: read: %w", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// formatLine renders a record as a single log line, for example:
//
//	[2024-05-01T10:00:00Z] same-content-different-name: source=/import/a.jpg existing=beach.jpg
func formatLine(rec models.ConflictRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: source=%s",
		rec.Time.UTC().Format(time.RFC3339), rec.Reason, rec.Source)
	if rec.DestName != "" {
		if rec.Outcome == models.OutcomeRenamed {
			fmt.Fprintf(&b, " copied-as=%s", rec.DestName)
		} else {
			fmt.Fprintf(&b, " existing=%s", rec.DestName)
		}
	}
	if rec.Detail != "" {
		fmt.Fprintf(&b, " (%s)", rec.Detail)
	}
	return b.String()
}
