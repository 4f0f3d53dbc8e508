// Package ledger persists the fingerprint of every source file already
// merged, letting later runs skip those files without touching the
// destination.
package ledger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/digest"
)

const (
	fieldSep   = "\t"
	timeLayout = time.RFC3339
)

// Ledger is the append-only record of merged source fingerprints. The seen
// set is fixed at open time: fingerprints recorded during a run are persisted
// for the next run but do not alter this run's decisions.
type Ledger struct {
	path string

	mu       sync.Mutex
	f        *os.File
	seen     map[digest.Fingerprint]struct{}
	appended int
	closed   bool
}

// Open loads path, creating the file when missing, and returns a Ledger
// ready for appends. Unparseable lines, including a torn final line left by
// an interrupted run, are logged and skipped.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("ledger: read: %w", err)
	}
	seen := make(map[digest.Fingerprint]struct{})
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, fieldSep)
		// Trailing fields beyond the three written today are ignored, so
		// newer ledgers stay readable.
		if len(fields) < 3 {
			logger.Warn("ledger: malformed line skipped",
				slog.String("path", path), slog.Int("line", i+1))
			continue
		}
		fp, perr := digest.ParseHex(fields[0])
		if perr != nil {
			logger.Warn("ledger: bad fingerprint skipped",
				slog.String("path", path), slog.Int("line", i+1),
				slog.String("error", perr.Error()))
			continue
		}
		seen[fp] = struct{}{}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	return &Ledger{path: path, f: f, seen: seen}, nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// Seen reports whether fp was recorded by a prior run.
func (l *Ledger) Seen(fp digest.Fingerprint) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[fp]
	return ok
}

// SeenCount returns the number of distinct fingerprints loaded at open.
func (l *Ledger) SeenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Appended returns the number of records written since open.
func (l *Ledger) Appended() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appended
}

// Record appends one entry and forces it to disk before returning, so a
// crash mid-run never loses an acknowledged record.
func (l *Ledger) Record(fp digest.Fingerprint, source string, when time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return apperr.ErrLedgerClosed
	}
	line := fp.Hex() + fieldSep + sanitize(source) + fieldSep + when.UTC().Format(timeLayout) + "\n"
	if _, err := l.f.WriteString(line); err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("ledger: sync: %w", err)
	}
	l.appended++
	return nil
}

// Close flushes and releases the file. Further Record calls fail with
// ErrLedgerClosed.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.f.Close(); err != nil {
		return fmt.Errorf("ledger: close: %w", err)
	}
	return nil
}

// sanitize keeps a pathological path from tearing the record format.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\n', '\r':
			return ' '
		}
		return r
	}, s)
}
