package ledger

import (
	"crypto/sha256"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/digest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fpOf(s string) digest.Fingerprint {
	return digest.Fingerprint(sha256.Sum256([]byte(s)))
}

func TestOpenCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen_sources.txt")
	l, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if l.SeenCount() != 0 {
		t.Fatalf("fresh ledger reports %d seen", l.SeenCount())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("ledger file not created: %v", err)
	}
}

func TestRecordPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen_sources.txt")
	l, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fp := fpOf("photo bytes")
	if err := l.Record(fp, "/import/a.jpg", time.Now()); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if l.Appended() != 1 {
		t.Fatalf("Appended = %d, want 1", l.Appended())
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()
	if !l2.Seen(fp) {
		t.Fatal("fingerprint lost across reopen")
	}
	if l2.SeenCount() != 1 {
		t.Fatalf("SeenCount = %d, want 1", l2.SeenCount())
	}
}

func TestSeenSetIsFixedAtOpen(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "seen.txt"), testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	fp := fpOf("fresh this run")
	if err := l.Record(fp, "/import/new.jpg", time.Now()); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if l.Seen(fp) {
		t.Fatal("Record must not feed the current run's seen set")
	}
}

func TestOpenToleratesCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.txt")
	good := fpOf("good")
	future := fpOf("written by a newer version")
	content := strings.Join([]string{
		good.Hex() + "\t/import/good.jpg\t2024-05-01T10:00:00Z",
		"not a ledger line",
		"zzzz\t/import/badhex.jpg\t2024-05-01T10:00:00Z",
		"", // blank
		good.Hex() + "\t/import/dup.jpg\t2024-05-02T10:00:00Z",
		future.Hex() + "\t/import/new.jpg\t2024-05-03T10:00:00Z\textra\tfields",
		good.Hex() + "\t/import/torn", // truncated by a crash
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	l, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if !l.Seen(good) {
		t.Fatal("valid entry not loaded")
	}
	if !l.Seen(future) {
		t.Fatal("line with trailing fields must still load")
	}
	if l.SeenCount() != 2 {
		t.Fatalf("SeenCount = %d, want 2 distinct fingerprints", l.SeenCount())
	}
}

func TestRecordSanitizesSeparators(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.txt")
	l, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fp := fpOf("tabby")
	if err := l.Record(fp, "/import/odd\tname\n.jpg", time.Now()); err != nil {
		t.Fatalf("Record: %v", err)
	}
	l.Close()

	l2, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()
	if !l2.Seen(fp) {
		t.Fatal("sanitized record did not survive reopen")
	}
}

func TestRecordAfterClose(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "seen.txt"), testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err = l.Record(fpOf("late"), "/import/late.jpg", time.Now())
	if !errors.Is(err, apperr.ErrLedgerClosed) {
		t.Fatalf("got %v, want ErrLedgerClosed", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}
}
