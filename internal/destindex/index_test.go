package destindex

import (
	"context"
	"crypto/sha256"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/digest"
	"github.com/starford/othala/internal/fpcache"
	"github.com/starford/othala/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fpOf(s string) digest.Fingerprint {
	return digest.Fingerprint(sha256.Sum256([]byte(s)))
}

func seedDest(t *testing.T, files map[string]string) *storage.FS {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

var jpgOnly = map[string]struct{}{".jpg": {}}

func TestBuildIndexesDestination(t *testing.T) {
	store := seedDest(t, map[string]string{
		"a.jpg": "alpha",
		"b.jpg": "beta",
		"c.txt": "ignored",
		"d.jpg": "alpha", // duplicate content of a.jpg
	})

	idx, err := Build(context.Background(), store, jpgOnly, fpcache.Nop{}, 4, testLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if idx.Len() != 3 {
		t.Fatalf("Len = %d, want 3", idx.Len())
	}
	if idx.Unique() != 2 {
		t.Fatalf("Unique = %d, want 2", idx.Unique())
	}

	// Listing order is lexical, so the duplicate pair resolves to a.jpg.
	name, ok := idx.ByFingerprint(fpOf("alpha"))
	if !ok || name != "a.jpg" {
		t.Errorf("ByFingerprint(alpha) = %q, %v; want a.jpg", name, ok)
	}
	if fp, ok := idx.ByName("d.jpg"); !ok || fp != fpOf("alpha") {
		t.Errorf("ByName(d.jpg) wrong: %v %v", fp, ok)
	}
	if idx.HasName("c.txt") {
		t.Error("extension filter leaked c.txt into the index")
	}
}

func TestBuildFailsOnUnreadableFile(t *testing.T) {
	store := seedDest(t, map[string]string{"locked.jpg": "secret"})
	if err := os.Chmod(filepath.Join(store.Root(), "locked.jpg"), 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chmod(filepath.Join(store.Root(), "locked.jpg"), 0o644)
	})
	if os.Geteuid() == 0 {
		t.Skip("running as root, chmod cannot block reads")
	}

	if _, err := Build(context.Background(), store, jpgOnly, fpcache.Nop{}, 2, testLogger()); err == nil {
		t.Fatal("expected build failure for unreadable file")
	}
}

func TestReserveAndRelease(t *testing.T) {
	idx := New()
	fp := fpOf("new content")

	if err := idx.Reserve("img.jpg", fp); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := idx.Reserve("img.jpg", fpOf("other")); !errors.Is(err, apperr.ErrNameCollision) {
		t.Fatalf("got %v, want ErrNameCollision", err)
	}
	if name, ok := idx.ByFingerprint(fp); !ok || name != "img.jpg" {
		t.Fatalf("reservation not visible: %q %v", name, ok)
	}

	idx.Release("img.jpg", fp)
	if idx.HasName("img.jpg") {
		t.Error("name still taken after Release")
	}
	if _, ok := idx.ByFingerprint(fp); ok {
		t.Error("fingerprint still mapped after Release")
	}
}

func TestReleaseKeepsForeignMappings(t *testing.T) {
	idx := New()
	fp := fpOf("shared")
	if err := idx.Reserve("first.jpg", fp); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	// Same content reserved under a second name keeps the first winner.
	if err := idx.Reserve("second.jpg", fp); err != nil {
		t.Fatalf("Reserve second: %v", err)
	}

	idx.Release("second.jpg", fp)
	if name, ok := idx.ByFingerprint(fp); !ok || name != "first.jpg" {
		t.Errorf("first mapping lost: %q %v", name, ok)
	}
	if !idx.HasName("first.jpg") {
		t.Error("first name lost")
	}
}

func TestReserveIsExclusiveUnderContention(t *testing.T) {
	idx := New()
	var wg sync.WaitGroup
	wins := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if idx.Reserve("contested.jpg", fpOf("payload")) == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	n := 0
	for range wins {
		n++
	}
	if n != 1 {
		t.Fatalf("%d goroutines won the reservation, want exactly 1", n)
	}
}
