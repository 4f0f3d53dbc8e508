// Package testutil provides shared test helpers for wiring a merge engine
// and its collaborators over temporary directories.
package testutil

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/othala/internal/capture"
	"github.com/starford/othala/internal/conflictlog"
	"github.com/starford/othala/internal/destindex"
	"github.com/starford/othala/internal/fpcache"
	"github.com/starford/othala/internal/ledger"
	"github.com/starford/othala/internal/merge"
	"github.com/starford/othala/internal/storage"
)

// Exts is the allow-list used by the helpers.
var Exts = map[string]struct{}{".jpg": {}, ".jpeg": {}, ".png": {}}

// Logger returns a JSON logger that only surfaces errors, keeping test
// output readable.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// WriteFile writes content to path, creating parent directories as needed.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// TestDest creates a temporary destination directory and its provider.
func TestDest(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// TestLedger opens a ledger on a temporary path, closed on cleanup.
func TestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	led, err := ledger.Open(filepath.Join(t.TempDir(), "seen_sources.txt"), Logger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { led.Close() })
	return led
}

// TestConflictLog opens a conflict log on a temporary path, closed on
// cleanup.
func TestConflictLog(t *testing.T) *conflictlog.Log {
	t.Helper()
	cl, err := conflictlog.Open(filepath.Join(t.TempDir(), "conflict_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cl.Close() })
	return cl
}

// Env bundles a ready merge engine with its collaborators.
type Env struct {
	SourceDir string
	DestDir   string
	Store     storage.Provider
	Ledger    *ledger.Ledger
	Conflicts *conflictlog.Log
	Engine    *merge.Engine
}

// NewEnv wires an engine over fresh temporary directories. tweak, when
// non-nil, adjusts the engine options before construction.
func NewEnv(t *testing.T, tweak func(*merge.Options)) *Env {
	t.Helper()
	destDir, store := TestDest(t)
	led := TestLedger(t)
	cl := TestConflictLog(t)

	idx, err := destindex.Build(context.Background(), store, Exts, fpcache.Nop{}, 2, Logger())
	if err != nil {
		t.Fatal(err)
	}

	opts := merge.Options{
		Store:     store,
		Index:     idx,
		Ledger:    led,
		Conflicts: cl,
		Times:     capture.NewTimes(Logger()),
		Logger:    Logger(),
		Workers:   2,
	}
	if tweak != nil {
		tweak(&opts)
	}
	return &Env{
		SourceDir: t.TempDir(),
		DestDir:   destDir,
		Store:     store,
		Ledger:    led,
		Conflicts: cl,
		Engine:    merge.New(opts),
	}
}
