// Package destindex maintains the in-memory view of destination content:
// fingerprint to filename and filename to fingerprint.
package destindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/digest"
	"github.com/starford/othala/internal/fpcache"
	"github.com/starford/othala/internal/storage"
)

// Index is the dual-map view of the destination directory. All methods are
// safe for concurrent use.
type Index struct {
	mu     sync.RWMutex
	byFP   map[digest.Fingerprint]string
	byName map[string]digest.Fingerprint
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		byFP:   make(map[digest.Fingerprint]string),
		byName: make(map[string]digest.Fingerprint),
	}
}

// Build fingerprints every allow-listed file directly under the destination,
// hashing up to workers files concurrently. Entries are inserted in listing
// order so that pre-existing duplicate content always resolves to the same
// winner. A file that cannot be hashed aborts the build: merging without a
// complete index would defeat deduplication.
func Build(ctx context.Context, store storage.Provider, exts map[string]struct{}, cache fpcache.Cache, workers int, logger *slog.Logger) (*Index, error) {
	files, err := store.List(exts)
	if err != nil {
		return nil, fmt.Errorf("destindex: %w", err)
	}
	if workers < 1 {
		workers = 1
	}

	fps := make([]digest.Fingerprint, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, df := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fp, err := fpcache.Fingerprint(cache, df.Path, df.Size, df.ModTime)
			if err != nil {
				return fmt.Errorf("destindex: fingerprint %s: %w", df.Name, err)
			}
			fps[i] = fp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	idx := New()
	dupes := 0
	for i, df := range files {
		if !idx.add(df.Name, fps[i]) {
			dupes++
		}
	}
	logger.Info("destindex: built",
		slog.Int("files", len(files)),
		slog.Int("duplicate_content", dupes))
	return idx, nil
}

// add records name with fp. The name map always takes the entry; the
// fingerprint map keeps its first name. Returns false when fp was already
// present under another name.
func (x *Index) add(name string, fp digest.Fingerprint) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.byName[name] = fp
	if _, ok := x.byFP[fp]; ok {
		return false
	}
	x.byFP[fp] = name
	return true
}

// ByFingerprint returns the destination name holding fp.
func (x *Index) ByFingerprint(fp digest.Fingerprint) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	name, ok := x.byFP[fp]
	return name, ok
}

// ByName returns the fingerprint of the destination file called name.
func (x *Index) ByName(name string) (digest.Fingerprint, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	fp, ok := x.byName[name]
	return fp, ok
}

// HasName reports whether name is taken.
func (x *Index) HasName(name string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.byName[name]
	return ok
}

// Len returns the number of names tracked.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byName)
}

// Unique returns the number of distinct fingerprints tracked.
func (x *Index) Unique() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byFP)
}

// Reserve claims name for fp ahead of the copy, so no concurrent decision
// can pick the same name. Fails with ErrNameCollision when name is taken.
func (x *Index) Reserve(name string, fp digest.Fingerprint) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, taken := x.byName[name]; taken {
		return apperr.ErrNameCollision
	}
	x.byName[name] = fp
	if _, ok := x.byFP[fp]; !ok {
		x.byFP[fp] = name
	}
	return nil
}

// Release undoes a reservation after a failed copy. Only mappings that still
// point at name are dropped.
func (x *Index) Release(name string, fp digest.Fingerprint) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if got, ok := x.byName[name]; ok && got == fp {
		delete(x.byName, name)
	}
	if x.byFP[fp] == name {
		delete(x.byFP, fp)
	}
}
