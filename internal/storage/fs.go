package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/models"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to the destination directory
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute destination directory.
func (f *FS) Root() string { return f.root }

// safeName resolves a basename against the destination root and rejects
// anything that could escape it.
func (f *FS) safeName(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("storage: invalid name: %q", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("storage: name must be a basename: %q", name)
	}
	return filepath.Join(f.root, name), nil
}

// List returns metadata for the destination's top-level regular files whose
// extension is in exts. Subdirectories are ignored: merged files always land
// directly under the root. A nil exts set lists everything.
func (f *FS) List(exts map[string]struct{}) ([]models.DestFile, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	var out []models.DestFile
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if exts != nil {
			if _, ok := exts[strings.ToLower(filepath.Ext(e.Name()))]; !ok {
				continue
			}
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("storage: stat %s: %w", e.Name(), err)
		}
		out = append(out, models.DestFile{
			Name:    e.Name(),
			Path:    filepath.Join(f.root, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}

// CopyIn atomically copies src into the destination: tmp file → fsync →
// rename, then carries over src's modification time. On any failure the
// temp file is removed and the final name is never created.
func (f *FS) CopyIn(src, name string, modTime time.Time) (int64, error) {
	abs, err := f.safeName(name)
	if err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("storage: open source: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(f.root, ".othala-tmp-*")
	if err != nil {
		return 0, fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, in)
	if err != nil {
		return 0, fmt.Errorf("storage: copy: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return 0, fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	// The copy is durable at this point; the timestamp is advisory.
	_ = os.Chtimes(abs, time.Now(), modTime)
	return n, nil
}

// Remove deletes a file from the destination. Removing a name that is not
// there reports apperr.ErrNotFound.
func (f *FS) Remove(name string) error {
	abs, err := f.safeName(name)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("storage: remove %s: %w", name, apperr.ErrNotFound)
		}
		return fmt.Errorf("storage: remove %s: %w", name, err)
	}
	return nil
}

// Exists reports whether name is a regular file directly under the root.
func (f *FS) Exists(name string) bool {
	abs, err := f.safeName(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}
