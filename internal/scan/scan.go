// Package scan enumerates merge candidates beneath a source tree.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/othala/internal/models"
)

// Scanner walks a source tree in lexical order and yields regular files
// whose extension is on the allow-list.
type Scanner struct {
	root   string
	exts   map[string]struct{}
	skip   map[string]struct{}
	logger *slog.Logger
}

// New returns a Scanner rooted at root. exts is the extension allow-list
// in any case, with or without leading dots. skipDirs are directories whose
// subtrees are excluded from the walk, typically the destination itself.
func New(root string, exts []string, skipDirs []string, logger *slog.Logger) (*Scanner, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("scan: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("scan: source root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan: source root %s is not a directory", abs)
	}
	s := &Scanner{
		root:   abs,
		exts:   ExtSet(exts),
		skip:   make(map[string]struct{}, len(skipDirs)),
		logger: logger,
	}
	for _, d := range skipDirs {
		if ad, aerr := filepath.Abs(d); aerr == nil {
			s.skip[ad] = struct{}{}
		}
	}
	return s, nil
}

// Root returns the absolute source root.
func (s *Scanner) Root() string { return s.root }

// Allowed reports whether name's extension is on the allow-list.
func (s *Scanner) Allowed(name string) bool {
	_, ok := s.exts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Run walks the tree and sends candidates on the returned channel, which is
// closed when the walk finishes or ctx is cancelled. Unreadable entries are
// logged and skipped so a single bad directory cannot abort a run.
func (s *Scanner) Run(ctx context.Context) <-chan models.SourceFile {
	out := make(chan models.SourceFile)
	go func() {
		defer close(out)
		err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, werr error) error {
			if werr != nil {
				s.logger.Warn("scan: walk error", slog.String("path", path), slog.String("error", werr.Error()))
				return nil
			}
			if d.IsDir() {
				if _, excluded := s.skip[path]; excluded {
					s.logger.Debug("scan: excluded dir", slog.String("path", path))
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if !s.Allowed(d.Name()) {
				return nil
			}
			info, ierr := d.Info()
			if ierr != nil {
				s.logger.Warn("scan: stat failed", slog.String("path", path), slog.String("error", ierr.Error()))
				return nil
			}
			sf := models.SourceFile{
				Path:    path,
				Base:    d.Name(),
				Ext:     strings.ToLower(filepath.Ext(d.Name())),
				Size:    info.Size(),
				ModTime: info.ModTime(),
			}
			select {
			case out <- sf:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("scan: walk aborted", slog.String("error", err.Error()))
		}
	}()
	return out
}

// Sources chains the walks of roots, in argument order, into one candidate
// stream. A root that cannot be opened is logged and skipped, so an unplugged
// drive never aborts the run.
func Sources(ctx context.Context, roots []string, exts []string, skipDirs []string, logger *slog.Logger) <-chan models.SourceFile {
	scanners := make([]*Scanner, 0, len(roots))
	for _, root := range roots {
		s, err := New(root, exts, skipDirs, logger)
		if err != nil {
			logger.Warn("scan: source root skipped",
				slog.String("root", root),
				slog.String("error", err.Error()))
			continue
		}
		scanners = append(scanners, s)
	}

	out := make(chan models.SourceFile)
	go func() {
		defer close(out)
		for _, s := range scanners {
			for sf := range s.Run(ctx) {
				select {
				case out <- sf:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// FileInfo builds the candidate record for a single path. It does not apply
// the extension filter; callers combine it with Allowed as needed.
func FileInfo(path string) (models.SourceFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return models.SourceFile{}, fmt.Errorf("scan: resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.SourceFile{}, fmt.Errorf("scan: stat: %w", err)
	}
	if !info.Mode().IsRegular() {
		return models.SourceFile{}, fmt.Errorf("scan: %s is not a regular file", abs)
	}
	base := filepath.Base(abs)
	return models.SourceFile{
		Path:    abs,
		Base:    base,
		Ext:     strings.ToLower(filepath.Ext(base)),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// NormalizeExt lowercases ext and ensures a leading dot.
func NormalizeExt(ext string) string {
	e := strings.ToLower(strings.TrimSpace(ext))
	if e == "" || strings.HasPrefix(e, ".") {
		return e
	}
	return "." + e
}

// ExtSet normalizes exts into a lookup set.
func ExtSet(exts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		if n := NormalizeExt(e); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}
