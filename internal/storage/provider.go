// Package storage defines the destination-directory abstraction.
package storage

import (
	"time"

	"github.com/starford/othala/internal/models"
)

// Provider is the interface for destination file operations. The destination
// is flat: names are basenames, never paths.
type Provider interface {
	// Root returns the absolute destination directory.
	Root() string
	// List returns metadata for top-level regular files whose extension is
	// in exts; nil lists everything.
	List(exts map[string]struct{}) ([]models.DestFile, error)
	// CopyIn atomically copies src under name, preserving src's modification
	// time, and returns the number of bytes written.
	CopyIn(src, name string, modTime time.Time) (int64, error)
	// Remove deletes the file called name.
	Remove(name string) error
	// Exists reports whether name is present.
	Exists(name string) bool
}
