// Package capture resolves the capture time of media files from embedded
// metadata, with a modification-time fallback for everything else.
package capture

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// exifTimeLayout is the timestamp layout used by EXIF date tags.
const exifTimeLayout = "2006:01:02 15:04:05"

// Resolver extracts a capture time from files of the format family it claims.
type Resolver interface {
	// Claims reports whether the resolver understands ext, given lowercase
	// with a leading dot.
	Claims(ext string) bool
	// Resolve returns the capture time embedded in the file at path.
	Resolve(path string) (time.Time, error)
}

// EXIF resolves capture times for JPEG and TIFF-derived formats. Tags are
// consulted in shooting-time order: DateTimeOriginal, DateTimeDigitized,
// then the file-level DateTime.
type EXIF struct{}

// Claims reports true for the formats goexif can decode.
func (EXIF) Claims(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".tif", ".tiff", ".cr2", ".heic", ".heif":
		return true
	}
	return false
}

// Resolve decodes the EXIF block and returns the first parseable date tag.
func (EXIF) Resolve(path string) (time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return time.Time{}, err
	}
	for _, name := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTimeDigitized, exif.DateTime} {
		tag, terr := x.Get(name)
		if terr != nil {
			continue
		}
		s, serr := tag.StringVal()
		if serr != nil {
			continue
		}
		if ts, perr := time.Parse(exifTimeLayout, strings.TrimSpace(s)); perr == nil {
			return ts, nil
		}
	}
	return time.Time{}, errors.New("no usable date tag")
}

// Times runs a resolver chain over a file. It never fails: when no resolver
// claims the format or none yields a time, the enumeration-time modification
// time is returned instead.
type Times struct {
	resolvers []Resolver
	logger    *slog.Logger
}

// NewTimes builds a chain from resolvers, defaulting to EXIF alone.
func NewTimes(logger *slog.Logger, resolvers ...Resolver) *Times {
	if len(resolvers) == 0 {
		resolvers = []Resolver{EXIF{}}
	}
	return &Times{resolvers: resolvers, logger: logger}
}

// For returns the capture time of the file at path. modTime is the
// modification time recorded at enumeration, used as the final fallback.
func (t *Times) For(path string, modTime time.Time) time.Time {
	ext := strings.ToLower(filepath.Ext(path))
	for _, r := range t.resolvers {
		if !r.Claims(ext) {
			continue
		}
		ts, err := r.Resolve(path)
		if err != nil {
			t.logger.Debug("capture: no embedded time",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		return ts
	}
	return modTime
}
