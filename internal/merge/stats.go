package merge

import "sync/atomic"

// Counts is a point-in-time copy of run counters.
type Counts struct {
	Evaluated   int64 `json:"evaluated"`
	Copied      int64 `json:"copied"`
	Renamed     int64 `json:"renamed"`
	Duplicates  int64 `json:"duplicates"`
	AlreadySeen int64 `json:"already_seen"`
	Failed      int64 `json:"failed"`
	BytesCopied int64 `json:"bytes_copied"`
}

// Stats tracks live run counters. Writers are the engine's commit path;
// readers (status API, progress reporting) may poll concurrently.
type Stats struct {
	evaluated   atomic.Int64
	copied      atomic.Int64
	renamed     atomic.Int64
	duplicates  atomic.Int64
	alreadySeen atomic.Int64
	failed      atomic.Int64
	bytesCopied atomic.Int64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Counts {
	return Counts{
		Evaluated:   s.evaluated.Load(),
		Copied:      s.copied.Load(),
		Renamed:     s.renamed.Load(),
		Duplicates:  s.duplicates.Load(),
		AlreadySeen: s.alreadySeen.Load(),
		Failed:      s.failed.Load(),
		BytesCopied: s.bytesCopied.Load(),
	}
}
