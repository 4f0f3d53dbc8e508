// Package models defines the domain types for Othala.
package models

import "time"

// SourceFile is one merge candidate produced by source enumeration.
// It is read once per run and never mutated.
type SourceFile struct {
	Path    string // absolute path
	Base    string // basename including extension
	Ext     string // lowercase extension, with leading dot
	Size    int64
	ModTime time.Time
}

// DestFile describes a regular file directly under the destination directory.
type DestFile struct {
	Name    string // basename; unique within the destination
	Path    string // absolute path
	Size    int64
	ModTime time.Time
}

// Outcome is the terminal state of one candidate.
type Outcome string

const (
	// OutcomeCopied: new content, no name collision, copied under its own name.
	OutcomeCopied Outcome = "copied"
	// OutcomeRenamed: new content whose name was taken, copied under a
	// capture-date name.
	OutcomeRenamed Outcome = "renamed"
	// OutcomeDuplicate: content already present in the destination, not copied.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeAlreadySeen: fingerprint recorded by a prior run, skipped outright.
	OutcomeAlreadySeen Outcome = "already_seen"
	// OutcomeFailed: hash, reservation, or copy failure; the file is skipped
	// this run and left eligible for a retry.
	OutcomeFailed Outcome = "failed"
)

// Reason codes carried by conflict records.
const (
	ReasonSameContentDifferentName = "same-content-different-name"
	ReasonSameNameDifferentContent = "same-filename-different-content"
	ReasonHashFailed               = "hash-failed"
	ReasonCopyFailed               = "copy-failed"
	ReasonReserveConflict          = "reserve-conflict"
)

// ConflictRecord is one append-only audit entry for a non-trivial decision.
type ConflictRecord struct {
	Time     time.Time `json:"time"`
	Source   string    `json:"source"`
	Outcome  Outcome   `json:"outcome"`
	DestName string    `json:"dest_name,omitempty"`
	Reason   string    `json:"reason"`
	Detail   string    `json:"detail,omitempty"`
}

// Decision is one engine verdict; dry runs emit these instead of copying.
type Decision struct {
	Source   string  `json:"source"`
	Outcome  Outcome `json:"outcome"`
	DestName string  `json:"dest_name,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// Summary aggregates the counters of one merge run.
type Summary struct {
	RunID       string    `json:"run_id"`
	Evaluated   int64     `json:"evaluated"`
	Copied      int64     `json:"copied"`
	Renamed     int64     `json:"renamed"`
	Duplicates  int64     `json:"duplicates"`
	AlreadySeen int64     `json:"already_seen"`
	Failed      int64     `json:"failed"`
	BytesCopied int64     `json:"bytes_copied"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
}
