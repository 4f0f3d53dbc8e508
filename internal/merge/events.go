package merge

import "time"

// Event types published while merging.
const (
	EventCopied    = "file.copied"
	EventRenamed   = "file.renamed"
	EventDuplicate = "file.duplicate"
	EventSkipped   = "file.skipped"
	EventFailed    = "file.failed"
	EventStats     = "stats.updated"
)

// Event is one merge occurrence pushed to subscribers.
type Event struct {
	Type     string    `json:"type"`
	Source   string    `json:"source,omitempty"`
	DestName string    `json:"dest_name,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Counts   *Counts   `json:"counts,omitempty"`
	Time     time.Time `json:"time"`
}

// Sink receives engine events. Implementations must not block; slow
// consumers drop rather than stall the merge.
type Sink interface {
	Publish(Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(Event) {}
