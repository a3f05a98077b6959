// Package events publishes notifications about the index to Kafka through an
// asynchronous, bounded collector.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const EventSnapshotPublished EventType = "snapshot_published"

// SnapshotPublished announces that a new snapshot is serving searches.
// Consumers can use Generation to discard results cached against older
// snapshots.
type SnapshotPublished struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Instance    string    `json:"instance"`
	Generation  uint64    `json:"generation"`
	DocCount    uint64    `json:"doc_count"`
	Opstamp     uint64    `json:"opstamp"`
	CommitOps   int       `json:"commit_ops"`
	LatencyMs   int64     `json:"latency_ms"`
	PublishedAt time.Time `json:"published_at"`
}

// NewSnapshotPublished stamps a fresh event id.
func NewSnapshotPublished(instance string, generation, docCount, opstamp uint64, commitOps int, latency time.Duration, at time.Time) SnapshotPublished {
	return SnapshotPublished{
		ID:          uuid.NewString(),
		Type:        EventSnapshotPublished,
		Instance:    instance,
		Generation:  generation,
		DocCount:    docCount,
		Opstamp:     opstamp,
		CommitOps:   commitOps,
		LatencyMs:   latency.Milliseconds(),
		PublishedAt: at.UTC(),
	}
}
