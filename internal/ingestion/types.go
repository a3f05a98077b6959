// Package ingestion defines the mutation events accepted by the write path,
// whether they arrive over HTTP or on the Kafka mutation topic.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/indexer/engine"
)

// Op names a mutation.
type Op string

const (
	OpIndex  Op = "index"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Status texts returned to HTTP callers once a mutation is buffered.
const (
	StatusQueued  = "queued"
	StatusUpdated = "updated"
	StatusDeleted = "deleted"
)

// MutationEvent is the Kafka message payload on the mutation topic. Document
// is set for index and update, ID for delete.
type MutationEvent struct {
	Op        Op                 `json:"op"`
	Document  *document.Document `json:"document,omitempty"`
	ID        string             `json:"id,omitempty"`
	RequestID string             `json:"request_id,omitempty"`
	At        time.Time          `json:"at"`
}

// Key is the partitioning key: mutations of one document stay in order.
func (e MutationEvent) Key() string {
	if e.Document != nil {
		return e.Document.ID
	}
	return e.ID
}

// Mutator is the write API. *indexer.Coordinator implements it.
type Mutator interface {
	IndexDocument(ctx context.Context, doc document.Document) (engine.Opstamp, error)
	UpdateDocument(ctx context.Context, doc document.Document) (engine.Opstamp, error)
	DeleteDocument(ctx context.Context, id string) (engine.Opstamp, error)
}

// Apply dispatches e to m. It returns the status text for the op.
func Apply(ctx context.Context, m Mutator, e MutationEvent) (string, error) {
	switch e.Op {
	case OpIndex:
		if _, err := m.IndexDocument(ctx, *e.Document); err != nil {
			return "", err
		}
		return StatusQueued, nil
	case OpUpdate:
		if _, err := m.UpdateDocument(ctx, *e.Document); err != nil {
			return "", err
		}
		return StatusUpdated, nil
	case OpDelete:
		if _, err := m.DeleteDocument(ctx, e.ID); err != nil {
			return "", err
		}
		return StatusDeleted, nil
	default:
		return "", fmt.Errorf("unknown mutation op %q", e.Op)
	}
}
