// Package indexer owns the write path of the search service: the coordinator
// that serializes mutations into the single engine writer, and the publisher
// that periodically commits them and swaps in a fresh searchable snapshot.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/indexer/engine"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/metrics"
)

// BatchApplier makes detached batches durable. *engine.Index implements it.
type BatchApplier interface {
	Apply(b *engine.Batch) error
}

// CommitInfo describes one commit.
type CommitInfo struct {
	Batches  int
	Ops      int
	Opstamp  engine.Opstamp
	Duration time.Duration
}

// WriterStats is a point-in-time view of the write path.
type WriterStats struct {
	BufferedOps    int            `json:"buffered_ops"`
	PendingBatches int            `json:"pending_batches"`
	PendingOps     int            `json:"pending_ops"`
	LastOpstamp    engine.Opstamp `json:"last_opstamp"`
	Committed      engine.Opstamp `json:"committed_opstamp"`
}

// Coordinator accepts mutations from any number of goroutines and funnels
// them into the one engine writer. Mutations return once buffered; they become
// durable at the next Commit and searchable once a snapshot is published.
type Coordinator struct {
	reg     *schema.Registry
	writer  *Guard[*engine.Writer]
	applier BatchApplier
	metrics *metrics.Metrics
	logger  *slog.Logger

	// commitMu serializes commits. pending holds batches detached from the
	// writer but not yet applied, oldest first.
	commitMu   sync.Mutex
	pending    []*engine.Batch
	maxPending int
	committed  engine.Opstamp

	// backlog mirrors pending and committed for Stats, which must not wait
	// on a commit in progress.
	backlogMu sync.Mutex
	backlog   backlog
}

type backlog struct {
	batches   int
	ops       int
	committed engine.Opstamp
}

// NewCoordinator wraps w. maxPending is the backlog of unapplied batches
// above which commits log a warning.
func NewCoordinator(reg *schema.Registry, w *engine.Writer, applier BatchApplier, maxPending int, m *metrics.Metrics) *Coordinator {
	if m == nil {
		m = metrics.NewNop()
	}
	if maxPending <= 0 {
		maxPending = 64
	}
	c := &Coordinator{
		reg:        reg,
		applier:    applier,
		metrics:    m,
		maxPending: maxPending,
		logger:     slog.Default().With("component", "write-coordinator"),
	}
	c.writer = NewGuard(w, c.recoverWriter)
	return c
}

// recoverWriter only records the recovery. Engine batch operations either
// complete or leave the batch untouched, so mutations buffered before the
// panic are kept and committed as usual.
func (c *Coordinator) recoverWriter(w *engine.Writer, cause any) {
	c.metrics.LockRecoveriesTotal.Inc()
	c.logger.Warn("writer lock recovered after panic",
		"cause", cause,
		"buffered_ops", w.Pending(),
	)
}

// IndexDocument maps doc and buffers it for the next commit. Adding an id that
// is already indexed replaces the stored document.
func (c *Coordinator) IndexDocument(ctx context.Context, doc document.Document) (engine.Opstamp, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ed, err := document.Map(c.reg, doc)
	if err != nil {
		c.metrics.MutationsTotal.WithLabelValues("index", "mapping_error").Inc()
		return 0, err
	}
	var stamp engine.Opstamp
	err = c.writer.Do(func(w *engine.Writer) error {
		var err error
		stamp, err = w.Add(ed)
		return err
	})
	c.observe("index", err)
	if err != nil {
		return 0, err
	}
	c.logger.Debug("document buffered", "id", doc.ID, "opstamp", stamp)
	return stamp, nil
}

// UpdateDocument replaces the document with doc.ID. Other mutators cannot
// interleave between the delete and the add.
func (c *Coordinator) UpdateDocument(ctx context.Context, doc document.Document) (engine.Opstamp, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ed, err := document.Map(c.reg, doc)
	if err != nil {
		c.metrics.MutationsTotal.WithLabelValues("update", "mapping_error").Inc()
		return 0, err
	}
	var stamp engine.Opstamp
	err = c.writer.Do(func(w *engine.Writer) error {
		var err error
		stamp, err = w.Replace(ed)
		return err
	})
	c.observe("update", err)
	if err != nil {
		return 0, err
	}
	c.logger.Debug("document replacement buffered", "id", doc.ID, "opstamp", stamp)
	return stamp, nil
}

// DeleteDocument buffers removal of id. Deleting an unknown id succeeds.
func (c *Coordinator) DeleteDocument(ctx context.Context, id string) (engine.Opstamp, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(id) == "" {
		return 0, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "id is required")
	}
	var stamp engine.Opstamp
	err := c.writer.Do(func(w *engine.Writer) error {
		stamp = w.DeleteByID(id)
		return nil
	})
	c.observe("delete", err)
	if err != nil {
		return 0, err
	}
	return stamp, nil
}

func (c *Coordinator) observe(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.MutationsTotal.WithLabelValues(op, status).Inc()
}

// Commit makes every mutation buffered so far durable. The writer lock is
// held only long enough to detach the buffered batch, so mutators are not
// blocked while the batch is written. A failed commit keeps the detached
// batches queued and the next Commit retries them in order.
func (c *Coordinator) Commit(ctx context.Context) (CommitInfo, error) {
	if err := ctx.Err(); err != nil {
		return CommitInfo{}, err
	}
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	start := time.Now()
	err := c.writer.Do(func(w *engine.Writer) error {
		if w.Pending() > 0 {
			c.pending = append(c.pending, w.Detach())
		}
		return nil
	})
	if err != nil {
		c.metrics.CommitsTotal.WithLabelValues("error").Inc()
		return CommitInfo{}, fmt.Errorf("%w: detaching writer batch: %v", apperrors.ErrCommit, err)
	}
	c.publishBacklog()
	if len(c.pending) > c.maxPending {
		c.logger.Warn("commit backlog above limit",
			"pending_batches", len(c.pending),
			"limit", c.maxPending,
		)
	}

	info := CommitInfo{Opstamp: c.committed}
	for len(c.pending) > 0 {
		b := c.pending[0]
		if err := c.applier.Apply(b); err != nil {
			c.metrics.CommitsTotal.WithLabelValues("error").Inc()
			c.publishBacklog()
			c.logger.Error("commit failed",
				"error", err,
				"pending_batches", len(c.pending),
			)
			if !errors.Is(err, apperrors.ErrCommit) && !errors.Is(err, apperrors.ErrIndexClosed) {
				err = fmt.Errorf("%w: %v", apperrors.ErrCommit, err)
			}
			info.Duration = time.Since(start)
			return info, err
		}
		c.pending[0] = nil
		c.pending = c.pending[1:]
		_, last := b.Opstamps()
		c.committed = last
		c.publishBacklog()
		info.Batches++
		info.Ops += b.Len()
		info.Opstamp = last
	}
	if len(c.pending) == 0 {
		c.pending = nil
	}

	info.Duration = time.Since(start)
	c.metrics.CommitsTotal.WithLabelValues("ok").Inc()
	c.metrics.CommitDuration.Observe(info.Duration.Seconds())
	if info.Ops > 0 {
		c.logger.Debug("commit applied",
			"batches", info.Batches,
			"ops", info.Ops,
			"opstamp", info.Opstamp,
			"duration_ms", info.Duration.Milliseconds(),
		)
	}
	return info, nil
}

// publishBacklog copies the commit backlog for Stats. commitMu must be held.
func (c *Coordinator) publishBacklog() {
	b := backlog{batches: len(c.pending), committed: c.committed}
	for _, p := range c.pending {
		b.ops += p.Len()
	}
	c.backlogMu.Lock()
	c.backlog = b
	c.backlogMu.Unlock()
	c.metrics.PendingBatches.Set(float64(b.batches))
}

// Rollback discards mutations buffered since the last commit. Batches already
// detached by a failed commit are not affected.
func (c *Coordinator) Rollback() (int, error) {
	var dropped int
	err := c.writer.Do(func(w *engine.Writer) error {
		dropped = w.Rollback()
		return nil
	})
	if err == nil && dropped > 0 {
		c.logger.Warn("buffered mutations rolled back", "dropped_ops", dropped)
	}
	return dropped, err
}

// Stats reports buffered and pending work. It does not wait for a commit in
// progress; the backlog it reports is the one last observed by Commit.
func (c *Coordinator) Stats() WriterStats {
	var s WriterStats
	_ = c.writer.Do(func(w *engine.Writer) error {
		s.BufferedOps = w.Pending()
		s.LastOpstamp = w.Opstamp()
		return nil
	})
	c.backlogMu.Lock()
	b := c.backlog
	c.backlogMu.Unlock()
	s.PendingBatches = b.batches
	s.PendingOps = b.ops
	s.Committed = b.committed
	return s
}
