// Package executor runs parsed queries against a published snapshot and turns
// the engine's hits into response documents.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/indexer/engine"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/resilience"
)

// ScoreField is the key under which a hit's relevance score is reported.
const ScoreField = "_score"

// SnapshotSource hands out referenced snapshots. *indexer.Publisher
// implements it.
type SnapshotSource interface {
	Acquire() (*engine.Snapshot, error)
}

type SearchResult struct {
	Query      string           `json:"query"`
	Generation uint64           `json:"generation"`
	TotalHits  uint64           `json:"total_hits"`
	Hits       []map[string]any `json:"hits"`
}

type Executor struct {
	source  SnapshotSource
	reg     *schema.Registry
	timeout time.Duration
	logger  *slog.Logger
}

// New creates an executor. A positive timeout bounds each search.
func New(source SnapshotSource, reg *schema.Registry, timeout time.Duration) *Executor {
	return &Executor{
		source:  source,
		reg:     reg,
		timeout: timeout,
		logger:  slog.Default().With("component", "query-executor"),
	}
}

// Parse validates raw against the schema. Syntax errors and unknown fields
// come back as ErrQuerySyntax.
func (e *Executor) Parse(raw string) (query.Query, error) {
	return engine.ParseQuery(e.reg, raw)
}

// Acquire returns the current snapshot. The caller releases it with DecRef.
func (e *Executor) Acquire() (*engine.Snapshot, error) {
	return e.source.Acquire()
}

// Execute runs q on snap and renders the top limit hits, best first.
func (e *Executor) Execute(ctx context.Context, snap *engine.Snapshot, raw string, q query.Query, limit int) (*SearchResult, error) {
	type found struct {
		hits  []engine.Hit
		total uint64
	}
	res, err := resilience.WithTimeout(ctx, e.timeout, "search", func(ctx context.Context) (found, error) {
		// The caller may release snap at the deadline while this is still
		// running.
		if !snap.TryIncRef() {
			return found{}, apperrors.ErrNoSnapshot
		}
		defer snap.DecRef()
		hits, total, err := snap.Search(ctx, q, limit)
		return found{hits, total}, err
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: executing query %q: %v", apperrors.ErrTimeout, raw, err)
	}
	if err != nil {
		return nil, fmt.Errorf("executing query %q: %w", raw, err)
	}

	out := make([]map[string]any, 0, len(res.hits))
	for _, h := range res.hits {
		doc := document.Render(e.reg, h.Fields)
		doc[ScoreField] = h.Score
		out = append(out, doc)
	}
	e.logger.Debug("query executed",
		"query", raw,
		"generation", snap.Generation(),
		"total_hits", res.total,
		"returned", len(out),
	)
	return &SearchResult{
		Query:      raw,
		Generation: snap.Generation(),
		TotalHits:  res.total,
		Hits:       out,
	}, nil
}
