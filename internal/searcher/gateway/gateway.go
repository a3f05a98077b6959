// Package gateway is the read side of the service: it answers queries from
// the currently published snapshot and never touches the write path.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/metrics"
)

// Result is one answered query.
type Result struct {
	Query       string
	Limit       int
	Generation  uint64
	TotalHits   uint64
	Hits        []map[string]any
	CacheStatus cache.Status
	Latency     time.Duration
}

type Service struct {
	exec         *executor.Executor
	cache        *cache.QueryCache
	defaultLimit int
	maxResults   int
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// New creates the search service. qc may be nil to disable caching.
func New(exec *executor.Executor, qc *cache.QueryCache, cfg config.SearchConfig, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.NewNop()
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.MaxResults < cfg.DefaultLimit {
		cfg.MaxResults = cfg.DefaultLimit
	}
	return &Service{
		exec:         exec,
		cache:        qc,
		defaultLimit: cfg.DefaultLimit,
		maxResults:   cfg.MaxResults,
		metrics:      m,
		logger:       slog.Default().With("component", "search-gateway"),
	}
}

// Limit applies the default to non-positive limits and caps the rest.
func (s *Service) Limit(limit int) int {
	switch {
	case limit <= 0:
		return s.defaultLimit
	case limit > s.maxResults:
		return s.maxResults
	default:
		return limit
	}
}

// Search answers q with at most limit hits from the current snapshot, best
// score first.
func (s *Service) Search(ctx context.Context, q string, limit int) (*Result, error) {
	start := time.Now()
	limit = s.Limit(limit)

	parsed, err := s.exec.Parse(q)
	if err != nil {
		s.metrics.SearchQueriesTotal.WithLabelValues("syntax_error").Inc()
		return nil, err
	}

	snap, err := s.exec.Acquire()
	if err != nil {
		s.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	defer snap.DecRef()

	compute := func() (*executor.SearchResult, error) {
		return s.exec.Execute(ctx, snap, q, parsed, limit)
	}
	var (
		res    *executor.SearchResult
		status = cache.StatusMiss
	)
	if s.cache != nil {
		res, status, err = s.cache.GetOrCompute(ctx, snap.Generation(), q, limit, compute)
	} else {
		res, err = compute()
	}
	if err != nil {
		s.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		s.logger.Error("search failed", "query", q, "generation", snap.Generation(), "error", err)
		return nil, err
	}

	latency := time.Since(start)
	resultType := "ok"
	if len(res.Hits) == 0 {
		resultType = "zero_result"
	}
	s.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	s.metrics.SearchLatency.WithLabelValues(string(status)).Observe(latency.Seconds())
	s.metrics.SearchResultsCount.Observe(float64(len(res.Hits)))

	return &Result{
		Query:       q,
		Limit:       limit,
		Generation:  res.Generation,
		TotalHits:   res.TotalHits,
		Hits:        res.Hits,
		CacheStatus: status,
		Latency:     latency,
	}, nil
}

// CacheStats reports cache counters, or false when caching is disabled.
func (s *Service) CacheStats() (cache.Stats, bool) {
	if s.cache == nil {
		return cache.Stats{}, false
	}
	return s.cache.Stats(), true
}

// InvalidateCache drops all cached results.
func (s *Service) InvalidateCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx)
}
