package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/searcher/gateway"
	apperrors "github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/logger"
)

type Searcher interface {
	Search(ctx context.Context, q string, limit int) (*gateway.Result, error)
	CacheStats() (cache.Stats, bool)
	InvalidateCache(ctx context.Context) error
}

// Refresher is implemented by *indexer.Publisher.
type Refresher interface {
	RefreshNow(ctx context.Context) (indexer.PublishInfo, error)
	Current() (indexer.PublishInfo, bool)
}

// WriterStats is implemented by *indexer.Coordinator.
type WriterStats interface {
	Stats() indexer.WriterStats
}

type Handler struct {
	searcher  Searcher
	refresher Refresher
	writer    WriterStats
	logger    *slog.Logger
}

func New(s Searcher, r Refresher, w WriterStats) *Handler {
	return &Handler{
		searcher:  s,
		refresher: r,
		writer:    w,
		logger:    slog.Default().With("component", "search-handler"),
	}
}

// Search serves GET /search?q=&limit=. The body is a JSON array of hits.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	q := r.URL.Query().Get("q")
	if q == "" {
		h.writeError(w, http.StatusBadRequest, "invalid query: query parameter 'q' is required")
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}

	result, err := h.searcher.Search(ctx, q, limit)
	if err != nil {
		// Syntax errors already read "invalid query: <detail>".
		status := apperrors.HTTPStatusCode(err)
		if status >= http.StatusInternalServerError {
			log.Error("search failed", "query", q, "error", err)
		}
		h.writeError(w, status, err.Error())
		return
	}

	log.Info("search completed",
		"query", q,
		"limit", result.Limit,
		"generation", result.Generation,
		"total_hits", result.TotalHits,
		"returned", len(result.Hits),
		"cache", result.CacheStatus,
		"latency_ms", result.Latency.Milliseconds(),
	)
	hits := result.Hits
	if hits == nil {
		hits = []map[string]any{}
	}
	h.writeJSON(w, http.StatusOK, hits)
}

// Stats serves GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{}
	if h.refresher != nil {
		if info, ok := h.refresher.Current(); ok {
			resp["snapshot"] = info
		} else {
			resp["snapshot"] = nil
		}
	}
	if h.writer != nil {
		resp["writer"] = h.writer.Stats()
	}
	if stats, ok := h.searcher.CacheStats(); ok {
		resp["cache"] = stats
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Refresh serves POST /admin/refresh: one synchronous commit and publish.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	info, err := h.refresher.RefreshNow(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("manual refresh failed", "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, ok := h.searcher.CacheStats()
	if !ok {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	var hitRate float64
	if total := stats.L1Hits + stats.L2Hits + stats.Misses; total > 0 {
		hitRate = float64(stats.L1Hits+stats.L2Hits) / float64(total)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"stats":    stats,
		"hit_rate": hitRate,
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.searcher.CacheStats(); !ok {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.searcher.InvalidateCache(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
