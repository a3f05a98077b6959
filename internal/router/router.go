// Package router wires the service's HTTP routes and applies the middleware
// chain.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	ingesthandler "github.com/Adithya-Monish-Kumar-K/nrt-search/internal/ingestion/handler"
	searchhandler "github.com/Adithya-Monish-Kumar-K/nrt-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/middleware"
)

// Options configures the middleware chain. Zero values disable the
// corresponding middleware.
type Options struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	CORSOrigins  []string
	// Limiter is consulted once per request, keyed by client address.
	Limiter middleware.Allower
}

// New builds the HTTP handler.
//
// Route table:
//
//	POST   /index           → buffer a new document       ("queued")
//	POST   /update          → buffer a replacement        ("updated")
//	DELETE /delete?id=      → buffer a delete             ("deleted")
//	GET    /search?q=&limit → query the published snapshot
//	GET    /stats           → snapshot, writer and cache state
//	POST   /admin/refresh   → commit and publish now
//	GET    /admin/cache     → cache counters
//	DELETE /admin/cache     → drop cached results
//	GET    /health/live     → liveness
//	GET    /health/ready    → readiness
//
// Middleware chain (outermost first):
//
//	RequestID → RealIP → Recoverer → Metrics → CORS → RateLimit → Timeout → MaxBody → handler
func New(
	ingest *ingesthandler.Handler,
	search *searchhandler.Handler,
	checker *health.Checker,
	m *metrics.Metrics,
	opts Options,
) http.Handler {
	if m == nil {
		m = metrics.NewNop()
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics(m))
	if len(opts.CORSOrigins) > 0 {
		r.Use(middleware.CORS(middleware.DefaultCORSConfig(opts.CORSOrigins)))
	}
	if opts.Limiter != nil {
		r.Use(middleware.RateLimit(opts.Limiter))
	}
	r.Use(middleware.Timeout(opts.Timeout))
	r.Use(middleware.MaxBody(opts.MaxBodyBytes))

	r.Post("/index", ingest.Index)
	r.Post("/update", ingest.Update)
	r.Delete("/delete", ingest.Delete)

	r.Get("/search", search.Search)
	r.Get("/stats", search.Stats)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/refresh", search.Refresh)
		r.Get("/cache", search.CacheStats)
		r.Delete("/cache", search.CacheInvalidate)
	})

	if checker != nil {
		r.Get("/health/live", checker.LiveHandler())
		r.Get("/health/ready", checker.ReadyHandler())
	}
	return r
}
