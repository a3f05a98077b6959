// Package cache memoizes search results per published snapshot. Entries are
// keyed by snapshot generation, so a new snapshot never serves stale hits
// and no explicit invalidation is needed on publish.
//
// The redis tier is private to one process: keys carry the process's
// namespace because generations restart at one on every open. It extends
// the local tier past LRU eviction and survives nothing else.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/resilience"
)

const keyPrefix = "search:"

// Status reports where a result came from.
type Status string

const (
	StatusL1   Status = "l1"
	StatusL2   Status = "l2"
	StatusMiss Status = "miss"
)

// Stats are cumulative counters since start.
type Stats struct {
	L1Hits  int64 `json:"l1_hits"`
	L2Hits  int64 `json:"l2_hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
	Redis   bool  `json:"redis"`
}

type QueryCache struct {
	// namespace scopes keys to one process. Generations restart at one on
	// every open, so shared redis keys would otherwise collide.
	namespace string
	local     *lru.Cache[string, *executor.SearchResult]

	redis   *pkgredis.Client
	breaker *resilience.CircuitBreaker
	ttl     time.Duration
	timeout time.Duration

	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger

	l1Hits atomic.Int64
	l2Hits atomic.Int64
	misses atomic.Int64
}

// New creates a cache holding up to size results in process.
func New(size int, namespace string, m *metrics.Metrics) (*QueryCache, error) {
	if m == nil {
		m = metrics.NewNop()
	}
	local, err := lru.New[string, *executor.SearchResult](size)
	if err != nil {
		return nil, fmt.Errorf("creating local cache: %w", err)
	}
	return &QueryCache{
		namespace: namespace,
		local:     local,
		metrics:   m,
		logger:    slog.Default().With("component", "query-cache"),
	}, nil
}

// WithRedis adds a shared second tier. Redis calls go through breaker and are
// bounded by timeout; failures degrade to a miss. A nil breaker gets the
// default one.
func (c *QueryCache) WithRedis(client *pkgredis.Client, breaker *resilience.CircuitBreaker, ttl, timeout time.Duration) *QueryCache {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{})
	}
	c.redis = client
	c.breaker = breaker
	c.ttl = ttl
	c.timeout = timeout
	return c
}

// Get looks up a result in both tiers. An L2 hit is promoted to L1.
func (c *QueryCache) Get(ctx context.Context, generation uint64, query string, limit int) (*executor.SearchResult, Status) {
	key := c.buildKey(generation, query, limit)
	if r, ok := c.local.Get(key); ok {
		c.l1Hits.Add(1)
		c.metrics.CacheHitsTotal.WithLabelValues(string(StatusL1)).Inc()
		return r, StatusL1
	}
	if r, ok := c.getRemote(ctx, key); ok {
		c.local.Add(key, r)
		c.l2Hits.Add(1)
		c.metrics.CacheHitsTotal.WithLabelValues(string(StatusL2)).Inc()
		return r, StatusL2
	}
	c.misses.Add(1)
	c.metrics.CacheMissesTotal.Inc()
	return nil, StatusMiss
}

// Set stores r in both tiers.
func (c *QueryCache) Set(ctx context.Context, generation uint64, query string, limit int, r *executor.SearchResult) {
	key := c.buildKey(generation, query, limit)
	c.local.Add(key, r)
	c.setRemote(ctx, key, r)
}

// GetOrCompute returns a cached result or runs computeFn once for all
// concurrent callers asking the same question of the same snapshot.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	generation uint64,
	query string,
	limit int,
	computeFn func() (*executor.SearchResult, error),
) (*executor.SearchResult, Status, error) {
	if r, status := c.Get(ctx, generation, query, limit); status != StatusMiss {
		return r, status, nil
	}
	key := c.buildKey(generation, query, limit)
	val, err, _ := c.group.Do(key, func() (any, error) {
		if r, ok := c.local.Get(key); ok {
			return r, nil
		}
		r, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, generation, query, limit, r)
		return r, nil
	})
	if err != nil {
		return nil, StatusMiss, err
	}
	return val.(*executor.SearchResult), StatusMiss, nil
}

func (c *QueryCache) getRemote(ctx context.Context, key string) (*executor.SearchResult, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := resilience.Call(c.breaker, func() ([]byte, error) {
		return resilience.WithTimeout(ctx, c.timeout, "redis-get", func(ctx context.Context) ([]byte, error) {
			data, err := c.redis.GetBytes(ctx, key)
			if pkgredis.IsNilError(err) {
				return nil, nil
			}
			return data, err
		})
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		return nil, false
	}
	if data == nil {
		return nil, false
	}
	var r executor.SearchResult
	if err := json.Unmarshal(data, &r); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return &r, true
}

func (c *QueryCache) setRemote(ctx context.Context, key string, r *executor.SearchResult) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		_, err := resilience.WithTimeout(ctx, c.timeout, "redis-set", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.redis.Set(ctx, key, data, c.ttl)
		})
		return err
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// Invalidate drops this process's entries in both tiers. Keys written by
// other processes sharing the redis server are left alone.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	c.local.Purge()
	if c.redis == nil {
		return nil
	}
	deleted, err := c.redis.FlushByPattern(ctx, c.namespacePattern())
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() Stats {
	return Stats{
		L1Hits:  c.l1Hits.Load(),
		L2Hits:  c.l2Hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.local.Len(),
		Redis:   c.redis != nil,
	}
}

func (c *QueryCache) namespacePattern() string {
	return keyPrefix + c.namespace + ":*"
}

func (c *QueryCache) buildKey(generation uint64, query string, limit int) string {
	raw := fmt.Sprintf("%s:limit=%d", normalizeQuery(query), limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%s:g%d:%x", keyPrefix, c.namespace, generation, hash[:16])
}

// normalizeQuery collapses runs of whitespace. Nothing else is rewritten:
// case and term order can change what a query-string query matches.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
