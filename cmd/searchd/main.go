package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/indexer/engine"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/nrt-search/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/router"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/searcher/gateway"
	searchhandler "github.com/Adithya-Monish-Kumar-K/nrt-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(cfg *config.Config) error {
	instance := uuid.NewString()
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"data_dir", cfg.Index.DataDir,
		"refresh_interval", cfg.Index.RefreshInterval,
		"instance", instance,
	)

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownMetrics(ctx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	reg := schema.Default()
	idx, err := engine.Open(cfg.Index, reg)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer func() {
		if err := idx.Close(); err != nil {
			slog.Error("closing index", "error", err)
		}
	}()

	coord := indexer.NewCoordinator(reg, idx.NewWriter(), idx, cfg.Index.MaxPendingBatches, m)
	pub := indexer.NewPublisher(coord, idx, cfg.Index.RefreshInterval, m)
	defer pub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := health.NewChecker()

	var collector *events.Collector
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Snapshots)
		defer producer.Close()
		// The collector outlives ctx so the final publish cycle's event is
		// still delivered.
		collectorCtx, cancelCollector := context.WithCancel(context.Background())
		defer cancelCollector()
		collector = events.NewCollector(producer, 1024, m)
		collector.Start(collectorCtx)
		defer collector.Close()
		pub.OnPublish(func(info indexer.PublishInfo) {
			collector.TrackSnapshot(events.NewSnapshotPublished(
				instance,
				info.Generation,
				info.DocCount,
				uint64(info.Opstamp),
				info.CommitOps,
				info.Duration,
				info.PublishedAt,
			))
		})
		slog.Info("snapshot events enabled", "topic", cfg.Kafka.Topics.Snapshots)
	}

	if err := pub.Init(); err != nil {
		return fmt.Errorf("publishing initial snapshot: %w", err)
	}

	var queryCache *cache.QueryCache
	if cfg.Cache.Enabled {
		queryCache, err = cache.New(cfg.Cache.Size, instance, m)
		if err != nil {
			return err
		}
		if cfg.Cache.RedisEnabled {
			redisClient, err := pkgredis.NewClient(cfg.Redis)
			if err != nil {
				slog.Warn("redis unavailable, shared cache tier disabled", "error", err)
			} else {
				defer redisClient.Close()
				breaker := resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
					OnStateChange: func(name string, from, to resilience.State) {
						m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
					},
				})
				queryCache.WithRedis(redisClient, breaker, cfg.Redis.CacheTTL, 100*time.Millisecond)
				checker.Register("redis", health.Ping(false, redisClient.Ping))
				slog.Info("shared cache tier enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
			}
		}
	}

	exec := executor.New(pub, reg, cfg.Search.Timeout)
	svc := gateway.New(exec, queryCache, cfg.Search, m)

	checker.Register("snapshot", health.Freshness(pub.LastRefreshed, 10*cfg.Index.RefreshInterval))

	searchH := searchhandler.New(svc, pub, coord)
	ingestH := ingesthandler.New(coord)

	opts := router.Options{
		Timeout:      cfg.Server.WriteTimeout,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		CORSOrigins:  cfg.Server.CORSOrigins,
	}
	if rl := cfg.Server.RateLimit; rl.Enabled {
		limiter := ratelimit.New(rl.RequestsPerSecond, rl.Burst, 0)
		defer limiter.Close()
		opts.Limiter = limiter
		slog.Info("rate limiting enabled", "rps", rl.RequestsPerSecond, "burst", rl.Burst)
	}
	handler := router.New(ingestH, searchH, checker, m, opts)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// The publisher stops only after every writer has, so its final cycle
	// commits everything they accepted.
	pubCtx, stopPublisher := context.WithCancel(context.Background())
	defer stopPublisher()
	pubDone := pub.Start(pubCtx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("search service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.Kafka.Enabled {
		mc := consumer.New(kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Mutations, consumer.HandleMessage(coord, m)))
		g.Go(func() error { return mc.Start(gctx) })
		slog.Info("mutation consumer enabled", "topic", cfg.Kafka.Topics.Mutations)
	}

	err = g.Wait()
	stopPublisher()
	<-pubDone
	return err
}
