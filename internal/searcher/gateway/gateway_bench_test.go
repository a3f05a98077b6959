package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/indexer/engine"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/config"
)

var benchQueries = []struct {
	name  string
	query string
}{
	{"term", "snapshot"},
	{"fielded", "tags:rust"},
	{"boolean", "+body:commit -status:draft"},
	{"phrase", `"reader writer"`},
	{"nested_field", "features.lang:en"},
}

// BenchmarkQueryParse measures query parsing and field expansion.
func BenchmarkQueryParse(b *testing.B) {
	reg := schema.Default()
	for _, q := range benchQueries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := engine.ParseQuery(reg, q.query); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func newBenchService(b *testing.B, numDocs int, withCache bool) *Service {
	b.Helper()
	reg := schema.Default()
	idx, err := engine.Open(config.IndexConfig{DataDir: b.TempDir()}, reg)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { idx.Close() })

	coord := indexer.NewCoordinator(reg, idx.NewWriter(), idx, 0, nil)
	pub := indexer.NewPublisher(coord, idx, time.Hour, nil)
	b.Cleanup(pub.Close)
	if err := pub.Init(); err != nil {
		b.Fatal(err)
	}

	words := []string{"snapshot", "commit", "reader", "writer", "swap", "index", "query"}
	tags := []string{"rust", "golang", "search"}
	ctx := context.Background()
	for i := 0; i < numDocs; i++ {
		doc := document.Document{
			ID:       fmt.Sprintf("doc-%d", i),
			Title:    fmt.Sprintf("Post %d", i),
			Body:     fmt.Sprintf("%s %s %s", words[i%len(words)], words[(i+3)%len(words)], "reader writer"),
			Tags:     []string{tags[i%len(tags)]},
			Status:   []string{"published", "draft"}[i%2],
			Features: document.ObjectPayload(map[string]any{"lang": []string{"en", "zh"}[i%2]}),
		}
		if _, err := coord.IndexDocument(ctx, doc); err != nil {
			b.Fatal(err)
		}
	}
	if _, err := pub.RefreshNow(ctx); err != nil {
		b.Fatal(err)
	}

	var qc *cache.QueryCache
	if withCache {
		if qc, err = cache.New(1024, "bench", nil); err != nil {
			b.Fatal(err)
		}
	}
	return New(executor.New(pub, reg, time.Second), qc, config.SearchConfig{DefaultLimit: 10, MaxResults: 100}, nil)
}

// BenchmarkSearch measures end-to-end query latency against a published
// snapshot, with and without the result cache.
func BenchmarkSearch(b *testing.B) {
	for _, numDocs := range []int{100, 1000} {
		for _, cached := range []bool{false, true} {
			svc := newBenchService(b, numDocs, cached)
			for _, q := range benchQueries {
				b.Run(fmt.Sprintf("docs_%d/cache_%t/%s", numDocs, cached, q.name), func(b *testing.B) {
					b.ReportAllocs()
					for i := 0; i < b.N; i++ {
						if _, err := svc.Search(context.Background(), q.query, 10); err != nil {
							b.Fatal(err)
						}
					}
				})
			}
		}
	}
}

// BenchmarkSearchParallel measures concurrent readers sharing one snapshot.
func BenchmarkSearchParallel(b *testing.B) {
	svc := newBenchService(b, 1000, false)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q := benchQueries[i%len(benchQueries)].query
			if _, err := svc.Search(context.Background(), q, 10); err != nil {
				b.Error(err)
				return
			}
			i++
		}
	})
}
