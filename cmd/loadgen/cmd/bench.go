package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var defaultQueries = []string{
	"search engine",
	"snapshot",
	"tags:rust",
	"tags:golang",
	"title:post",
	"body:commit",
	"reader writer",
	"features.lang:en",
	"status:draft",
	"concurrency",
	"index query",
	"bleve",
}

type benchOptions struct {
	concurrency int
	duration    time.Duration
	rps         float64
	limit       int
	queries     []string
}

func newBenchCmd() *cobra.Command {
	var opts benchOptions

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark query latency",
		Long: `Run queries against GET /search from concurrent workers for a fixed
duration and report throughput, latency percentiles and status codes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(opts.queries) == 0 {
				opts.queries = defaultQueries
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "=== Search Load Test ===")
			fmt.Fprintf(out, "Target:      %s\n", baseURL())
			fmt.Fprintf(out, "Concurrency: %d\n", opts.concurrency)
			fmt.Fprintf(out, "Duration:    %s\n", opts.duration)
			fmt.Fprintf(out, "Queries:     %d unique\n", len(opts.queries))
			fmt.Fprintln(out)

			stats := runBench(cmd.Context(), opts)
			return stats.Report(out, opts.duration)
		},
	}

	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 10, "Number of concurrent workers")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 30*time.Second, "Test duration")
	cmd.Flags().Float64Var(&opts.rps, "rps", 0, "Overall request rate limit (0 = unlimited)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Hits per query")
	cmd.Flags().StringSliceVarP(&opts.queries, "query", "q", nil, "Query to run (repeatable)")

	return cmd
}

func runBench(ctx context.Context, opts benchOptions) *Stats {
	stats := NewStats()
	if opts.concurrency <= 0 {
		opts.concurrency = 1
	}
	client := newHTTPClient(opts.concurrency)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.rps), max(1, opts.concurrency))
	}

	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			queryIdx := workerID
			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				q := opts.queries[queryIdx%len(opts.queries)]
				queryIdx++

				req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL(q, opts.limit), nil)
				if err != nil {
					stats.RecordRequest(0, 0, err)
					continue
				}
				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					stats.RecordRequest(elapsed, 0, err)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.RecordRequest(elapsed, resp.StatusCode, nil)
			}
		}(w)
	}
	wg.Wait()
	return stats
}

// Stats accumulates results from concurrent workers.
type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64

	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)
	if err != nil {
		s.errorCount.Add(1)
		return
	}
	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, duration)
	s.statusCodes[statusCode]++
	s.mu.Unlock()
}

// Report prints a summary. It fails when no request completed.
func (s *Stats) Report(out io.Writer, duration time.Duration) error {
	total := s.totalRequests.Load()
	success := s.successCount.Load()
	failed := s.errorCount.Load()

	fmt.Fprintln(out, "=== Results ===")
	fmt.Fprintf(out, "Total Requests:  %d\n", total)
	fmt.Fprintf(out, "Successful:      %d\n", success)
	fmt.Fprintf(out, "Errors:          %d\n", failed)
	if total > 0 {
		fmt.Fprintf(out, "Error Rate:      %.2f%%\n", float64(failed)/float64(total)*100)
		fmt.Fprintf(out, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	s.mu.Lock()
	latencies := slices.Clone(s.latencies)
	codes := make(map[int]int64, len(s.statusCodes))
	for k, v := range s.statusCodes {
		codes[k] = v
	}
	s.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Fprintln(out)
		fmt.Fprintln(out, "=== Latency ===")
		fmt.Fprintf(out, "Min:    %s\n", latencies[0])
		fmt.Fprintf(out, "Avg:    %s\n", avg)
		fmt.Fprintf(out, "P50:    %s\n", percentile(latencies, 50))
		fmt.Fprintf(out, "P90:    %s\n", percentile(latencies, 90))
		fmt.Fprintf(out, "P95:    %s\n", percentile(latencies, 95))
		fmt.Fprintf(out, "P99:    %s\n", percentile(latencies, 99))
		fmt.Fprintf(out, "Max:    %s\n", latencies[len(latencies)-1])

		var sumSquared float64
		for _, l := range latencies {
			diff := float64(l) - float64(avg)
			sumSquared += diff * diff
		}
		fmt.Fprintf(out, "StdDev: %s\n", time.Duration(math.Sqrt(sumSquared/float64(len(latencies)))))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "=== Status Codes ===")
	keys := make([]int, 0, len(codes))
	for code := range codes {
		keys = append(keys, code)
	}
	slices.Sort(keys)
	for _, code := range keys {
		fmt.Fprintf(out, "  %d: %d\n", code, codes[code])
	}

	if total == 0 {
		return errors.New("no requests completed; is the service running?")
	}
	return nil
}

// percentile returns the nearest-rank p-th percentile of sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
