package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/kafka"
)

var (
	tagPool   = []string{"rust", "search", "golang", "bleve", "json", "indexing", "performance", "concurrency"}
	bodyWords = []string{
		"search", "engine", "bleve", "fast", "index", "query", "http", "json", "analysis", "token",
		"field", "document", "commit", "reload", "reader", "writer", "snapshot", "mutex", "swap", "golang",
	}
	languages = []string{"en", "zh", "jp", "fr"}
)

type generateOptions struct {
	count        int
	concurrency  int
	kafkaBrokers []string
	kafkaTopic   string
	batchSize    int
}

func newGenerateCmd() *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate and index synthetic documents",
		Long: `Generate synthetic blog posts and index them through POST /index, or
publish them as index mutations on Kafka when --kafka-brokers is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().IntVar(&opts.count, "count", 1000, "Number of documents to generate")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 8, "Concurrent index requests")
	cmd.Flags().StringSliceVar(&opts.kafkaBrokers, "kafka-brokers", nil, "Publish to Kafka instead of HTTP")
	cmd.Flags().StringVar(&opts.kafkaTopic, "kafka-topic", "document-mutations", "Mutation topic")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 100, "Documents per Kafka batch")

	return cmd
}

func runGenerate(ctx context.Context, out io.Writer, opts generateOptions) error {
	if opts.count <= 0 {
		return fmt.Errorf("--count must be positive")
	}
	if opts.concurrency <= 0 {
		opts.concurrency = 1
	}
	start := time.Now()
	var (
		ok  int64
		err error
	)
	if len(opts.kafkaBrokers) > 0 {
		ok, err = generateKafka(ctx, opts)
	} else {
		ok, err = generateHTTP(ctx, opts)
	}
	fmt.Fprintf(out, "Indexed %d/%d documents in %s\n", ok, opts.count, time.Since(start).Round(time.Millisecond))
	return err
}

func generateHTTP(ctx context.Context, opts generateOptions) (int64, error) {
	client := newHTTPClient(opts.concurrency)
	url := baseURL() + "/index"

	var ok atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)
	for i := 0; i < opts.count; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			post := newPost(i, time.Now(), rand.New(rand.NewPCG(uint64(i), uint64(time.Now().UnixNano()))))
			if err := postDocument(ctx, client, url, post); err != nil {
				// One failed post does not stop the run.
				slog.Error("index error", "id", post.ID, "error", err)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	err := g.Wait()
	return ok.Load(), err
}

func postDocument(ctx context.Context, client *http.Client, url string, doc document.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	text, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("index failed: %d - %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}
	return nil
}

func generateKafka(ctx context.Context, opts generateOptions) (int64, error) {
	producer := kafka.NewProducer(config.KafkaConfig{Brokers: opts.kafkaBrokers}, opts.kafkaTopic)
	defer producer.Close()
	pub := publisher.New(producer)

	if opts.batchSize <= 0 {
		opts.batchSize = 100
	}
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	var sent int64
	batch := make([]document.Document, 0, opts.batchSize)
	for i := 0; i < opts.count; i++ {
		batch = append(batch, newPost(i, time.Now(), rng))
		if len(batch) == opts.batchSize || i == opts.count-1 {
			if err := pub.Index(ctx, batch...); err != nil {
				return sent, err
			}
			sent += int64(len(batch))
			batch = batch[:0]
		}
	}
	return sent, nil
}

// newPost builds the i-th synthetic document. Every fifth post is a draft.
func newPost(i int, now time.Time, rng *rand.Rand) document.Document {
	body := randomBody(200+i%200, rng)
	createAt := now.Unix()
	status := "published"
	if i%5 == 0 {
		status = "draft"
	}
	return document.Document{
		ID:       fmt.Sprintf("doc-%d-%d", i, rng.Uint64()),
		Title:    fmt.Sprintf("Post %d about Go and search", i),
		Body:     body,
		Tags:     randomTags(1+i%4, rng),
		CreateAt: &createAt,
		Status:   status,
		Features: document.ObjectPayload(map[string]any{
			"lang":   languages[rng.IntN(len(languages))],
			"length": len(body),
			"score":  float64(i) * 0.1,
			"random": randomString(12, rng),
		}),
	}
}

func randomBody(words int, rng *rand.Rand) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = bodyWords[rng.IntN(len(bodyWords))]
	}
	return strings.Join(parts, " ")
}

// randomTags picks n distinct tags, sorted.
func randomTags(n int, rng *rand.Rand) []string {
	n = min(n, len(tagPool))
	perm := rng.Perm(len(tagPool))[:n]
	tags := make([]string, 0, n)
	for _, idx := range perm {
		tags = append(tags, tagPool[idx])
	}
	slices.Sort(tags)
	return tags
}

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func randomString(n int, rng *rand.Rand) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphanumeric[rng.IntN(len(alphanumeric))]
	}
	return string(b)
}
