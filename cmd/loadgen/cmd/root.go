// Package cmd provides the loadgen commands.
package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/logger"
)

var (
	endpoint string
	logLevel string
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Load generator for the search service",
		Long: `loadgen indexes synthetic blog posts into a running search service,
runs single queries against it, and benchmarks query latency.

Examples:
  loadgen generate --count 10000 --concurrency 16
  loadgen search --q "tags:rust" --limit 5
  loadgen bench --duration 30s --concurrency 8 --rps 500`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Setup(logLevel, "text")
		},
	}

	cmd.PersistentFlags().StringVar(&endpoint, "endpoint", "http://127.0.0.1:8080", "Base URL of the search service")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	cmd.AddCommand(newGenerateCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newBenchCmd())
	return cmd
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

func baseURL() string {
	return strings.TrimRight(endpoint, "/")
}

func newHTTPClient(concurrency int) *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
