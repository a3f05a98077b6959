package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

type searchOptions struct {
	query string
	limit int
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run one query and print the hits",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 && !cmd.Flags().Changed("q") {
				opts.query = strings.Join(args, " ")
			}
			return runSearch(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.query, "q", "rust", "Query text")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of hits")

	return cmd
}

func runSearch(ctx context.Context, out io.Writer, opts searchOptions) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL(opts.query, opts.limit), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := newHTTPClient(1).Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("search failed: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	pretty.WriteByte('\n')
	_, err = pretty.WriteTo(out)
	return err
}

func searchURL(q string, limit int) string {
	v := url.Values{}
	v.Set("q", q)
	v.Set("limit", strconv.Itoa(limit))
	return baseURL() + "/search?" + v.Encode()
}
