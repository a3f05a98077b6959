// Command loadgen feeds documents to a running search service and measures
// query latency against it.
package main

import (
	"os"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/cmd/loadgen/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
