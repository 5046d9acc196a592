// Command graphcube precomputes and queries aggregated views of a
// multidimensional graph.
package main

import (
	"fmt"
	"os"

	"github.com/eunmann/graph-cube/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
