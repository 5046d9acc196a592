package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/eunmann/graph-cube/pkg/cube"
	"github.com/eunmann/graph-cube/pkg/engine"
)

const prompt = "> "

const replHelp = `cuboid <dims>   aggregate away the comma-separated dimensions ("-" for the base graph)
lattice         list materialized cuboids
bye             exit`

// repl answers queries line by line until "bye" or end of input. Malformed
// aggregate functions are reported and the session continues. Any other
// error ends it.
func repl(ctx context.Context, eng *engine.Engine, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	fmt.Fprint(out, prompt)
	for sc.Scan() {
		verb, arg, _ := strings.Cut(strings.TrimSpace(sc.Text()), " ")
		switch verb {
		case "":
		case "bye", "exit", "quit":
			fmt.Fprintln(out, "bye")
			return nil
		case "cuboid":
			e, err := eng.Query(ctx, arg)
			var pe *cube.ParseError
			if errors.As(err, &pe) {
				fmt.Fprintf(out, "error: %v\n", err)
				break
			}
			if err != nil {
				return err
			}
			printEntry(out, eng.Schema(), e)
		case "lattice":
			printLattice(out, eng.Keeper(), eng.Schema())
		case "help":
			fmt.Fprintln(out, replHelp)
		default:
			fmt.Fprintf(out, "unknown command %q, try help\n", verb)
		}
		fmt.Fprint(out, prompt)
	}
	return sc.Err()
}
