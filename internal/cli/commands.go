package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eunmann/graph-cube/pkg/catalog"
	"github.com/eunmann/graph-cube/pkg/cube"
	"github.com/eunmann/graph-cube/pkg/cuboid"
	"github.com/eunmann/graph-cube/pkg/engine"
	"github.com/eunmann/graph-cube/pkg/humanfmt"
	"github.com/eunmann/graph-cube/pkg/lattice"
)

func newMaterializeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "materialize",
		Short: "Precompute up to --limit cuboids level by level from --min-level",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.load(cmd)
			if err != nil {
				return err
			}
			rt, err := setup(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			k, err := rt.materialize(cmd.Context())
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), k)
			return nil
		},
	}
}

func newQueryCmd(o *options) *cobra.Command {
	var noMaterialize bool
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Materialize, then answer cuboid queries read from stdin",
		Long: `Materialize, then answer cuboid queries read from stdin.

Commands:
  cuboid <dims>   aggregate away the comma-separated dimensions
  lattice         list materialized cuboids
  bye             exit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.load(cmd)
			if err != nil {
				return err
			}
			if noMaterialize && cfg.Catalog == "" {
				return errors.New("--no-materialize requires --catalog")
			}
			rt, err := setup(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			var k *lattice.Keeper
			schema := rt.schema
			if noMaterialize {
				k, schema, err = rt.cat.Load(ctx)
				if errors.Is(err, catalog.ErrNoCatalog) {
					return fmt.Errorf("nothing materialized in %s: %w", cfg.Catalog, err)
				}
			} else {
				k, err = rt.materialize(ctx)
			}
			if err != nil {
				return err
			}

			eng, err := engine.New(k, schema, rt.agg, rt.options())
			if err != nil {
				return err
			}
			return repl(ctx, eng, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&noMaterialize, "no-materialize", false, "skip precomputation and load the lattice from --catalog")
	return cmd
}

func newLatticeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "lattice",
		Short: "List the cuboids recorded in --catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.resolve(cmd)
			if err != nil {
				return err
			}
			if cfg.Catalog == "" {
				return errors.New("--catalog is required")
			}
			initLogging(cmd, cfg)

			cat, err := catalog.Open(cfg.Catalog)
			if err != nil {
				return fmt.Errorf("open catalog: %w", err)
			}
			defer cat.Close()

			k, schema, err := cat.Load(cmd.Context())
			if err != nil {
				return err
			}
			printLattice(cmd.OutOrStdout(), k, schema)
			return nil
		},
	}
}

func printSummary(w io.Writer, k *lattice.Keeper) {
	fmt.Fprintf(w, "materialized %d cuboids over %d dimensions, total size %s\n",
		k.Len()-1, k.Dimensions(), humanfmt.Count(k.TotalSize()))
}

func printEntry(w io.Writer, schema *cube.Schema, e cuboid.Materialized) {
	fmt.Fprintf(w, "cuboid %s level %d size %d at %s\n",
		schema.Format(e.Func()), e.Level(), e.Size(), e.Path())
}

func printLattice(w io.Writer, k *lattice.Keeper, schema *cube.Schema) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LEVEL\tAGGREGATED\tSIZE\tPATH")
	for _, e := range k.Entries() {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", e.Level(), schema.Format(e.Func()), e.Size(), e.Path())
	}
	tw.Flush()

	fmt.Fprintf(w, "%d cuboids", k.Len())
	for l := 0; l <= k.Dimensions(); l++ {
		if c := k.LevelCount(l); c > 0 {
			fmt.Fprintf(w, ", level %d: %d", l, c)
		}
	}
	fmt.Fprintln(w)
}
