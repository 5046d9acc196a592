// Package cli implements the command-line interface for graphcube.
package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eunmann/graph-cube/internal/logctx"
	"github.com/eunmann/graph-cube/pkg/config"
	"github.com/eunmann/graph-cube/pkg/logging"
)

const usage = "usage: graphcube <command> [flags]\ncommands: materialize, query, lattice"

// options holds flag values. Flags left unset keep the config file and
// environment values.
type options struct {
	configPath string
	debug      bool
	human      bool
	memDebug   bool

	root        string
	dimensions  int
	names       []string
	size        int64
	format      string
	minLevel    int
	limit       int
	aggregator  string
	command     string
	memory      string
	tempDir     string
	catalog     string
	metricsAddr string
}

// Run executes the CLI with the given arguments.
func Run(args []string) error {
	return run(context.Background(), args, os.Stdin, os.Stdout)
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args == nil {
		// cobra falls back to os.Args for a nil slice.
		args = []string{}
	}
	root := newRootCmd(in, out)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "graphcube",
		Short:         "Materialize and query aggregated views of a multidimensional graph",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return errors.New(usage)
		},
	}
	root.SetIn(in)
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "YAML config file")
	pf.BoolVar(&o.debug, "debug", false, "enable debug logging")
	pf.BoolVar(&o.human, "human", false, "human-readable console logs")
	pf.BoolVar(&o.memDebug, "mem-debug", false, "log heap usage against the memory budget (with --debug)")
	pf.StringVar(&o.root, "root", "", "base graph location (directory or s3:// prefix)")
	pf.IntVarP(&o.dimensions, "dimensions", "n", 0, "number of vertex dimensions")
	pf.StringSliceVar(&o.names, "names", nil, "comma-separated dimension names")
	pf.Int64Var(&o.size, "size", 0, "base graph size; counted from the graph when unset")
	pf.StringVar(&o.format, "format", "", "cuboid encoding: text, zstd or parquet")
	pf.IntVar(&o.minLevel, "min-level", 0, "lowest aggregation level to precompute")
	pf.IntVarP(&o.limit, "limit", "k", 0, "maximum number of cuboids to precompute")
	pf.StringVar(&o.aggregator, "aggregator", "", "aggregator kind: local or command")
	pf.StringVar(&o.command, "command", "", "external aggregation job executable")
	pf.StringVar(&o.memory, "memory", "", "memory budget for local aggregation, e.g. 4GiB")
	pf.StringVar(&o.tempDir, "temp-dir", "", "scratch directory")
	pf.StringVar(&o.catalog, "catalog", "", "lattice catalog path (.json or .db)")
	pf.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(
		newMaterializeCmd(o),
		newQueryCmd(o),
		newLatticeCmd(o),
	)
	return root
}

// load resolves and validates the configuration for cmd and initializes
// logging.
func (o *options) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := o.resolve(cmd)
	if err != nil {
		return config.Config{}, err
	}
	if cfg.Graph.Root == "" {
		return config.Config{}, errors.New("--root (or graph.root in --config) is required")
	}
	if cfg.Graph.Dimensions == 0 {
		return config.Config{}, errors.New("--dimensions (or graph.dimensions in --config) is required")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	initLogging(cmd, cfg)
	return cfg, nil
}

func initLogging(cmd *cobra.Command, cfg config.Config) {
	logging.Init(cfg.Log.Debug, cfg.Log.Human)
	cmd.SetContext(logctx.WithLogger(cmd.Context(), logging.WithPhase(cmd.Name())))
}

// resolve layers flags over the config file and environment.
func (o *options) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}

	f := cmd.Flags()
	if f.Changed("debug") {
		cfg.Log.Debug = o.debug
	}
	if f.Changed("human") {
		cfg.Log.Human = o.human
	}
	if f.Changed("mem-debug") {
		cfg.Log.Memory = o.memDebug
	}
	if f.Changed("root") {
		cfg.Graph.Root = o.root
	}
	if f.Changed("dimensions") {
		cfg.Graph.Dimensions = o.dimensions
	}
	if f.Changed("names") {
		cfg.Graph.Names = o.names
		if !f.Changed("dimensions") && cfg.Graph.Dimensions == 0 {
			cfg.Graph.Dimensions = len(o.names)
		}
	}
	if f.Changed("size") {
		cfg.Graph.Size = o.size
	}
	if f.Changed("format") {
		cfg.Graph.Format = o.format
	}
	if f.Changed("min-level") {
		cfg.Materialize.MinLevel = o.minLevel
	}
	if f.Changed("limit") {
		cfg.Materialize.Limit = o.limit
	}
	if f.Changed("aggregator") {
		cfg.Aggregator.Kind = o.aggregator
	}
	if f.Changed("command") {
		cfg.Aggregator.Command = o.command
	}
	if f.Changed("memory") {
		cfg.Aggregator.Memory = o.memory
	}
	if f.Changed("temp-dir") {
		cfg.Aggregator.TempDir = o.tempDir
	}
	if f.Changed("catalog") {
		cfg.Catalog = o.catalog
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = o.metricsAddr
	}
	return cfg, nil
}
