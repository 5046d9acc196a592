package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eunmann/graph-cube/internal/logctx"
	"github.com/eunmann/graph-cube/pkg/aggregator"
	"github.com/eunmann/graph-cube/pkg/catalog"
	"github.com/eunmann/graph-cube/pkg/config"
	"github.com/eunmann/graph-cube/pkg/cube"
	"github.com/eunmann/graph-cube/pkg/engine"
	"github.com/eunmann/graph-cube/pkg/fileutil"
	"github.com/eunmann/graph-cube/pkg/graphio"
	"github.com/eunmann/graph-cube/pkg/lattice"
	"github.com/eunmann/graph-cube/pkg/memdiag"
	"github.com/eunmann/graph-cube/pkg/s3store"
)

const shutdownTimeout = 5 * time.Second

// runtime holds the components built from a Config for one command.
type runtime struct {
	cfg    config.Config
	schema *cube.Schema
	agg    aggregator.Aggregator
	cat    catalog.Catalog
	store  *s3store.Client

	closers []func() error
}

func setup(ctx context.Context, cfg config.Config) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	if rt.schema, err = cfg.Schema(); err != nil {
		return nil, err
	}
	if s3store.IsURI(cfg.Graph.Root) {
		if rt.store, err = s3store.NewClient(ctx, cfg.S3Store()); err != nil {
			return nil, err
		}
	}
	if rt.agg, err = rt.buildAggregator(ctx); err != nil {
		return nil, err
	}
	if cfg.Catalog != "" {
		if rt.cat, err = catalog.Open(cfg.Catalog); err != nil {
			return nil, fmt.Errorf("open catalog: %w", err)
		}
		rt.closers = append(rt.closers, rt.cat.Close)
	}
	return rt, nil
}

func (rt *runtime) buildAggregator(ctx context.Context) (aggregator.Aggregator, error) {
	cfg := rt.cfg
	var agg aggregator.Aggregator
	switch cfg.Aggregator.Kind {
	case config.AggregatorCommand:
		cmd, err := aggregator.NewCommand(aggregator.CommandConfig{
			Path:            cfg.Aggregator.Command,
			Args:            cfg.Aggregator.Args,
			Dimensions:      cfg.Graph.Dimensions,
			VertexDelimiter: cfg.Graph.VertexDelimiter,
			EdgeDelimiter:   cfg.Graph.EdgeDelimiter,
			ResultDir:       cfg.Aggregator.TempDir,
			Stderr:          os.Stderr,
		})
		if err != nil {
			return nil, err
		}
		agg = cmd
	default:
		budget, err := cfg.MemoryBudget()
		if err != nil {
			return nil, err
		}
		log := logctx.FromContext(ctx)
		log.Debug().
			Uint64("budget_bytes", budget.Total()).
			Str("source", string(budget.Source())).
			Msg("memory budget")
		var diag *memdiag.Tracker
		if cfg.Log.Memory {
			diag = memdiag.NewTracker(memdiag.DefaultInterval)
			diag.Start()
			rt.closers = append(rt.closers, func() error {
				diag.Stop()
				return nil
			})
		}
		agg = aggregator.NewLocal(aggregator.LocalConfig{
			Options: cfg.GraphOptions(),
			Budget:  budget,
			Diag:    diag,
		})
		if rt.store != nil {
			agg = aggregator.NewS3Staging(agg, rt.store, cfg.Aggregator.TempDir)
		}
	}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		agg = aggregator.Instrument(agg, aggregator.NewMetrics(reg))
		stop, err := serveMetrics(ctx, cfg.MetricsAddr, reg)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, stop)
	}
	return agg, nil
}

// serveMetrics exposes reg on addr until the returned function is called.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) (func() error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: shutdownTimeout}

	log := logctx.FromContext(ctx)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	}, nil
}

// Close releases everything setup opened, in reverse order.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// rootSize returns the configured base graph size or counts it.
func (rt *runtime) rootSize(ctx context.Context) (int64, error) {
	if rt.cfg.Graph.Size > 0 {
		return rt.cfg.Graph.Size, nil
	}
	dir := rt.cfg.Graph.Root
	if rt.store != nil {
		uri, err := s3store.ParseURI(dir)
		if err != nil {
			return 0, err
		}
		tmp, err := os.MkdirTemp(rt.cfg.Aggregator.TempDir, "graphcube-root-*")
		if err != nil {
			return 0, err
		}
		defer os.RemoveAll(tmp)
		if _, err := rt.store.DownloadDir(ctx, uri, tmp); err != nil {
			return 0, fmt.Errorf("download base graph: %w", err)
		}
		dir = tmp
	}
	n, err := graphio.Count(dir, rt.cfg.GraphOptions())
	if err != nil {
		return 0, fmt.Errorf("count base graph: %w", err)
	}
	return n, nil
}

func (rt *runtime) options() engine.Options {
	return engine.Options{Catalog: rt.cat, Schema: rt.schema}
}

// materialize runs the configured min-level precomputation.
func (rt *runtime) materialize(ctx context.Context) (*lattice.Keeper, error) {
	if rt.store == nil {
		// Interrupted runs leave cuboid and manifest temporaries beside the root.
		root := filepath.Clean(rt.cfg.Graph.Root)
		if _, err := fileutil.CleanupTmp(filepath.Dir(root), filepath.Base(root)); err != nil {
			return nil, err
		}
	}
	size, err := rt.rootSize(ctx)
	if err != nil {
		return nil, err
	}
	return engine.MaterializeMinLevel(ctx, engine.Plan{
		MinLevel:     rt.cfg.Materialize.MinLevel,
		Limit:        rt.cfg.Materialize.Limit,
		Schema:       rt.schema,
		RootLocation: rt.cfg.Graph.Root,
		RootSize:     size,
	}, rt.agg, rt.options())
}
