package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/eunmann/graph-cube/internal/logctx"
	"github.com/eunmann/graph-cube/pkg/aggregator"
	"github.com/eunmann/graph-cube/pkg/cube"
	"github.com/eunmann/graph-cube/pkg/cuboid"
	"github.com/eunmann/graph-cube/pkg/lattice"
	"github.com/eunmann/graph-cube/pkg/logging"
)

const phaseQuery = "query"

// Engine answers cuboid queries against a materialized lattice, computing
// missing cuboids on demand. It is safe for concurrent use.
type Engine struct {
	keeper *lattice.Keeper
	schema *cube.Schema
	agg    aggregator.Aggregator
	opts   Options

	// inflight holds at most one computation per lattice point.
	inflight singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context shared by the callers waiting on one computation.
// It is cancelled when the last of them gives up.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// New returns an engine over k. schema must describe k's dimensions.
func New(k *lattice.Keeper, schema *cube.Schema, agg aggregator.Aggregator, opts Options) (*Engine, error) {
	if schema.N() != k.Dimensions() {
		return nil, fmt.Errorf("%w: schema has %d dimensions, lattice has %d", lattice.ErrDimensionMismatch, schema.N(), k.Dimensions())
	}
	opts.Schema = schema
	return &Engine{keeper: k, schema: schema, agg: agg, opts: opts, flights: make(map[string]*flight)}, nil
}

// Keeper returns the lattice.
func (e *Engine) Keeper() *lattice.Keeper { return e.keeper }

// Schema returns the dimension schema.
func (e *Engine) Schema() *cube.Schema { return e.schema }

// Query parses text and returns its cuboid. A malformed text yields a
// *cube.ParseError and leaves the lattice untouched.
func (e *Engine) Query(ctx context.Context, text string) (cuboid.Materialized, error) {
	fn, err := e.schema.Parse(text)
	if err != nil {
		return cuboid.Materialized{}, err
	}
	return e.QueryFunc(ctx, fn)
}

// QueryFunc returns the cuboid for fn, computing it from its nearest
// materialized ancestor when absent. Concurrent queries for the same point
// share one computation. A caller whose ctx ends returns early; the
// computation is cancelled only once every waiting caller has left.
func (e *Engine) QueryFunc(ctx context.Context, fn cube.Func) (cuboid.Materialized, error) {
	if fn.Dimensions() != e.keeper.Dimensions() {
		return cuboid.Materialized{}, fmt.Errorf("%w: %s", lattice.ErrDimensionMismatch, fn)
	}
	if m, ok := e.keeper.Get(fn); ok {
		return m, nil
	}

	key := fn.String()
	fctx, leave := e.join(ctx, key)
	defer leave()

	ch := e.inflight.DoChan(key, func() (any, error) {
		if m, ok := e.keeper.Get(fn); ok {
			return m, nil
		}
		return e.compute(fctx, fn)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return cuboid.Materialized{}, r.Err
		}
		if r.Shared {
			log := logctx.FromContext(ctx)
			log.Debug().
				Str("target", e.schema.Format(fn)).
				Msg("joined in-flight computation")
		}
		return r.Val.(cuboid.Materialized), nil
	case <-ctx.Done():
		return cuboid.Materialized{}, ctx.Err()
	}
}

// join registers a caller waiting on key and returns the computation
// context with the function that deregisters it.
func (e *Engine) join(ctx context.Context, key string) (context.Context, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f := e.flights[key]
	if f == nil {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		e.flights[key] = f
	}
	f.waiters++
	return f.ctx, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		f.waiters--
		if f.waiters > 0 {
			return
		}
		f.cancel()
		delete(e.flights, key)
		// Later callers start afresh instead of joining the cancelled run.
		e.inflight.Forget(key)
	}
}

func (e *Engine) compute(ctx context.Context, fn cube.Func) (cuboid.Materialized, error) {
	src, err := e.keeper.NearestDescendant(fn)
	if err != nil {
		return cuboid.Materialized{}, err
	}

	srcText, targetText := e.schema.Format(src.Func()), e.schema.Format(fn)
	ctx = logctx.WithCuboid(ctx, srcText, targetText)
	log := logctx.FromContext(ctx).With().Str("phase", phaseQuery).Logger()
	log.Info().Msg("calculating from nearest materialized ancestor")

	start := time.Now()
	target := cuboid.NewPending(fn, cube.Location(e.keeper.Root().Path(), fn))
	req := aggregator.Request{Source: src.Path(), Target: fn, Output: target.Path()}
	res, err := aggregator.Run(ctx, e.agg, req)
	if err != nil {
		log.Error().Err(err).Msg("aggregation failed")
		return cuboid.Materialized{}, err
	}
	m, err := target.Complete(res.Size)
	if err != nil {
		return cuboid.Materialized{}, aggregator.Failure(req, err)
	}
	if err := e.keeper.Add(m); err != nil {
		// A cancelled run for the same point may have finished first.
		if existing, ok := e.keeper.Get(fn); ok && errors.Is(err, lattice.ErrDuplicateEntry) {
			return existing, nil
		}
		return cuboid.Materialized{}, err
	}
	if e.opts.Catalog != nil {
		if err := e.opts.Catalog.Record(ctx, m); err != nil {
			return cuboid.Materialized{}, fmt.Errorf("record %s: %w", targetText, err)
		}
	}

	logging.CuboidMaterialized(log, phaseQuery, time.Since(start)).
		Str("path", m.Path()).
		Count("size", m.Size()).
		Log("cuboid materialized")
	return m, nil
}
