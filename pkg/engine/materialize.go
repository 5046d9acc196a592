// Package engine drives precomputation and answers ad-hoc cuboid queries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eunmann/graph-cube/internal/logctx"
	"github.com/eunmann/graph-cube/pkg/aggregator"
	"github.com/eunmann/graph-cube/pkg/catalog"
	"github.com/eunmann/graph-cube/pkg/cube"
	"github.com/eunmann/graph-cube/pkg/cuboid"
	"github.com/eunmann/graph-cube/pkg/lattice"
	"github.com/eunmann/graph-cube/pkg/logging"
	"github.com/eunmann/graph-cube/pkg/strategy"
)

const phaseMaterialize = "materialize"

// Options are shared by Materialize and the query Engine.
type Options struct {
	// Catalog persists every materialized cuboid. Optional.
	Catalog catalog.Catalog
	// Schema formats functions in log lines with dimension names. Optional.
	Schema *cube.Schema
}

func (o Options) format(f cube.Func) string {
	if o.Schema != nil && o.Schema.N() == f.Dimensions() {
		return o.Schema.Format(f)
	}
	return f.String()
}

// progresser is implemented by strategies that know their planned total.
type progresser interface {
	Progress() (done, total int64)
}

// Materialize runs s to completion, one cuboid at a time. Each step's
// result is reported to s before the next step is chosen. The first
// aggregation failure aborts the run with an error wrapping
// aggregator.ErrAggregatorFailure, and the failed target is never added to
// the lattice.
func Materialize(ctx context.Context, s strategy.Strategy, agg aggregator.Aggregator, opts Options) (*lattice.Keeper, error) {
	log := logctx.FromContext(ctx).With().Str("phase", phaseMaterialize).Logger()
	start := time.Now()

	var total int64
	if p, ok := s.(progresser); ok {
		_, total = p.Progress()
	}
	tracker := logging.NewStepTracker(total)

	var last *cuboid.Materialized
	for {
		done, err := s.Finished(last)
		if err != nil {
			return nil, fmt.Errorf("strategy: %w", err)
		}
		if last != nil && opts.Catalog != nil {
			if err := opts.Catalog.Record(ctx, *last); err != nil {
				return nil, fmt.Errorf("record %s: %w", last.Func(), err)
			}
		}
		if done {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		src, target, err := s.Next()
		if err != nil {
			return nil, fmt.Errorf("strategy: %w", err)
		}
		m, err := step(ctx, agg, src, target, opts, tracker)
		if err != nil {
			return nil, err
		}
		last = &m
	}

	k := s.Keeper()
	done, _ := tracker.Progress()
	logging.PhaseComplete(log, phaseMaterialize, time.Since(start)).
		Int("cuboids", k.Len()).
		Count("materialized", done).
		Count("total_size", k.TotalSize()).
		Rate("cuboids_per_sec", done).
		Log("materialization finished")
	return k, nil
}

// step computes one target from src.
func step(ctx context.Context, agg aggregator.Aggregator, src cuboid.Materialized, target *cuboid.Pending, opts Options, tracker *logging.StepTracker) (cuboid.Materialized, error) {
	srcText, targetText := opts.format(src.Func()), opts.format(target.Func())
	ctx = logctx.WithCuboid(ctx, srcText, targetText)
	log := logctx.FromContext(ctx)

	done, total := tracker.Progress()
	logging.StepStarted(log, phaseMaterialize, srcText, targetText, done, total)

	start := time.Now()
	req := aggregator.Request{Source: src.Path(), Target: target.Func(), Output: target.Path()}
	res, err := aggregator.Run(ctx, agg, req)
	if err != nil {
		log.Error().Err(err).Msg("aggregation failed")
		return cuboid.Materialized{}, err
	}
	m, err := target.Complete(res.Size)
	if err != nil {
		return cuboid.Materialized{}, aggregator.Failure(req, err)
	}

	elapsed := time.Since(start)
	tracker.Done(elapsed)
	logging.CuboidMaterialized(log, phaseMaterialize, elapsed).
		Str("path", m.Path()).
		Count("size", m.Size()).
		Steps(tracker).
		Log("cuboid materialized")
	return m, nil
}

// Plan parameterizes a MinLevel precomputation.
type Plan struct {
	MinLevel     int
	Limit        int
	Schema       *cube.Schema
	RootLocation string
	RootSize     int64
}

// MaterializeMinLevel materializes up to plan.Limit cuboids level by level
// from plan.MinLevel and returns the lattice. With a catalog, previously
// recorded cuboids are loaded first and skipped.
func MaterializeMinLevel(ctx context.Context, plan Plan, agg aggregator.Aggregator, opts Options) (*lattice.Keeper, error) {
	if plan.Schema == nil {
		return nil, fmt.Errorf("%w: schema is required", strategy.ErrInvalidConfig)
	}
	if opts.Schema == nil {
		opts.Schema = plan.Schema
	}

	cfg := strategy.Config{
		MinLevel:     plan.MinLevel,
		Limit:        plan.Limit,
		Schema:       plan.Schema,
		RootLocation: plan.RootLocation,
		RootSize:     plan.RootSize,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if opts.Catalog != nil {
		k, err := resume(ctx, opts.Catalog, plan)
		if err != nil {
			return nil, err
		}
		cfg.Keeper = k
	}

	s, err := strategy.NewMinLevel(cfg)
	if err != nil {
		return nil, err
	}
	return Materialize(ctx, s, agg, opts)
}

// resume initializes the catalog for plan and loads what it already holds.
func resume(ctx context.Context, cat catalog.Catalog, plan Plan) (*lattice.Keeper, error) {
	root, err := cuboid.NewMaterialized(plan.Schema.Root(), plan.RootLocation, plan.RootSize)
	if err != nil {
		return nil, err
	}
	if err := cat.Init(ctx, plan.Schema, root); err != nil {
		return nil, fmt.Errorf("init catalog: %w", err)
	}
	k, _, err := cat.Load(ctx)
	if errors.Is(err, catalog.ErrNoCatalog) {
		return lattice.NewKeeper(root)
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if n := k.Len() - 1; n > 0 {
		log := logctx.FromContext(ctx)
		log.Info().
			Int("cuboids", n).
			Msg("resuming from catalog")
	}
	return k, nil
}
