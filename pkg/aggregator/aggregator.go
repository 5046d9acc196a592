// Package aggregator computes one cuboid from a materialized ancestor.
//
// An Aggregator reads the graph at a source location, aggregates away the
// dimensions named by the target function, writes the result to an output
// location and returns the result's size directly. Implementations may run
// an external job (Command), work in-process (Local), stage S3 locations on
// local disk (S3Staging) or record metrics around another aggregator
// (Instrumented).
package aggregator

import (
	"context"
	"errors"
	"fmt"

	"github.com/eunmann/graph-cube/pkg/cube"
)

// ErrAggregatorFailure marks any failed or invalid aggregation. The caller
// must not record the target cuboid.
var ErrAggregatorFailure = errors.New("aggregator failure")

// Request describes one aggregation step.
type Request struct {
	// Source is the location of a materialized cuboid that covers Target.
	Source string
	// Target is the function to compute.
	Target cube.Func
	// Output is where the aggregated graph is written.
	Output string
}

// Result is what an aggregation reports back.
type Result struct {
	// Size is the element count of the written graph.
	Size int64
}

// Aggregator computes cuboids. Implementations must be safe for concurrent
// use with distinct outputs.
type Aggregator interface {
	Aggregate(ctx context.Context, req Request) (Result, error)
}

// Func adapts a function to the Aggregator interface.
type Func func(ctx context.Context, req Request) (Result, error)

// Aggregate calls f.
func (f Func) Aggregate(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Failure wraps err with ErrAggregatorFailure and the request details.
func Failure(req Request, err error) error {
	if errors.Is(err, ErrAggregatorFailure) {
		return err
	}
	return fmt.Errorf("%w: %s from %s: %w", ErrAggregatorFailure, req.Target, req.Source, err)
}

// Run calls agg and normalizes its outcome: every error and every negative
// size becomes an ErrAggregatorFailure.
func Run(ctx context.Context, agg Aggregator, req Request) (Result, error) {
	res, err := agg.Aggregate(ctx, req)
	if err != nil {
		return Result{}, Failure(req, err)
	}
	if res.Size < 0 {
		return Result{}, Failure(req, fmt.Errorf("negative size %d", res.Size))
	}
	return res, nil
}
