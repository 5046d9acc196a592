// Package strategy decides which cuboids to precompute and when to stop.
//
// A strategy is driven by a sequential loop:
//
//	var last *cuboid.Materialized
//	for {
//		done, err := s.Finished(last)
//		if err != nil || done {
//			break
//		}
//		src, target, err := s.Next()
//		// aggregate src -> target, then
//		m, err := target.Complete(size)
//		last = &m
//	}
//	lattice := s.Keeper()
//
// Finished records the previous step's result into the lattice before
// deciding, so the next choice can depend on observed sizes.
package strategy

import (
	"errors"

	"github.com/eunmann/graph-cube/pkg/cuboid"
	"github.com/eunmann/graph-cube/pkg/lattice"
)

var (
	// ErrFinished indicates Next was called after the strategy finished.
	ErrFinished = errors.New("strategy finished")
	// ErrStepPending indicates the previous target has not been reported.
	ErrStepPending = errors.New("previous step not reported")
	// ErrUnexpectedResult indicates Finished received a result that does
	// not match the outstanding target.
	ErrUnexpectedResult = errors.New("result does not match scheduled target")
	// ErrInvalidConfig indicates bad strategy parameters.
	ErrInvalidConfig = errors.New("invalid strategy config")
)

// Strategy schedules materializations.
type Strategy interface {
	// Finished records last (nil on the first call) and reports whether the
	// precomputation phase is over.
	Finished(last *cuboid.Materialized) (bool, error)
	// Next returns an already materialized source and a pending target.
	Next() (cuboid.Materialized, *cuboid.Pending, error)
	// Keeper returns the lattice accumulated so far.
	Keeper() *lattice.Keeper
}

// State is the lifecycle position of a strategy.
type State int

const (
	NotStarted State = iota
	Stepping
	Done
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Stepping:
		return "stepping"
	case Done:
		return "finished"
	default:
		return "unknown"
	}
}
