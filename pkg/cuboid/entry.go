// Package cuboid models lattice entries. An entry starts Pending while its
// aggregation is scheduled and becomes Materialized once the result size is
// known; the two states are distinct types so an uncomputed entry can never
// pass for a computed one.
package cuboid

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/eunmann/graph-cube/pkg/cube"
)

// ErrInvalidSize indicates a negative result size.
var ErrInvalidSize = errors.New("invalid cuboid size")

// Entry is implemented by Pending and Materialized.
type Entry interface {
	Func() cube.Func
	Path() string
	entry()
}

// Pending is a scheduled cuboid whose size is not yet known.
type Pending struct {
	fn        cube.Func
	path      string
	completed atomic.Bool
}

// NewPending creates a placeholder for fn stored at path.
func NewPending(fn cube.Func, path string) *Pending {
	return &Pending{fn: fn, path: path}
}

func (p *Pending) Func() cube.Func { return p.fn }
func (p *Pending) Path() string    { return p.path }
func (*Pending) entry()            {}

// Complete records the computed size and returns the materialized entry.
// A second call panics: it means the same step was reported twice.
func (p *Pending) Complete(size int64) (Materialized, error) {
	if size < 0 {
		return Materialized{}, fmt.Errorf("%w: %d for %s", ErrInvalidSize, size, p.fn)
	}
	if !p.completed.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("cuboid: %s completed twice", p.fn))
	}
	return Materialized{fn: p.fn, path: p.path, size: size}, nil
}

// Materialized is a computed cuboid. The zero value is invalid.
type Materialized struct {
	fn   cube.Func
	path string
	size int64
}

// NewMaterialized creates an entry for an already computed cuboid, such as
// the root graph or an entry restored from a manifest.
func NewMaterialized(fn cube.Func, path string, size int64) (Materialized, error) {
	if size < 0 {
		return Materialized{}, fmt.Errorf("%w: %d for %s", ErrInvalidSize, size, fn)
	}
	return Materialized{fn: fn, path: path, size: size}, nil
}

func (m Materialized) Func() cube.Func { return m.fn }
func (m Materialized) Path() string    { return m.path }
func (Materialized) entry()            {}

// Size returns the number of elements in the cuboid graph.
func (m Materialized) Size() int64 { return m.size }

// Level is shorthand for m.Func().Level().
func (m Materialized) Level() int { return m.fn.Level() }

func (m Materialized) String() string {
	return fmt.Sprintf("%s@%s(%d)", m.fn, m.path, m.size)
}
