// Package lattice stores materialized cuboids and answers nearest-ancestor
// queries over the covers relation.
package lattice

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/eunmann/graph-cube/pkg/cube"
	"github.com/eunmann/graph-cube/pkg/cuboid"
)

var (
	// ErrDuplicateEntry indicates a lattice point that is already stored.
	ErrDuplicateEntry = errors.New("duplicate lattice entry")
	// ErrNoAncestorFound indicates that no stored entry covers a function.
	ErrNoAncestorFound = errors.New("no covering entry found")
	// ErrDimensionMismatch indicates a function over a different dimension count.
	ErrDimensionMismatch = errors.New("dimension count mismatch")
	// ErrNotRoot indicates a root entry that aggregates some dimension.
	ErrNotRoot = errors.New("root entry must not aggregate any dimension")
)

// Keeper is an append-only store of materialized cuboids keyed by lattice
// point. It always contains the root entry. Keeper is safe for concurrent use.
type Keeper struct {
	n int

	mu      sync.RWMutex
	entries map[uint64]cuboid.Materialized
	// byLevel[l] holds the entries of level l in insertion order.
	byLevel [][]cuboid.Materialized
	total   int64
}

// NewKeeper creates a lattice holding only root.
func NewKeeper(root cuboid.Materialized) (*Keeper, error) {
	if !root.Func().IsRoot() {
		return nil, fmt.Errorf("%w: got %s", ErrNotRoot, root.Func())
	}
	n := root.Func().Dimensions()
	k := &Keeper{
		n:       n,
		entries: make(map[uint64]cuboid.Materialized),
		byLevel: make([][]cuboid.Materialized, n+1),
	}
	k.insert(root)
	return k, nil
}

// Dimensions returns n.
func (k *Keeper) Dimensions() int { return k.n }

// Root returns the root entry.
func (k *Keeper) Root() cuboid.Materialized {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.entries[0]
}

// Add stores a newly materialized entry. It fails if the lattice point is
// already present or if no stored entry covers it.
func (k *Keeper) Add(e cuboid.Materialized) error {
	fn := e.Func()
	if fn.Dimensions() != k.n {
		return fmt.Errorf("%w: %s has %d dimensions, lattice has %d", ErrDimensionMismatch, fn, fn.Dimensions(), k.n)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.entries[fn.Mask()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, fn)
	}
	if _, ok := k.nearestLocked(fn); !ok {
		return fmt.Errorf("%w: %s would be orphaned", ErrNoAncestorFound, fn)
	}
	k.insert(e)
	return nil
}

func (k *Keeper) insert(e cuboid.Materialized) {
	fn := e.Func()
	k.entries[fn.Mask()] = e
	k.byLevel[fn.Level()] = append(k.byLevel[fn.Level()], e)
	k.total += e.Size()
}

// Contains reports whether fn is stored.
func (k *Keeper) Contains(fn cube.Func) bool {
	_, ok := k.Get(fn)
	return ok
}

// Get returns the entry stored for fn.
func (k *Keeper) Get(fn cube.Func) (cuboid.Materialized, bool) {
	if fn.Dimensions() != k.n {
		return cuboid.Materialized{}, false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	e, ok := k.entries[fn.Mask()]
	return e, ok
}

// NearestDescendant returns the stored entry from which target is derived
// with the fewest additional aggregation steps. Among entries at the same
// gap, the smallest graph wins. If target itself is stored it is returned.
func (k *Keeper) NearestDescendant(target cube.Func) (cuboid.Materialized, error) {
	if target.Dimensions() != k.n {
		return cuboid.Materialized{}, fmt.Errorf("%w: %s has %d dimensions, lattice has %d", ErrDimensionMismatch, target, target.Dimensions(), k.n)
	}

	k.mu.RLock()
	defer k.mu.RUnlock()

	e, ok := k.nearestLocked(target)
	if !ok {
		return cuboid.Materialized{}, fmt.Errorf("%w: %s", ErrNoAncestorFound, target)
	}
	return e, nil
}

// nearestLocked walks levels downward from target's level; the first level
// holding a covering entry has the minimal gap.
func (k *Keeper) nearestLocked(target cube.Func) (cuboid.Materialized, bool) {
	if e, ok := k.entries[target.Mask()]; ok {
		return e, true
	}
	for l := target.Level() - 1; l >= 0; l-- {
		var (
			best  cuboid.Materialized
			found bool
		)
		for _, e := range k.byLevel[l] {
			if !e.Func().Covers(target) {
				continue
			}
			if !found || better(e, best) {
				best, found = e, true
			}
		}
		if found {
			return best, true
		}
	}
	return cuboid.Materialized{}, false
}

// better orders candidates at equal gap: smaller size first, then the
// canonical form so the choice is deterministic.
func better(a, b cuboid.Materialized) bool {
	if a.Size() != b.Size() {
		return a.Size() < b.Size()
	}
	return a.Func().Mask() < b.Func().Mask()
}

// Len returns the number of stored entries, root included.
func (k *Keeper) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.entries)
}

// TotalSize returns the summed size of all stored entries.
func (k *Keeper) TotalSize() int64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.total
}

// LevelCount returns the number of stored entries at level l.
func (k *Keeper) LevelCount(l int) int {
	if l < 0 || l > k.n {
		return 0
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.byLevel[l])
}

// Entries returns a snapshot ordered by level, then by aggregated dimensions.
func (k *Keeper) Entries() []cuboid.Materialized {
	k.mu.RLock()
	out := make([]cuboid.Materialized, 0, len(k.entries))
	for _, level := range k.byLevel {
		out = append(out, level...)
	}
	k.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		li, lj := out[i].Level(), out[j].Level()
		if li != lj {
			return li < lj
		}
		return lessIndices(out[i].Func().Indices(), out[j].Func().Indices())
	})
	return out
}

func lessIndices(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
