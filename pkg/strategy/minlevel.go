package strategy

import (
	"fmt"

	"github.com/eunmann/graph-cube/pkg/cube"
	"github.com/eunmann/graph-cube/pkg/cuboid"
	"github.com/eunmann/graph-cube/pkg/lattice"
)

// Config holds the parameters of a MinLevel strategy.
type Config struct {
	// MinLevel is the first aggregation level to materialize.
	MinLevel int
	// Limit is the maximum number of cuboids to materialize.
	Limit int
	// Schema names the n dimensions of the graph.
	Schema *cube.Schema
	// RootLocation is the storage location of the raw graph. Target
	// locations are derived from it.
	RootLocation string
	// RootSize is the element count of the raw graph.
	RootSize int64
	// Keeper optionally resumes from an existing lattice. Its points are
	// skipped and do not count against Limit.
	Keeper *lattice.Keeper
}

// Validate checks the parameters.
func (c *Config) Validate() error {
	if c.Schema == nil {
		return fmt.Errorf("%w: schema is required", ErrInvalidConfig)
	}
	n := c.Schema.N()
	if c.Limit < 0 {
		return fmt.Errorf("%w: limit must be non-negative, got %d", ErrInvalidConfig, c.Limit)
	}
	if c.MinLevel < 0 || c.MinLevel > n {
		return fmt.Errorf("%w: min level %d outside [0, %d]", ErrInvalidConfig, c.MinLevel, n)
	}
	if c.Keeper == nil {
		if c.RootLocation == "" {
			return fmt.Errorf("%w: root location is required", ErrInvalidConfig)
		}
		if c.RootSize < 0 {
			return fmt.Errorf("%w: root size must be non-negative, got %d", ErrInvalidConfig, c.RootSize)
		}
	} else if c.Keeper.Dimensions() != n {
		return fmt.Errorf("%w: lattice has %d dimensions, schema has %d", ErrInvalidConfig, c.Keeper.Dimensions(), n)
	}
	return nil
}

// MinLevel walks the lattice level by level from MinLevel up to n,
// materializing every point it has not seen, each from its nearest
// materialized ancestor, until Limit cuboids are done.
type MinLevel struct {
	cfg    Config
	keeper *lattice.Keeper
	root   string

	state  State
	level  int
	cursor *cube.LevelCursor // candidates of the current level
	// head is the next candidate when hasHead is set.
	head    cube.Func
	hasHead bool
	pending *cuboid.Pending
	done    int
	total   int64
}

// NewMinLevel validates cfg and creates the strategy.
func NewMinLevel(cfg Config) (*MinLevel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	keeper := cfg.Keeper
	if keeper == nil {
		root, err := cuboid.NewMaterialized(cfg.Schema.Root(), cfg.RootLocation, cfg.RootSize)
		if err != nil {
			return nil, err
		}
		if keeper, err = lattice.NewKeeper(root); err != nil {
			return nil, err
		}
	}

	start := cfg.MinLevel
	if start < 1 {
		start = 1
	}

	s := &MinLevel{
		cfg:    cfg,
		keeper: keeper,
		root:   keeper.Root().Path(),
		level:  start - 1,
	}
	s.total = s.remaining()
	if int64(cfg.Limit) < s.total {
		s.total = int64(cfg.Limit)
	}
	return s, nil
}

// remaining counts unmaterialized points in [start, n].
func (s *MinLevel) remaining() int64 {
	n := s.cfg.Schema.N()
	count := cube.Reachable(s.level+1, n)
	for l := s.level + 1; l <= n; l++ {
		count -= int64(s.keeper.LevelCount(l))
	}
	return count
}

// Finished records last and reports whether the budget or the lattice
// space is exhausted.
func (s *MinLevel) Finished(last *cuboid.Materialized) (bool, error) {
	if last != nil {
		if s.pending == nil || !last.Func().Equal(s.pending.Func()) {
			return false, fmt.Errorf("%w: got %s", ErrUnexpectedResult, last.Func())
		}
		if err := s.keeper.Add(*last); err != nil {
			return false, fmt.Errorf("record %s: %w", last.Func(), err)
		}
		s.pending = nil
		s.done++
	} else if s.pending != nil {
		return false, fmt.Errorf("%w: %s", ErrStepPending, s.pending.Func())
	}

	if s.state == Done {
		return true, nil
	}
	if s.done >= s.cfg.Limit || !s.advance() {
		s.state = Done
		return true, nil
	}
	s.state = Stepping
	return false, nil
}

// advance makes sure head is an unmaterialized candidate, moving to the
// next level when the current one is drained. Candidates are drawn from
// the level cursor one at a time.
func (s *MinLevel) advance() bool {
	n := s.cfg.Schema.N()
	for {
		if s.hasHead && !s.keeper.Contains(s.head) {
			return true
		}
		s.hasHead = false
		if s.cursor != nil {
			if f, ok := s.cursor.Next(); ok {
				s.head, s.hasHead = f, true
				continue
			}
		}
		if s.level >= n {
			return false
		}
		s.level++
		s.cursor = s.cfg.Schema.Cursor(s.level)
	}
}

// Next returns the source and target of the next materialization. Finished
// must have returned false since the previous step.
func (s *MinLevel) Next() (cuboid.Materialized, *cuboid.Pending, error) {
	switch {
	case s.state == Done:
		return cuboid.Materialized{}, nil, ErrFinished
	case s.pending != nil:
		return cuboid.Materialized{}, nil, fmt.Errorf("%w: %s", ErrStepPending, s.pending.Func())
	case s.state != Stepping || !s.hasHead:
		return cuboid.Materialized{}, nil, fmt.Errorf("%w: call Finished first", ErrStepPending)
	}

	target := s.head
	s.hasHead = false

	src, err := s.keeper.NearestDescendant(target)
	if err != nil {
		return cuboid.Materialized{}, nil, err
	}
	s.pending = cuboid.NewPending(target, cube.Location(s.root, target))
	return src, s.pending, nil
}

// Keeper returns the lattice accumulated so far.
func (s *MinLevel) Keeper() *lattice.Keeper { return s.keeper }

// State returns the lifecycle state.
func (s *MinLevel) State() State { return s.state }

// Progress returns completed materializations and the planned total.
func (s *MinLevel) Progress() (done, total int64) {
	return int64(s.done), s.total
}

var _ Strategy = (*MinLevel)(nil)
