package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/eunmann/graph-cube/pkg/cube"
	"github.com/eunmann/graph-cube/pkg/graphio"
	"github.com/eunmann/graph-cube/pkg/membudget"
	"github.com/eunmann/graph-cube/pkg/memdiag"
)

// Wildcard replaces an aggregated dimension value.
const Wildcard = "*"

// DefaultMemoryFactor scales a graph's on-disk size to its estimated
// in-memory footprint during a rollup.
const DefaultMemoryFactor = 4

const cancelCheckEvery = 1 << 14

var (
	// ErrDuplicateVertex is returned for a graph that repeats a vertex ID.
	ErrDuplicateVertex = errors.New("duplicate vertex id")
	// ErrDanglingEdge is returned for an edge whose endpoint is not a vertex.
	ErrDanglingEdge = errors.New("edge references unknown vertex")
)

// LocalConfig configures in-process aggregation.
type LocalConfig struct {
	// Options controls graph encoding. Options.Dimensions must match the
	// lattice dimension count.
	Options graphio.Options
	// Budget bounds concurrent graph loads. Nil disables accounting.
	Budget *membudget.Budget
	// MemoryFactor multiplies the source's disk size to estimate memory.
	MemoryFactor int
	// Diag logs heap usage against the budget after each rollup. Optional.
	Diag *memdiag.Tracker
}

// Local aggregates graphio graphs in-process.
type Local struct {
	cfg LocalConfig
}

// NewLocal returns a Local aggregator.
func NewLocal(cfg LocalConfig) *Local {
	if cfg.MemoryFactor <= 0 {
		cfg.MemoryFactor = DefaultMemoryFactor
	}
	return &Local{cfg: cfg}
}

// Aggregate reads req.Source, rolls it up to req.Target and writes
// req.Output.
func (l *Local) Aggregate(ctx context.Context, req Request) (Result, error) {
	if req.Target.Dimensions() != l.cfg.Options.Dimensions {
		return Result{}, fmt.Errorf("target has %d dimensions, graphs have %d", req.Target.Dimensions(), l.cfg.Options.Dimensions)
	}

	if l.cfg.Budget != nil {
		disk, err := graphio.DiskSize(req.Source)
		if err != nil {
			return Result{}, fmt.Errorf("stat source: %w", err)
		}
		est := l.cfg.Budget.Clamp(uint64(disk) * uint64(l.cfg.MemoryFactor))
		if err := l.cfg.Budget.Reserve(ctx, est); err != nil {
			return Result{}, fmt.Errorf("reserve memory: %w", err)
		}
		defer l.cfg.Budget.Release(est)
	}

	g, err := graphio.Read(req.Source, l.cfg.Options)
	if err != nil {
		return Result{}, err
	}
	out, err := Rollup(ctx, g, req.Target)
	if err != nil {
		return Result{}, err
	}
	if l.cfg.Budget != nil {
		l.cfg.Diag.LogWithBudget("rollup", l.cfg.Budget.InUse(), l.cfg.Budget.Total())
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := graphio.Write(req.Output, out, l.cfg.Options); err != nil {
		return Result{}, err
	}
	return Result{Size: out.Size()}, nil
}

type edgeKey struct {
	src, dst string
}

// Rollup groups g's vertices by the dimension values fn retains. Aggregated
// dimensions become Wildcard, vertex weights are summed per group, and edges
// are re-pointed at groups with parallel edges merged by summing weights.
// Output vertices and edges are sorted by ID.
//
// A group ID joins the query-escaped retained values with ",", so it holds
// no whitespace and distinct groups never share an ID.
func Rollup(ctx context.Context, g *graphio.Graph, fn cube.Func) (*graphio.Graph, error) {
	n := fn.Dimensions()
	groupOf := make(map[string]string, len(g.Vertices))
	dims := make(map[string][]string)
	weights := make(map[string]int64)

	for i, v := range g.Vertices {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if len(v.Dims) != n {
			return nil, fmt.Errorf("vertex %q has %d dimensions, want %d", v.ID, len(v.Dims), n)
		}
		if _, dup := groupOf[v.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateVertex, v.ID)
		}

		key := make([]string, n)
		parts := make([]string, n)
		for d := range n {
			if fn.Aggregates(d) {
				key[d], parts[d] = Wildcard, Wildcard
			} else {
				key[d], parts[d] = v.Dims[d], url.QueryEscape(v.Dims[d])
			}
		}
		id := strings.Join(parts, ",")
		groupOf[v.ID] = id
		if _, ok := dims[id]; !ok {
			dims[id] = key
		}
		weights[id] += v.Weight
	}

	edges := make(map[edgeKey]int64)
	for i, e := range g.Edges {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		src, ok := groupOf[e.Src]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrDanglingEdge, e.Src)
		}
		dst, ok := groupOf[e.Dst]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrDanglingEdge, e.Dst)
		}
		edges[edgeKey{src, dst}] += e.Weight
	}

	out := &graphio.Graph{
		Vertices: make([]graphio.Vertex, 0, len(dims)),
		Edges:    make([]graphio.Edge, 0, len(edges)),
	}
	for id, key := range dims {
		out.Vertices = append(out.Vertices, graphio.Vertex{ID: id, Dims: key, Weight: weights[id]})
	}
	sort.Slice(out.Vertices, func(i, j int) bool { return out.Vertices[i].ID < out.Vertices[j].ID })

	for k, w := range edges {
		out.Edges = append(out.Edges, graphio.Edge{Src: k.src, Dst: k.dst, Weight: w})
	}
	sort.Slice(out.Edges, func(i, j int) bool {
		a, b := out.Edges[i], out.Edges[j]
		if a.Src != b.Src {
			return a.Src < b.Src
		}
		return a.Dst < b.Dst
	})
	return out, nil
}
