// Package benchutil provides synthetic graph generation for benchmarks and testing.
package benchutil

import (
	"fmt"
	"math/rand"
	"strconv"

	"github.com/eunmann/graph-cube/pkg/graphio"
)

// GeneratorConfig configures synthetic graph generation.
type GeneratorConfig struct {
	// Vertices is the number of vertices to generate.
	Vertices int
	// Cardinality holds the number of distinct values per dimension. Its
	// length is the dimension count.
	Cardinality []int
	// EdgesPerVertex is the average out-degree.
	EdgesPerVertex int
	// MaxWeight bounds vertex and edge weights. Zero or one gives weight 1.
	MaxWeight int64
	// Seed for reproducible generation. 0 = use default seed.
	Seed int64
}

// DefaultConfig returns n dimensions of cardinality 8 and out-degree 4.
func DefaultConfig(vertices, n int) GeneratorConfig {
	card := make([]int, n)
	for i := range card {
		card[i] = 8
	}
	return GeneratorConfig{
		Vertices:       vertices,
		Cardinality:    card,
		EdgesPerVertex: 4,
		Seed:           BenchmarkSeed,
	}
}

// ShapeConfig returns the config for one of LatticeShapes.
func ShapeConfig(vertices int, shape string) GeneratorConfig {
	switch shape {
	case "skewed":
		cfg := DefaultConfig(vertices, 4)
		cfg.Cardinality = []int{vertices / 10, 2, 3, 4}
		return cfg
	case "wide":
		cfg := DefaultConfig(vertices, 10)
		for i := range cfg.Cardinality {
			cfg.Cardinality[i] = 3
		}
		return cfg
	default:
		return DefaultConfig(vertices, 4)
	}
}

// Generator generates synthetic dimensional graphs.
type Generator struct {
	cfg GeneratorConfig
	rng *rand.Rand
}

// NewGenerator creates a new graph generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = BenchmarkSeed
	}
	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Generate builds the graph. Vertex IDs are "v0".."v{N-1}" and dimension
// values are "d{dim}_{value}".
func (g *Generator) Generate() *graphio.Graph {
	n := g.cfg.Vertices
	out := &graphio.Graph{
		Vertices: make([]graphio.Vertex, n),
		Edges:    make([]graphio.Edge, 0, n*g.cfg.EdgesPerVertex),
	}
	for i := range out.Vertices {
		dims := make([]string, len(g.cfg.Cardinality))
		for d, c := range g.cfg.Cardinality {
			dims[d] = fmt.Sprintf("d%d_%d", d, g.rng.Intn(max(c, 1)))
		}
		out.Vertices[i] = graphio.Vertex{ID: vertexID(i), Dims: dims, Weight: g.weight()}
	}
	if n == 0 {
		return out
	}
	for i := 0; i < n*g.cfg.EdgesPerVertex; i++ {
		out.Edges = append(out.Edges, graphio.Edge{
			Src:    vertexID(g.rng.Intn(n)),
			Dst:    vertexID(g.rng.Intn(n)),
			Weight: g.weight(),
		})
	}
	return out
}

func (g *Generator) weight() int64 {
	if g.cfg.MaxWeight <= 1 {
		return 1
	}
	return 1 + g.rng.Int63n(g.cfg.MaxWeight)
}

func vertexID(i int) string {
	return "v" + strconv.Itoa(i)
}
