package benchutil

// Shared constants for benchmarks across packages.

// BenchmarkSeed is the default seed for reproducible benchmark data generation.
const BenchmarkSeed = 42

// BenchmarkSizes are vertex counts for quick runs.
var BenchmarkSizes = []int{1000, 10000, 100000}

// ScalingSizes are larger vertex counts for scaling runs.
// Used with GRAPHCUBE_LONG_BENCH=1.
var ScalingSizes = []int{250000, 500000, 1000000}

// LatticeShapes name the dimension cardinality profiles for benchmarking.
// Each shape has different characteristics:
//   - uniform: every dimension has the same small cardinality
//   - skewed: one high-cardinality dimension, the rest tiny
//   - wide: many low-cardinality dimensions
var LatticeShapes = []string{
	"uniform",
	"skewed",
	"wide",
}
