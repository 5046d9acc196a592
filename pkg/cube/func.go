// Package cube defines aggregate functions: points in the lattice of
// dimension aggregations over a graph with n dimensional attributes.
//
// A Func is the set of dimensions aggregated away. The root (raw graph) is
// the empty set at level 0; the fully aggregated graph is level n. A Func a
// covers b when a's dimensions are a subset of b's, meaning b can be derived
// from a's result by aggregating the remaining dimensions.
package cube

import (
	"math/bits"
	"strconv"
	"strings"
)

// MaxDimensions is the largest supported dimension count.
const MaxDimensions = 64

// RootText is the canonical text of the root function.
const RootText = "-"

// Func is an immutable lattice point.
type Func struct {
	mask uint64
	n    int
}

// Root returns the unaggregated function over n dimensions.
func Root(n int) Func {
	return Func{n: n}
}

// FromMask builds a function from a bitmask of aggregated dimensions.
// Bits at or above n are dropped.
func FromMask(mask uint64, n int) Func {
	if n < MaxDimensions {
		mask &= (uint64(1) << uint(n)) - 1
	}
	return Func{mask: mask, n: n}
}

// Mask returns the bitmask of aggregated dimensions.
func (f Func) Mask() uint64 { return f.mask }

// Dimensions returns n.
func (f Func) Dimensions() int { return f.n }

// Level returns the number of aggregated dimensions.
func (f Func) Level() int { return bits.OnesCount64(f.mask) }

// IsRoot reports whether no dimension is aggregated.
func (f Func) IsRoot() bool { return f.mask == 0 }

// Aggregates reports whether dimension d is aggregated away.
func (f Func) Aggregates(d int) bool {
	return d >= 0 && d < f.n && f.mask&(uint64(1)<<uint(d)) != 0
}

// Equal reports whether both functions are the same lattice point.
func (f Func) Equal(other Func) bool {
	return f.n == other.n && f.mask == other.mask
}

// Covers reports whether other can be derived from f by further aggregation.
// Covers is reflexive and transitive.
func (f Func) Covers(other Func) bool {
	return f.n == other.n && f.mask&other.mask == f.mask
}

// Gap returns the number of aggregation steps from f to other, or -1 if f
// does not cover other.
func (f Func) Gap(other Func) int {
	if !f.Covers(other) {
		return -1
	}
	return other.Level() - f.Level()
}

// Indices returns the aggregated dimension indices in ascending order.
func (f Func) Indices() []int {
	out := make([]int, 0, f.Level())
	for m := f.mask; m != 0; m &= m - 1 {
		out = append(out, bits.TrailingZeros64(m))
	}
	return out
}

// String returns the canonical text form, e.g. "0,2" or "-" for the root.
func (f Func) String() string {
	if f.mask == 0 {
		return RootText
	}
	return f.join(",")
}

// PathSuffix returns the suffix appended to a root location to name the
// storage location of this cuboid.
func (f Func) PathSuffix() string {
	if f.mask == 0 {
		return "_base"
	}
	return "_agg_" + f.join("_")
}

func (f Func) join(sep string) string {
	var sb strings.Builder
	for i, d := range f.Indices() {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(strconv.Itoa(d))
	}
	return sb.String()
}

// Location returns the storage location of f's cuboid under root.
func Location(root string, f Func) string {
	return strings.TrimRight(root, "/") + f.PathSuffix()
}
