// Package sysmem reports physical memory so aggregation can size its budget.
package sysmem

// DefaultMemoryBytes is reported when the platform cannot be queried.
const DefaultMemoryBytes uint64 = 4 * 1024 * 1024 * 1024

// Result is a memory reading.
type Result struct {
	TotalBytes uint64
	// Reliable is false when TotalBytes is DefaultMemoryBytes.
	Reliable bool
}

// Total returns physical memory, falling back to DefaultMemoryBytes.
func Total() Result {
	n, ok := totalSystemMemory()
	if !ok || n == 0 {
		return Result{TotalBytes: DefaultMemoryBytes}
	}
	return Result{TotalBytes: n, Reliable: true}
}

// Fraction returns frac of physical memory, clamped to (0, 1].
func Fraction(frac float64) uint64 {
	if frac <= 0 || frac > 1 {
		frac = 1
	}
	return uint64(float64(Total().TotalBytes) * frac)
}
