package benchutil

import (
	"os"
	"testing"
)

// SkipIfNoLongBench skips b unless GRAPHCUBE_LONG_BENCH=1.
func SkipIfNoLongBench(b *testing.B) {
	b.Helper()
	if os.Getenv("GRAPHCUBE_LONG_BENCH") != "1" {
		b.Skip("set GRAPHCUBE_LONG_BENCH=1 to run scaling benchmarks")
	}
}
