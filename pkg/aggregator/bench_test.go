package aggregator

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/eunmann/graph-cube/pkg/benchutil"
	"github.com/eunmann/graph-cube/pkg/cube"
	"github.com/eunmann/graph-cube/pkg/graphio"
	"github.com/eunmann/graph-cube/pkg/membudget"
)

// BenchmarkRollup benchmarks in-memory rollup of one and of all but one
// dimension.
func BenchmarkRollup(b *testing.B) {
	for _, shape := range benchutil.LatticeShapes {
		for _, size := range benchutil.BenchmarkSizes {
			cfg := benchutil.ShapeConfig(size, shape)
			g := benchutil.NewGenerator(cfg).Generate()
			n := len(cfg.Cardinality)

			targets := map[string]cube.Func{
				"level=1":   cube.FromMask(1, n),
				"level=n-1": cube.FromMask((uint64(1)<<uint(n))-2, n),
			}
			for tname, fn := range targets {
				b.Run(fmt.Sprintf("%s/size=%d/%s", shape, size, tname), func(b *testing.B) {
					b.ReportAllocs()
					for i := 0; i < b.N; i++ {
						if _, err := Rollup(context.Background(), g, fn); err != nil {
							b.Fatal(err)
						}
					}
				})
			}
		}
	}
}

// BenchmarkLocal_Scaling includes graph decoding and encoding (gated).
func BenchmarkLocal_Scaling(b *testing.B) {
	benchutil.SkipIfNoLongBench(b)

	for _, format := range []graphio.Format{graphio.FormatText, graphio.FormatZstd, graphio.FormatParquet} {
		for _, size := range benchutil.ScalingSizes {
			b.Run(fmt.Sprintf("%s/size=%d", format, size), func(b *testing.B) {
				cfg := benchutil.DefaultConfig(size, 4)
				opts := graphio.DefaultOptions(4)
				opts.Format = format

				dir := b.TempDir()
				src := filepath.Join(dir, "g")
				if err := graphio.Write(src, benchutil.NewGenerator(cfg).Generate(), opts); err != nil {
					b.Fatal(err)
				}
				l := NewLocal(LocalConfig{
					Options: opts,
					Budget:  membudget.NewFromSystemRAM(membudget.DefaultFraction),
				})
				req := Request{Source: src, Target: cube.FromMask(0b0101, 4), Output: filepath.Join(dir, "out")}

				b.ResetTimer()
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					res, err := l.Aggregate(context.Background(), req)
					if err != nil {
						b.Fatal(err)
					}
					if i == b.N-1 {
						b.Logf("source=%d result=%d", size*(1+cfg.EdgesPerVertex), res.Size)
					}
				}
			})
		}
	}
}
