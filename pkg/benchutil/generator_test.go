package benchutil

import (
	"reflect"
	"strings"
	"testing"
)

func TestGenerateDeterministic(t *testing.T) {
	cfg := DefaultConfig(200, 3)
	cfg.MaxWeight = 5
	a := NewGenerator(cfg).Generate()
	b := NewGenerator(cfg).Generate()
	if !reflect.DeepEqual(a, b) {
		t.Error("same seed produced different graphs")
	}
	if len(a.Vertices) != 200 || len(a.Edges) != 800 {
		t.Errorf("got %d vertices, %d edges", len(a.Vertices), len(a.Edges))
	}
}

func TestGenerateRespectsCardinality(t *testing.T) {
	for _, shape := range LatticeShapes {
		t.Run(shape, func(t *testing.T) {
			cfg := ShapeConfig(1000, shape)
			g := NewGenerator(cfg).Generate()

			seen := make([]map[string]bool, len(cfg.Cardinality))
			for i := range seen {
				seen[i] = map[string]bool{}
			}
			for _, v := range g.Vertices {
				if len(v.Dims) != len(cfg.Cardinality) {
					t.Fatalf("vertex %s has %d dims", v.ID, len(v.Dims))
				}
				for d, val := range v.Dims {
					if !strings.HasPrefix(val, "d") {
						t.Fatalf("bad value %q", val)
					}
					seen[d][val] = true
				}
				if v.Weight != 1 {
					t.Fatalf("weight = %d, want 1", v.Weight)
				}
			}
			for d, c := range cfg.Cardinality {
				if len(seen[d]) > c {
					t.Errorf("dimension %d has %d values, cardinality %d", d, len(seen[d]), c)
				}
			}
		})
	}
}

func TestGenerateEmpty(t *testing.T) {
	g := NewGenerator(DefaultConfig(0, 2)).Generate()
	if g.Size() != 0 {
		t.Errorf("Size() = %d, want 0", g.Size())
	}
}
