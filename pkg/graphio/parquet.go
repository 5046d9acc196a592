package graphio

import (
	"fmt"

	"github.com/parquet-go/parquet-go"
)

type vertexRow struct {
	ID     string   `parquet:"id"`
	Dims   []string `parquet:"dims,list"`
	Weight int64    `parquet:"weight"`
}

type edgeRow struct {
	Src    string `parquet:"src"`
	Dst    string `parquet:"dst"`
	Weight int64  `parquet:"weight"`
}

func readParquetVertices(path string, n int) ([]Vertex, error) {
	rows, err := parquet.ReadFile[vertexRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet vertices: %w", err)
	}
	out := make([]Vertex, len(rows))
	for i, r := range rows {
		if len(r.Dims) != n {
			return nil, fmt.Errorf("%w: %s row %d: %d dims, want %d", ErrMalformed, path, i, len(r.Dims), n)
		}
		out[i] = Vertex{ID: r.ID, Dims: r.Dims, Weight: r.Weight}
	}
	return out, nil
}

func readParquetEdges(path string) ([]Edge, error) {
	rows, err := parquet.ReadFile[edgeRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet edges: %w", err)
	}
	out := make([]Edge, len(rows))
	for i, r := range rows {
		out[i] = Edge{Src: r.Src, Dst: r.Dst, Weight: r.Weight}
	}
	return out, nil
}

func writeParquetVertices(path string, vs []Vertex) error {
	rows := make([]vertexRow, len(vs))
	for i, v := range vs {
		rows[i] = vertexRow{ID: v.ID, Dims: v.Dims, Weight: v.Weight}
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("write parquet vertices: %w", err)
	}
	return nil
}

func writeParquetEdges(path string, es []Edge) error {
	rows := make([]edgeRow, len(es))
	for i, e := range es {
		rows[i] = edgeRow{Src: e.Src, Dst: e.Dst, Weight: e.Weight}
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("write parquet edges: %w", err)
	}
	return nil
}
