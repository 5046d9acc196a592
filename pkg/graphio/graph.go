// Package graphio reads and writes dimensional graphs stored as a directory
// holding a vertex file and an edge file.
//
// Three encodings are supported:
//
//	text     vertices.tsv, edges.tsv
//	zstd     vertices.tsv.zst, edges.tsv.zst
//	parquet  vertices.parquet, edges.parquet
//
// A text vertex line is "id VD dim_0 VD ... VD dim_{n-1} [VD weight]" and an
// edge line is "src ED dst [ED weight]". Missing weights default to 1.
package graphio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/eunmann/graph-cube/pkg/fileutil"
)

// Format is a graph directory encoding.
type Format string

const (
	FormatText    Format = "text"
	FormatZstd    Format = "zstd"
	FormatParquet Format = "parquet"
)

var (
	// ErrUnknownFormat indicates a directory with no recognizable graph files.
	ErrUnknownFormat = errors.New("unknown graph format")
	// ErrMalformed indicates a record that cannot be decoded.
	ErrMalformed = errors.New("malformed graph record")
	// ErrUnencodable indicates a value the text encodings cannot represent
	// because it holds a delimiter or a line break.
	ErrUnencodable = errors.New("value not representable in text format")
)

// Vertex is a graph node with one value per dimension.
type Vertex struct {
	ID     string
	Dims   []string
	Weight int64
}

// Edge connects two vertices.
type Edge struct {
	Src    string
	Dst    string
	Weight int64
}

// Graph is an in-memory dimensional graph.
type Graph struct {
	Vertices []Vertex
	Edges    []Edge
}

// Size returns the element count used as a cuboid's size.
func (g *Graph) Size() int64 {
	return int64(len(g.Vertices) + len(g.Edges))
}

// Options configures encoding.
type Options struct {
	// Dimensions is the number of dimension columns per vertex.
	Dimensions int
	// VertexDelimiter separates vertex fields in text formats.
	VertexDelimiter string
	// EdgeDelimiter separates edge fields in text formats.
	EdgeDelimiter string
	// Format selects the output encoding for Write.
	Format Format
}

// DefaultOptions returns tab-separated vertices, space-separated edges and
// plain text output.
func DefaultOptions(n int) Options {
	return Options{
		Dimensions:      n,
		VertexDelimiter: "\t",
		EdgeDelimiter:   " ",
		Format:          FormatText,
	}
}

func (o *Options) applyDefaults() {
	if o.VertexDelimiter == "" {
		o.VertexDelimiter = "\t"
	}
	if o.EdgeDelimiter == "" {
		o.EdgeDelimiter = " "
	}
	if o.Format == "" {
		o.Format = FormatText
	}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatZstd, FormatParquet:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

func fileNames(f Format) (vertices, edges string) {
	switch f {
	case FormatZstd:
		return "vertices.tsv.zst", "edges.tsv.zst"
	case FormatParquet:
		return "vertices.parquet", "edges.parquet"
	default:
		return "vertices.tsv", "edges.tsv"
	}
}

// Detect returns the encoding of the graph stored in dir.
func Detect(dir string) (Format, error) {
	for _, f := range []Format{FormatParquet, FormatZstd, FormatText} {
		v, _ := fileNames(f)
		if _, err := os.Stat(filepath.Join(dir, v)); err == nil {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: no vertex file in %s", ErrUnknownFormat, dir)
}

// Read loads the graph in dir, detecting its encoding.
func Read(dir string, opts Options) (*Graph, error) {
	opts.applyDefaults()
	format, err := Detect(dir)
	if err != nil {
		return nil, err
	}
	vname, ename := fileNames(format)
	vpath, epath := filepath.Join(dir, vname), filepath.Join(dir, ename)

	g := &Graph{}
	switch format {
	case FormatParquet:
		if g.Vertices, err = readParquetVertices(vpath, opts.Dimensions); err != nil {
			return nil, err
		}
		if g.Edges, err = readParquetEdges(epath); err != nil {
			return nil, err
		}
	default:
		compressed := format == FormatZstd
		if g.Vertices, err = readTextVertices(vpath, compressed, opts); err != nil {
			return nil, err
		}
		if g.Edges, err = readTextEdges(epath, compressed, opts); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Write stores g in dir using opts.Format. The directory is written under a
// temporary name and renamed into place, replacing any previous graph.
func Write(dir string, g *Graph, opts Options) error {
	opts.applyDefaults()
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, filepath.Base(dir)+fileutil.TmpMarker+"-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}

	renamed := false
	defer func() {
		if !renamed {
			os.RemoveAll(tmp)
		}
	}()

	vname, ename := fileNames(opts.Format)
	vpath, epath := filepath.Join(tmp, vname), filepath.Join(tmp, ename)
	switch opts.Format {
	case FormatParquet:
		if err := writeParquetVertices(vpath, g.Vertices); err != nil {
			return err
		}
		if err := writeParquetEdges(epath, g.Edges); err != nil {
			return err
		}
	case FormatText, FormatZstd:
		compressed := opts.Format == FormatZstd
		if err := writeTextVertices(vpath, compressed, g.Vertices, opts); err != nil {
			return err
		}
		if err := writeTextEdges(epath, compressed, g.Edges, opts); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
	}

	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove old graph dir: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return fmt.Errorf("rename graph dir: %w", err)
	}
	renamed = true
	// Best effort: persists the rename.
	_ = fileutil.SyncDir(parent)
	return nil
}

// Count returns the element count of the graph in dir.
func Count(dir string, opts Options) (int64, error) {
	g, err := Read(dir, opts)
	if err != nil {
		return 0, err
	}
	return g.Size(), nil
}

// DiskSize returns the total size in bytes of the files in dir.
func DiskSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
