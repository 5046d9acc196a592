package graphio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const maxLineSize = 4 * 1024 * 1024

// openText opens path for line reading, decompressing zstd when asked.
func openText(path string, compressed bool) (io.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if !compressed {
		return f, func() { f.Close() }, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("open zstd stream: %w", err)
	}
	return dec, func() {
		dec.Close()
		f.Close()
	}, nil
}

func scanLines(path string, compressed bool, fn func(lineNo int, line string) error) error {
	r, closeFn, err := openText(path, compressed)
	if err != nil {
		return err
	}
	defer closeFn()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", path, err)
	}
	return nil
}

func parseWeight(s string) (int64, error) {
	w, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || w < 0 {
		return 0, fmt.Errorf("bad weight %q", s)
	}
	return w, nil
}

func readTextVertices(path string, compressed bool, opts Options) ([]Vertex, error) {
	var out []Vertex
	n := opts.Dimensions
	err := scanLines(path, compressed, func(lineNo int, line string) error {
		fields := strings.Split(line, opts.VertexDelimiter)
		v := Vertex{Weight: 1}
		switch len(fields) {
		case n + 1:
		case n + 2:
			w, err := parseWeight(fields[n+1])
			if err != nil {
				return fmt.Errorf("%w: %s:%d: %v", ErrMalformed, path, lineNo, err)
			}
			v.Weight = w
		default:
			return fmt.Errorf("%w: %s:%d: %d fields, want %d or %d", ErrMalformed, path, lineNo, len(fields), n+1, n+2)
		}
		v.ID = fields[0]
		v.Dims = append([]string(nil), fields[1:n+1]...)
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read vertices: %w", err)
	}
	return out, nil
}

func readTextEdges(path string, compressed bool, opts Options) ([]Edge, error) {
	var out []Edge
	err := scanLines(path, compressed, func(lineNo int, line string) error {
		fields := strings.Split(line, opts.EdgeDelimiter)
		e := Edge{Weight: 1}
		switch len(fields) {
		case 2:
		case 3:
			w, err := parseWeight(fields[2])
			if err != nil {
				return fmt.Errorf("%w: %s:%d: %v", ErrMalformed, path, lineNo, err)
			}
			e.Weight = w
		default:
			return fmt.Errorf("%w: %s:%d: %d fields, want 2 or 3", ErrMalformed, path, lineNo, len(fields))
		}
		e.Src, e.Dst = fields[0], fields[1]
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read edges: %w", err)
	}
	return out, nil
}

// createText creates path for writing, compressing with zstd when asked.
// The returned close function flushes every layer.
func createText(path string, compressed bool) (*bufio.Writer, func() error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	if !compressed {
		bw := bufio.NewWriter(f)
		return bw, func() error {
			if err := bw.Flush(); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		}, nil
	}

	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("create zstd stream: %w", err)
	}
	bw := bufio.NewWriter(enc)
	return bw, func() error {
		if err := bw.Flush(); err != nil {
			enc.Close()
			f.Close()
			return err
		}
		if err := enc.Close(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}, nil
}

// checkField rejects a value that would not read back as one field. A
// leading field also must not start a comment.
func checkField(field, delim string, leading bool) error {
	switch {
	case strings.Contains(field, delim):
		return fmt.Errorf("%w: %q contains delimiter %q", ErrUnencodable, field, delim)
	case strings.ContainsAny(field, "\r\n"):
		return fmt.Errorf("%w: %q contains a line break", ErrUnencodable, field)
	case leading && strings.HasPrefix(field, "#"):
		return fmt.Errorf("%w: %q starts with a comment marker", ErrUnencodable, field)
	}
	return nil
}

func checkVertex(v Vertex, delim string) error {
	if err := checkField(v.ID, delim, true); err != nil {
		return err
	}
	for _, d := range v.Dims {
		if err := checkField(d, delim, false); err != nil {
			return fmt.Errorf("vertex %q: %w", v.ID, err)
		}
	}
	return nil
}

func writeTextVertices(path string, compressed bool, vs []Vertex, opts Options) error {
	for _, v := range vs {
		if err := checkVertex(v, opts.VertexDelimiter); err != nil {
			return err
		}
	}
	w, closeFn, err := createText(path, compressed)
	if err != nil {
		return fmt.Errorf("create vertex file: %w", err)
	}
	for _, v := range vs {
		w.WriteString(v.ID)
		for _, d := range v.Dims {
			w.WriteString(opts.VertexDelimiter)
			w.WriteString(d)
		}
		w.WriteString(opts.VertexDelimiter)
		w.WriteString(strconv.FormatInt(v.Weight, 10))
		w.WriteByte('\n')
	}
	if err := closeFn(); err != nil {
		return fmt.Errorf("write vertex file: %w", err)
	}
	return nil
}

func writeTextEdges(path string, compressed bool, es []Edge, opts Options) error {
	for _, e := range es {
		if err := checkField(e.Src, opts.EdgeDelimiter, true); err != nil {
			return err
		}
		if err := checkField(e.Dst, opts.EdgeDelimiter, false); err != nil {
			return err
		}
	}
	w, closeFn, err := createText(path, compressed)
	if err != nil {
		return fmt.Errorf("create edge file: %w", err)
	}
	for _, e := range es {
		w.WriteString(e.Src)
		w.WriteString(opts.EdgeDelimiter)
		w.WriteString(e.Dst)
		w.WriteString(opts.EdgeDelimiter)
		w.WriteString(strconv.FormatInt(e.Weight, 10))
		w.WriteByte('\n')
	}
	if err := closeFn(); err != nil {
		return fmt.Errorf("write edge file: %w", err)
	}
	return nil
}
