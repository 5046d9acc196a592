package cube

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

var (
	// ErrUnknownDimension indicates a token that names no dimension.
	ErrUnknownDimension = errors.New("unknown dimension")
	// ErrDuplicateDimension indicates a dimension listed twice.
	ErrDuplicateDimension = errors.New("duplicate dimension")
	// ErrTooManyDimensions indicates more tokens than dimensions.
	ErrTooManyDimensions = errors.New("dimension count out of range")
	// ErrInvalidSchema indicates an unusable dimension schema.
	ErrInvalidSchema = errors.New("invalid dimension schema")
)

// ParseError describes malformed aggregate function text.
type ParseError struct {
	Text  string
	Token string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("parse aggregate function %q: %v", e.Text, e.Err)
	}
	return fmt.Sprintf("parse aggregate function %q: %v %q", e.Text, e.Err, e.Token)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Schema names the n dimensions of a graph.
type Schema struct {
	names []string
	index map[string]int
}

// NewSchema creates a schema with the given dimension names.
func NewSchema(names ...string) (*Schema, error) {
	if len(names) > MaxDimensions {
		return nil, fmt.Errorf("%w: %d dimensions, max %d", ErrInvalidSchema, len(names), MaxDimensions)
	}
	s := &Schema{
		names: append([]string(nil), names...),
		index: make(map[string]int, len(names)),
	}
	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || name == RootText || strings.Contains(name, ",") {
			return nil, fmt.Errorf("%w: bad dimension name %q", ErrInvalidSchema, name)
		}
		if _, dup := s.index[name]; dup {
			return nil, fmt.Errorf("%w: dimension %q named twice", ErrInvalidSchema, name)
		}
		s.names[i] = name
		s.index[name] = i
	}
	return s, nil
}

// IndexSchema creates a schema of n dimensions named "0".."n-1".
func IndexSchema(n int) (*Schema, error) {
	if n < 0 || n > MaxDimensions {
		return nil, fmt.Errorf("%w: %d dimensions, must be in [0, %d]", ErrInvalidSchema, n, MaxDimensions)
	}
	names := make([]string, n)
	for i := range names {
		names[i] = strconv.Itoa(i)
	}
	return NewSchema(names...)
}

// N returns the number of dimensions.
func (s *Schema) N() int { return len(s.names) }

// Names returns a copy of the dimension names.
func (s *Schema) Names() []string { return append([]string(nil), s.names...) }

// Name returns the name of dimension d.
func (s *Schema) Name(d int) string { return s.names[d] }

// Root returns the root function of this schema.
func (s *Schema) Root() Func { return Root(s.N()) }

// Parse parses a comma-separated list of aggregated dimensions. Tokens are
// dimension names or indices; "" and "-" denote the root. Order and
// surrounding whitespace are ignored.
func (s *Schema) Parse(text string) (Func, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || trimmed == RootText {
		return s.Root(), nil
	}

	tokens := strings.Split(trimmed, ",")
	if len(tokens) > s.N() {
		return Func{}, &ParseError{Text: text, Err: fmt.Errorf("%w: %d tokens for %d dimensions", ErrTooManyDimensions, len(tokens), s.N())}
	}

	var mask uint64
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		d, ok := s.lookup(tok)
		if !ok {
			return Func{}, &ParseError{Text: text, Token: tok, Err: ErrUnknownDimension}
		}
		bit := uint64(1) << uint(d)
		if mask&bit != 0 {
			return Func{}, &ParseError{Text: text, Token: tok, Err: ErrDuplicateDimension}
		}
		mask |= bit
	}
	return Func{mask: mask, n: s.N()}, nil
}

func (s *Schema) lookup(tok string) (int, bool) {
	if d, ok := s.index[tok]; ok {
		return d, true
	}
	d, err := strconv.Atoi(tok)
	if err != nil || d < 0 || d >= s.N() {
		return 0, false
	}
	return d, true
}

// Format renders f using dimension names instead of indices.
func (s *Schema) Format(f Func) string {
	if f.IsRoot() {
		return RootText
	}
	idx := f.Indices()
	names := make([]string, len(idx))
	for i, d := range idx {
		names[i] = s.names[d]
	}
	return strings.Join(names, ",")
}

// Level calls fn for every function at level l in lexicographic order of
// aggregated dimension indices. Iteration stops early when fn returns false.
func (s *Schema) Level(l int, fn func(Func) bool) {
	it := s.Cursor(l)
	for f, ok := it.Next(); ok; f, ok = it.Next() {
		if !fn(f) {
			return
		}
	}
}

// LevelCursor steps through the functions of one level in the order Level
// visits them. It holds only the current combination.
type LevelCursor struct {
	n    int
	comb []int
	done bool
}

// Cursor returns a cursor over level l. A level outside [0, n] is empty.
func (s *Schema) Cursor(l int) *LevelCursor {
	n := s.N()
	if l < 0 || l > n {
		return &LevelCursor{n: n, done: true}
	}
	comb := make([]int, l)
	for i := range comb {
		comb[i] = i
	}
	return &LevelCursor{n: n, comb: comb}
}

// Next returns the next function of the level, or false once it is drained.
func (c *LevelCursor) Next() (Func, bool) {
	if c.done {
		return Func{}, false
	}
	var mask uint64
	for _, d := range c.comb {
		mask |= uint64(1) << uint(d)
	}
	f := Func{mask: mask, n: c.n}

	// Lowest-index-first combinations, emitted in lexicographic order.
	l := len(c.comb)
	i := l - 1
	for i >= 0 && c.comb[i] == c.n-l+i {
		i--
	}
	if i < 0 {
		c.done = true
		return f, true
	}
	c.comb[i]++
	for j := i + 1; j < l; j++ {
		c.comb[j] = c.comb[j-1] + 1
	}
	return f, true
}

// Reachable returns the number of lattice points with level in
// [max(1, minLevel), n]. The root is excluded because it always exists.
func Reachable(minLevel, n int) int64 {
	if minLevel < 1 {
		minLevel = 1
	}
	var total int64
	for l := minLevel; l <= n; l++ {
		c := binomial(n, l)
		if total > math.MaxInt64-c {
			return math.MaxInt64
		}
		total += c
	}
	return total
}

func binomial(n, k int) int64 {
	if k < 0 || k > n {
		return 0
	}
	if k > n-k {
		k = n - k
	}
	var r uint64 = 1
	for i := 1; i <= k; i++ {
		hi, lo := bits.Mul64(r, uint64(n-k+i))
		if hi != 0 {
			return math.MaxInt64
		}
		r = lo / uint64(i)
	}
	if r > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(r)
}
