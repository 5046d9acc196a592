package cube

import (
	"errors"
	"testing"
)

func mustSchema(t *testing.T, n int) *Schema {
	t.Helper()
	s, err := IndexSchema(n)
	if err != nil {
		t.Fatalf("IndexSchema(%d): %v", n, err)
	}
	return s
}

func allFuncs(s *Schema) []Func {
	var out []Func
	for l := 0; l <= s.N(); l++ {
		s.Level(l, func(f Func) bool {
			out = append(out, f)
			return true
		})
	}
	return out
}

func TestParse_Canonical(t *testing.T) {
	s := mustSchema(t, 4)

	tests := []struct {
		input     string
		want      string
		wantLevel int
	}{
		{"", "-", 0},
		{"-", "-", 0},
		{"  - ", "-", 0},
		{"0", "0", 1},
		{"2,0", "0,2", 2},
		{" 3 , 1 ", "1,3", 2},
		{"0,1,2,3", "0,1,2,3", 4},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			f, err := s.Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.input, err)
			}
			if got := f.String(); got != tt.want {
				t.Errorf("Parse(%q).String() = %q, want %q", tt.input, got, tt.want)
			}
			if f.Level() != tt.wantLevel {
				t.Errorf("Parse(%q).Level() = %d, want %d", tt.input, f.Level(), tt.wantLevel)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	s := mustSchema(t, 3)

	tests := []struct {
		input   string
		wantErr error
	}{
		{"3", ErrUnknownDimension},
		{"x", ErrUnknownDimension},
		{"-1", ErrUnknownDimension},
		{"0,", ErrUnknownDimension},
		{"1,1", ErrDuplicateDimension},
		{"0,1,2,0", ErrTooManyDimensions},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := s.Parse(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Parse(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Errorf("Parse(%q) error %T is not *ParseError", tt.input, err)
			}
		})
	}
}

func TestParse_Names(t *testing.T) {
	s, err := NewSchema("country", "gender", "age")
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}

	byName, err := s.Parse("age,country")
	if err != nil {
		t.Fatalf("Parse names: %v", err)
	}
	byIndex, err := s.Parse("0,2")
	if err != nil {
		t.Fatalf("Parse indices: %v", err)
	}
	if !byName.Equal(byIndex) {
		t.Errorf("%v != %v", byName, byIndex)
	}
	if got := s.Format(byName); got != "country,age" {
		t.Errorf("Format = %q, want country,age", got)
	}
	if _, err := s.Parse("height"); !errors.Is(err, ErrUnknownDimension) {
		t.Errorf("Parse(height) error = %v, want ErrUnknownDimension", err)
	}
}

func TestNewSchema_Invalid(t *testing.T) {
	cases := [][]string{
		{"a", "a"},
		{"a", ""},
		{"-"},
		{"a,b"},
	}
	for _, names := range cases {
		if _, err := NewSchema(names...); !errors.Is(err, ErrInvalidSchema) {
			t.Errorf("NewSchema(%q) error = %v, want ErrInvalidSchema", names, err)
		}
	}
	if _, err := IndexSchema(MaxDimensions + 1); !errors.Is(err, ErrInvalidSchema) {
		t.Errorf("IndexSchema(65) error = %v, want ErrInvalidSchema", err)
	}
}

func TestCovers_ReflexiveTransitive(t *testing.T) {
	s := mustSchema(t, 4)
	funcs := allFuncs(s)

	for _, f := range funcs {
		if !f.Covers(f) {
			t.Errorf("%v does not cover itself", f)
		}
		if f.Gap(f) != 0 {
			t.Errorf("%v.Gap(self) = %d, want 0", f, f.Gap(f))
		}
	}

	for _, f := range funcs {
		for _, g := range funcs {
			if !f.Covers(g) {
				continue
			}
			for _, h := range funcs {
				if g.Covers(h) && !f.Covers(h) {
					t.Fatalf("%v covers %v covers %v but not transitively", f, g, h)
				}
			}
		}
	}
}

func TestCovers_RootUniversal(t *testing.T) {
	s := mustSchema(t, 5)
	root := s.Root()
	for _, f := range allFuncs(s) {
		if !root.Covers(f) {
			t.Errorf("root does not cover %v", f)
		}
		if root.Gap(f) != f.Level() {
			t.Errorf("root.Gap(%v) = %d, want %d", f, root.Gap(f), f.Level())
		}
	}
}

func TestCovers_Direction(t *testing.T) {
	s := mustSchema(t, 3)
	a, _ := s.Parse("0")
	b, _ := s.Parse("0,2")
	c, _ := s.Parse("1")

	if !a.Covers(b) {
		t.Error("0 should cover 0,2")
	}
	if b.Covers(a) {
		t.Error("0,2 should not cover 0")
	}
	if a.Covers(c) || c.Covers(a) {
		t.Error("0 and 1 are incomparable")
	}
	if a.Gap(c) != -1 {
		t.Errorf("Gap of incomparable = %d, want -1", a.Gap(c))
	}

	other := FromMask(a.Mask(), 4)
	if a.Covers(other) || a.Equal(other) {
		t.Error("functions over different dimension counts must not compare")
	}
}

func TestPathSuffix(t *testing.T) {
	s := mustSchema(t, 3)
	root := s.Root()
	f, _ := s.Parse("2,0")

	if got := root.PathSuffix(); got != "_base" {
		t.Errorf("root suffix = %q", got)
	}
	if got := f.PathSuffix(); got != "_agg_0_2" {
		t.Errorf("suffix = %q, want _agg_0_2", got)
	}
	if got := Location("/data/graph/", f); got != "/data/graph_agg_0_2" {
		t.Errorf("Location = %q", got)
	}
}

func TestLevel_Enumeration(t *testing.T) {
	s := mustSchema(t, 4)

	var got []string
	s.Level(2, func(f Func) bool {
		got = append(got, f.String())
		return true
	})
	want := []string{"0,1", "0,2", "0,3", "1,2", "1,3", "2,3"}
	if len(got) != len(want) {
		t.Fatalf("level 2 = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("level 2[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	count := 0
	s.Level(1, func(Func) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Errorf("early stop visited %d, want 2", count)
	}
}

func TestCursor(t *testing.T) {
	s := mustSchema(t, 5)
	for l := 0; l <= 5; l++ {
		var viaLevel []uint64
		s.Level(l, func(f Func) bool {
			viaLevel = append(viaLevel, f.Mask())
			return true
		})

		var viaCursor []uint64
		c := s.Cursor(l)
		for f, ok := c.Next(); ok; f, ok = c.Next() {
			viaCursor = append(viaCursor, f.Mask())
		}
		if int64(len(viaCursor)) != binomial(5, l) {
			t.Errorf("level %d: cursor visited %d, want %d", l, len(viaCursor), binomial(5, l))
		}
		for i := range viaCursor {
			if i >= len(viaLevel) || viaCursor[i] != viaLevel[i] {
				t.Errorf("level %d: cursor[%d] = %#x differs from Level", l, i, viaCursor[i])
				break
			}
		}
	}

	for _, l := range []int{-1, 6} {
		if _, ok := s.Cursor(l).Next(); ok {
			t.Errorf("Cursor(%d) yielded a function", l)
		}
	}
}

func TestCursor_WideLevel(t *testing.T) {
	s := mustSchema(t, MaxDimensions)
	c := s.Cursor(32)
	first, ok := c.Next()
	if !ok || first.Mask() != 1<<32-1 {
		t.Fatalf("first = %#x, %v", first.Mask(), ok)
	}
	second, ok := c.Next()
	if !ok || second.Mask() != (1<<31-1)|1<<32 {
		t.Errorf("second = %#x, %v", second.Mask(), ok)
	}
}

func TestReachable(t *testing.T) {
	tests := []struct {
		minLevel, n int
		want        int64
	}{
		{0, 3, 7},
		{1, 3, 7},
		{2, 3, 4},
		{3, 3, 1},
		{4, 3, 0},
		{1, 0, 0},
		{1, 10, 1023},
	}
	for _, tt := range tests {
		if got := Reachable(tt.minLevel, tt.n); got != tt.want {
			t.Errorf("Reachable(%d, %d) = %d, want %d", tt.minLevel, tt.n, got, tt.want)
		}
	}
}
