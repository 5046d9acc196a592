package lattice

import (
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/eunmann/graph-cube/pkg/cube"
	"github.com/eunmann/graph-cube/pkg/cuboid"
)

func mustFunc(t *testing.T, s *cube.Schema, text string) cube.Func {
	t.Helper()
	f, err := s.Parse(text)
	if err != nil {
		t.Fatalf("Parse(%q): %v", text, err)
	}
	return f
}

func mustEntry(t *testing.T, fn cube.Func, size int64) cuboid.Materialized {
	t.Helper()
	e, err := cuboid.NewMaterialized(fn, cube.Location("/g", fn), size)
	if err != nil {
		t.Fatalf("NewMaterialized: %v", err)
	}
	return e
}

func newTestKeeper(t *testing.T, n int, rootSize int64) (*Keeper, *cube.Schema) {
	t.Helper()
	s, err := cube.IndexSchema(n)
	if err != nil {
		t.Fatal(err)
	}
	k, err := NewKeeper(mustEntry(t, s.Root(), rootSize))
	if err != nil {
		t.Fatalf("NewKeeper: %v", err)
	}
	return k, s
}

func TestNewKeeper_RequiresRoot(t *testing.T) {
	s, _ := cube.IndexSchema(3)
	if _, err := NewKeeper(mustEntry(t, mustFunc(t, s, "1"), 10)); !errors.Is(err, ErrNotRoot) {
		t.Errorf("NewKeeper(non-root) error = %v, want ErrNotRoot", err)
	}
}

func TestKeeper_AddGet(t *testing.T) {
	k, s := newTestKeeper(t, 3, 1000)
	f := mustFunc(t, s, "1")
	e := mustEntry(t, f, 400)

	if k.Contains(f) {
		t.Fatal("Contains before Add")
	}
	if err := k.Add(e); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, ok := k.Get(f)
	if !ok || got != e {
		t.Errorf("Get = %v, %v", got, ok)
	}
	if k.Len() != 2 {
		t.Errorf("Len = %d, want 2", k.Len())
	}
	if k.TotalSize() != 1400 {
		t.Errorf("TotalSize = %d, want 1400", k.TotalSize())
	}
	if k.LevelCount(1) != 1 {
		t.Errorf("LevelCount(1) = %d, want 1", k.LevelCount(1))
	}

	// Append-only: a second add for the same point fails and the
	// original entry stays.
	err := k.Add(mustEntry(t, f, 1))
	if !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("duplicate Add error = %v, want ErrDuplicateEntry", err)
	}
	if got, _ := k.Get(f); got.Size() != 400 {
		t.Errorf("entry replaced: size %d", got.Size())
	}
	if err := k.Add(mustEntry(t, s.Root(), 5)); !errors.Is(err, ErrDuplicateEntry) {
		t.Errorf("root re-add error = %v, want ErrDuplicateEntry", err)
	}
}

func TestKeeper_AddDimensionMismatch(t *testing.T) {
	k, _ := newTestKeeper(t, 3, 1000)
	other := cube.FromMask(1, 4)
	if err := k.Add(mustEntry(t, other, 1)); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Add error = %v, want ErrDimensionMismatch", err)
	}
	if _, err := k.NearestDescendant(other); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("NearestDescendant error = %v, want ErrDimensionMismatch", err)
	}
	if k.Contains(other) {
		t.Error("Contains(other dims) = true")
	}
}

func TestNearestDescendant_PrefersSmallerGap(t *testing.T) {
	// Only the root (level 0) and one level-1 entry of size 400 covering
	// the level-2 target: the level-1 entry wins.
	k, s := newTestKeeper(t, 3, 1000)
	one := mustEntry(t, mustFunc(t, s, "0"), 400)
	if err := k.Add(one); err != nil {
		t.Fatal(err)
	}

	got, err := k.NearestDescendant(mustFunc(t, s, "0,2"))
	if err != nil {
		t.Fatalf("NearestDescendant: %v", err)
	}
	if got != one {
		t.Errorf("NearestDescendant = %v, want %v", got, one)
	}

	// A target the level-1 entry does not cover falls back to the root.
	got, err = k.NearestDescendant(mustFunc(t, s, "1,2"))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Func().IsRoot() {
		t.Errorf("NearestDescendant(1,2) = %v, want root", got)
	}
}

func TestNearestDescendant_TieBySize(t *testing.T) {
	k, s := newTestKeeper(t, 3, 1000)
	big := mustEntry(t, mustFunc(t, s, "0"), 650)
	small := mustEntry(t, mustFunc(t, s, "1"), 400)
	for _, e := range []cuboid.Materialized{big, small} {
		if err := k.Add(e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := k.NearestDescendant(mustFunc(t, s, "0,1"))
	if err != nil {
		t.Fatal(err)
	}
	if got != small {
		t.Errorf("NearestDescendant = %v, want smaller %v", got, small)
	}
}

func TestNearestDescendant_Self(t *testing.T) {
	k, s := newTestKeeper(t, 3, 1000)
	e := mustEntry(t, mustFunc(t, s, "2"), 10)
	if err := k.Add(e); err != nil {
		t.Fatal(err)
	}
	got, err := k.NearestDescendant(e.Func())
	if err != nil || got != e {
		t.Errorf("NearestDescendant(stored) = %v, %v", got, err)
	}
}

// Brute-force check of the nearest-descendant contract over random lattices.
func TestNearestDescendant_MatchesBruteForce(t *testing.T) {
	const n = 5
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 20; trial++ {
		k, s := newTestKeeper(t, n, 1_000_000)

		// Insert in level order so every entry has an ancestor.
		for l := 1; l <= n; l++ {
			s.Level(l, func(f cube.Func) bool {
				if rng.Intn(3) == 0 {
					if err := k.Add(mustEntry(t, f, int64(rng.Intn(50)))); err != nil {
						t.Fatalf("Add %v: %v", f, err)
					}
				}
				return true
			})
		}

		stored := k.Entries()
		for l := 0; l <= n; l++ {
			s.Level(l, func(target cube.Func) bool {
				got, err := k.NearestDescendant(target)
				if err != nil {
					t.Fatalf("NearestDescendant(%v): %v", target, err)
				}
				if !got.Func().Covers(target) {
					t.Fatalf("%v does not cover %v", got.Func(), target)
				}
				gap := got.Func().Gap(target)
				for _, e := range stored {
					eg := e.Func().Gap(target)
					if eg < 0 {
						continue
					}
					if eg < gap {
						t.Fatalf("target %v: %v has gap %d < %d of %v", target, e.Func(), eg, gap, got.Func())
					}
					if eg == gap && e.Size() < got.Size() {
						t.Fatalf("target %v: tie not broken by size: %v(%d) vs %v(%d)",
							target, e.Func(), e.Size(), got.Func(), got.Size())
					}
				}
				return true
			})
		}
	}
}

func TestKeeper_EntriesOrdered(t *testing.T) {
	k, s := newTestKeeper(t, 3, 100)
	for _, text := range []string{"2", "0", "1,2", "0,2", "1"} {
		if err := k.Add(mustEntry(t, mustFunc(t, s, text), 1)); err != nil {
			t.Fatal(err)
		}
	}

	var got []string
	for _, e := range k.Entries() {
		got = append(got, e.Func().String())
	}
	want := []string{"-", "0", "1", "2", "0,2", "1,2"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Entries = %v, want %v", got, want)
	}
}

func TestKeeper_ConcurrentAddAndLookup(t *testing.T) {
	const n = 8
	k, s := newTestKeeper(t, n, 1<<20)

	var targets []cube.Func
	s.Level(1, func(f cube.Func) bool {
		targets = append(targets, f)
		return true
	})

	var wg sync.WaitGroup
	for i, f := range targets {
		wg.Add(2)
		go func(f cube.Func, size int64) {
			defer wg.Done()
			if err := k.Add(mustEntry(t, f, size)); err != nil {
				t.Errorf("Add %v: %v", f, err)
			}
		}(f, int64(i+1))
		go func(f cube.Func) {
			defer wg.Done()
			e, err := k.NearestDescendant(f)
			if err != nil {
				t.Errorf("NearestDescendant %v: %v", f, err)
				return
			}
			// Either the root or the fully sized entry itself.
			if !e.Func().IsRoot() && !e.Func().Equal(f) {
				t.Errorf("NearestDescendant(%v) = %v", f, e)
			}
		}(f)
	}
	wg.Wait()

	if k.Len() != n+1 {
		t.Errorf("Len = %d, want %d", k.Len(), n+1)
	}
}

func TestManifest_RoundTrip(t *testing.T) {
	s, err := cube.NewSchema("country", "gender", "age")
	if err != nil {
		t.Fatal(err)
	}
	k, err := NewKeeper(mustEntry(t, s.Root(), 1000))
	if err != nil {
		t.Fatal(err)
	}
	for _, text := range []string{"country", "age", "country,age"} {
		if err := k.Add(mustEntry(t, mustFunc(t, s, text), 100)); err != nil {
			t.Fatal(err)
		}
	}

	m, err := NewManifest(k, s)
	if err != nil {
		t.Fatalf("NewManifest: %v", err)
	}
	path := filepath.Join(t.TempDir(), "nested", ManifestFile)
	if err := WriteManifest(path, m); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	read, err := ReadManifest(path)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if read.TotalSize != 1300 || read.RootLocation != "/g_base" {
		t.Errorf("manifest header = %+v", read)
	}

	restored, schema, err := read.Keeper()
	if err != nil {
		t.Fatalf("Keeper: %v", err)
	}
	if schema.Name(2) != "age" {
		t.Errorf("schema lost names: %v", schema.Names())
	}
	if restored.Len() != k.Len() {
		t.Fatalf("restored Len = %d, want %d", restored.Len(), k.Len())
	}
	for _, e := range k.Entries() {
		got, ok := restored.Get(e.Func())
		if !ok || got != e {
			t.Errorf("restored %v = %v, %v", e.Func(), got, ok)
		}
	}
}

func TestManifest_Errors(t *testing.T) {
	m := &Manifest{Version: 99}
	if _, _, err := m.Keeper(); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("version error = %v", err)
	}

	m = &Manifest{
		Version:    ManifestVersion,
		Dimensions: []string{"a", "b"},
		Entries:    []EntryInfo{{Func: "a", Path: "x", Size: 1}},
	}
	if _, _, err := m.Keeper(); !errors.Is(err, ErrMissingRoot) {
		t.Errorf("missing root error = %v", err)
	}

	if _, err := ReadManifest(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("ReadManifest(absent) succeeded")
	}
}
