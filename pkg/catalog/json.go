package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/eunmann/graph-cube/pkg/cube"
	"github.com/eunmann/graph-cube/pkg/cuboid"
	"github.com/eunmann/graph-cube/pkg/lattice"
)

// JSONCatalog keeps the lattice manifest in a single JSON file, rewritten
// atomically on every Record.
type JSONCatalog struct {
	path string

	mu       sync.Mutex
	manifest *lattice.Manifest
	schema   *cube.Schema
	seen     map[uint64]bool
}

// OpenJSON returns a catalog backed by path. The file is not read until
// Load or Init.
func OpenJSON(path string) *JSONCatalog {
	return &JSONCatalog{path: path}
}

func (c *JSONCatalog) read() (*lattice.Manifest, error) {
	m, err := lattice.ReadManifest(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCatalog
	}
	return m, err
}

// adopt makes m the in-memory manifest.
func (c *JSONCatalog) adopt(m *lattice.Manifest, schema *cube.Schema) error {
	seen := make(map[uint64]bool, len(m.Entries))
	for _, info := range m.Entries {
		fn, err := schema.Parse(info.Func)
		if err != nil {
			return fmt.Errorf("catalog entry: %w", err)
		}
		seen[fn.Mask()] = true
	}
	c.manifest, c.schema, c.seen = m, schema, seen
	return nil
}

// Load implements Catalog.
func (c *JSONCatalog) Load(_ context.Context) (*lattice.Keeper, *cube.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.read()
	if err != nil {
		return nil, nil, err
	}
	k, schema, err := m.Keeper()
	if err != nil {
		return nil, nil, err
	}
	if err := c.adopt(m, schema); err != nil {
		return nil, nil, err
	}
	return k, schema, nil
}

// Init implements Catalog.
func (c *JSONCatalog) Init(_ context.Context, schema *cube.Schema, root cuboid.Materialized) error {
	if err := checkRoot(schema, root); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.read()
	switch {
	case err == nil:
		var rootSize int64 = -1
		for _, info := range m.Entries {
			if info.Level == 0 {
				rootSize = info.Size
			}
		}
		if err := checkMatch(m.Dimensions, m.RootLocation, rootSize, schema, root); err != nil {
			return err
		}
		return c.adopt(m, schema)
	case !errors.Is(err, ErrNoCatalog):
		return err
	}

	k, err := lattice.NewKeeper(root)
	if err != nil {
		return err
	}
	m, err = lattice.NewManifest(k, schema)
	if err != nil {
		return err
	}
	if err := lattice.WriteManifest(c.path, m); err != nil {
		return err
	}
	return c.adopt(m, schema)
}

// Record implements Catalog.
func (c *JSONCatalog) Record(_ context.Context, e cuboid.Materialized) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.manifest == nil {
		return ErrNotInitialized
	}
	fn := e.Func()
	if fn.Dimensions() != c.schema.N() {
		return fmt.Errorf("%w: %s", lattice.ErrDimensionMismatch, fn)
	}
	if c.seen[fn.Mask()] {
		return fmt.Errorf("%w: %s", lattice.ErrDuplicateEntry, c.schema.Format(fn))
	}

	next := *c.manifest
	next.Entries = append(append([]lattice.EntryInfo(nil), c.manifest.Entries...), lattice.EntryInfo{
		Func:  c.schema.Format(fn),
		Level: e.Level(),
		Path:  e.Path(),
		Size:  e.Size(),
	})
	next.TotalSize += e.Size()
	if err := lattice.WriteManifest(c.path, &next); err != nil {
		return err
	}
	c.manifest = &next
	c.seen[fn.Mask()] = true
	return nil
}

// Close implements Catalog.
func (c *JSONCatalog) Close() error { return nil }

var _ Catalog = (*JSONCatalog)(nil)
