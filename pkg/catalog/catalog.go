// Package catalog persists a lattice so materialized cuboids survive
// process restarts.
//
// A catalog records the dimension schema and root location once (Init),
// then one row per cuboid as it is materialized (Record). Load rebuilds the
// lattice from what was recorded.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/eunmann/graph-cube/pkg/cube"
	"github.com/eunmann/graph-cube/pkg/cuboid"
	"github.com/eunmann/graph-cube/pkg/lattice"
)

var (
	// ErrNoCatalog is returned by Load when nothing has been persisted.
	ErrNoCatalog = errors.New("no catalog")
	// ErrMismatch is returned by Init when the persisted lattice was built
	// over a different graph or schema.
	ErrMismatch = errors.New("catalog describes a different lattice")
	// ErrNotInitialized is returned by Record before Init or Load.
	ErrNotInitialized = errors.New("catalog not initialized")
)

// Catalog is a persisted lattice manifest.
type Catalog interface {
	// Load rebuilds the persisted lattice or returns ErrNoCatalog.
	Load(ctx context.Context) (*lattice.Keeper, *cube.Schema, error)
	// Init records schema and root for a new catalog. On an existing catalog
	// it verifies they match.
	Init(ctx context.Context, schema *cube.Schema, root cuboid.Materialized) error
	// Record persists one materialized cuboid. Recording a lattice point
	// twice fails with lattice.ErrDuplicateEntry.
	Record(ctx context.Context, e cuboid.Materialized) error
	Close() error
}

// Open picks an implementation from the file extension: .db, .sqlite and
// .sqlite3 use SQLite, anything else a JSON manifest.
func Open(path string) (Catalog, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(DefaultSQLiteConfig(path))
	default:
		return OpenJSON(path), nil
	}
}

func checkRoot(schema *cube.Schema, root cuboid.Materialized) error {
	if !root.Func().IsRoot() {
		return fmt.Errorf("%w: got %s", lattice.ErrNotRoot, root.Func())
	}
	if root.Func().Dimensions() != schema.N() {
		return fmt.Errorf("%w: root has %d dimensions, schema %d", lattice.ErrDimensionMismatch, root.Func().Dimensions(), schema.N())
	}
	return nil
}

func checkMatch(names []string, rootPath string, rootSize int64, schema *cube.Schema, root cuboid.Materialized) error {
	switch {
	case !slices.Equal(names, schema.Names()):
		return fmt.Errorf("%w: dimensions %v, want %v", ErrMismatch, names, schema.Names())
	case rootPath != root.Path():
		return fmt.Errorf("%w: root %q, want %q", ErrMismatch, rootPath, root.Path())
	case rootSize != root.Size():
		return fmt.Errorf("%w: root size %d, want %d", ErrMismatch, rootSize, root.Size())
	}
	return nil
}
