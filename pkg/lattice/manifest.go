package lattice

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/eunmann/graph-cube/pkg/cube"
	"github.com/eunmann/graph-cube/pkg/cuboid"
	"github.com/eunmann/graph-cube/pkg/fileutil"
)

// ManifestVersion is the current manifest format version.
const ManifestVersion = 1

// ManifestFile is the default manifest file name.
const ManifestFile = "lattice.json"

var (
	// ErrVersionMismatch indicates an unsupported manifest version.
	ErrVersionMismatch = errors.New("unsupported manifest version")
	// ErrMissingRoot indicates a manifest without a root entry.
	ErrMissingRoot = errors.New("manifest has no root entry")
)

// Manifest is the persisted form of a lattice.
type Manifest struct {
	Version      int         `json:"version"`
	CreatedAt    time.Time   `json:"created_at"`
	Dimensions   []string    `json:"dimensions"`
	RootLocation string      `json:"root_location"`
	TotalSize    int64       `json:"total_size"`
	Entries      []EntryInfo `json:"entries"`
}

// EntryInfo describes a single materialized cuboid.
type EntryInfo struct {
	Func  string `json:"func"`
	Level int    `json:"level"`
	Path  string `json:"path"`
	Size  int64  `json:"size"`
}

// NewManifest snapshots k. Function text uses the schema's dimension names.
func NewManifest(k *Keeper, schema *cube.Schema) (*Manifest, error) {
	if schema.N() != k.Dimensions() {
		return nil, fmt.Errorf("%w: schema has %d dimensions, lattice has %d", ErrDimensionMismatch, schema.N(), k.Dimensions())
	}
	entries := k.Entries()
	m := &Manifest{
		Version:      ManifestVersion,
		CreatedAt:    time.Now().UTC(),
		Dimensions:   schema.Names(),
		RootLocation: k.Root().Path(),
		TotalSize:    k.TotalSize(),
		Entries:      make([]EntryInfo, 0, len(entries)),
	}
	for _, e := range entries {
		m.Entries = append(m.Entries, EntryInfo{
			Func:  schema.Format(e.Func()),
			Level: e.Level(),
			Path:  e.Path(),
			Size:  e.Size(),
		})
	}
	return m, nil
}

// Schema returns the dimension schema recorded in the manifest.
func (m *Manifest) Schema() (*cube.Schema, error) {
	return cube.NewSchema(m.Dimensions...)
}

// Keeper rebuilds the lattice. Entries are inserted by level so every entry
// finds its covering ancestor.
func (m *Manifest) Keeper() (*Keeper, *cube.Schema, error) {
	if m.Version != ManifestVersion {
		return nil, nil, fmt.Errorf("%w: %d", ErrVersionMismatch, m.Version)
	}
	schema, err := m.Schema()
	if err != nil {
		return nil, nil, fmt.Errorf("manifest schema: %w", err)
	}

	entries := make([]cuboid.Materialized, 0, len(m.Entries))
	for _, info := range m.Entries {
		fn, err := schema.Parse(info.Func)
		if err != nil {
			return nil, nil, fmt.Errorf("manifest entry: %w", err)
		}
		e, err := cuboid.NewMaterialized(fn, info.Path, info.Size)
		if err != nil {
			return nil, nil, fmt.Errorf("manifest entry %s: %w", info.Func, err)
		}
		entries = append(entries, e)
	}
	k, err := Restore(entries)
	if err != nil {
		return nil, nil, err
	}
	if k.Dimensions() != schema.N() {
		return nil, nil, fmt.Errorf("%w: root has %d dimensions, manifest names %d", ErrDimensionMismatch, k.Dimensions(), schema.N())
	}
	return k, schema, nil
}

// Restore builds a keeper from a set of materialized entries, one of which
// must be the root.
func Restore(entries []cuboid.Materialized) (*Keeper, error) {
	sorted := append([]cuboid.Materialized(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Level() < sorted[j].Level() })

	if len(sorted) == 0 || !sorted[0].Func().IsRoot() {
		return nil, ErrMissingRoot
	}
	k, err := NewKeeper(sorted[0])
	if err != nil {
		return nil, err
	}
	for _, e := range sorted[1:] {
		if err := k.Add(e); err != nil {
			return nil, fmt.Errorf("restore %s: %w", e.Func(), err)
		}
	}
	return k, nil
}

// WriteManifest atomically writes the manifest to path.
func WriteManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest reads the manifest at path.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}
