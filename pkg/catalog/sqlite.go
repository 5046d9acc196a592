package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/eunmann/graph-cube/pkg/cube"
	"github.com/eunmann/graph-cube/pkg/cuboid"
	"github.com/eunmann/graph-cube/pkg/lattice"
	"github.com/eunmann/graph-cube/pkg/logging"
)

const (
	metaDimensions = "dimensions"
	metaRootPath   = "root_location"
	metaRootSize   = "root_size"
	metaVersion    = "version"
)

// SQLiteConfig configures a SQLite catalog.
type SQLiteConfig struct {
	// DBPath is the database file.
	DBPath string
	// Synchronous is the SQLite synchronous pragma: OFF, NORMAL or FULL.
	Synchronous string
	// BusyTimeout bounds waits on a locked database.
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns NORMAL sync with a 5s busy timeout.
func DefaultSQLiteConfig(dbPath string) SQLiteConfig {
	return SQLiteConfig{
		DBPath:      dbPath,
		Synchronous: "NORMAL",
		BusyTimeout: 5 * time.Second,
	}
}

// Validate checks configuration values.
func (c *SQLiteConfig) Validate() error {
	if c.DBPath == "" {
		return errors.New("DBPath is required")
	}
	switch c.Synchronous {
	case "", "OFF", "NORMAL", "FULL":
	default:
		return fmt.Errorf("invalid Synchronous value %q: must be OFF, NORMAL, or FULL", c.Synchronous)
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("BusyTimeout must be non-negative, got %s", c.BusyTimeout)
	}
	return nil
}

// SQLiteCatalog stores one row per cuboid in a SQLite database.
type SQLiteCatalog struct {
	db  *sql.DB
	cfg SQLiteConfig

	// n is the dimension count once Init or Load has run.
	n     int
	ready bool
}

// OpenSQLite creates or opens the catalog database.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteCatalog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Synchronous == "" {
		cfg.Synchronous = "NORMAL"
	}

	log := logging.WithPhase("catalog_open")

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection keeps PRAGMAs and the write path consistent.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA synchronous=%s", cfg.Synchronous),
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds()),
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute pragma %q: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	log.Debug().
		Str("db_path", cfg.DBPath).
		Str("synchronous", cfg.Synchronous).
		Msg("opened SQLite catalog")

	return &SQLiteCatalog{db: db, cfg: cfg}, nil
}

func createSchema(db *sql.DB) error {
	stmts := []string{`
		CREATE TABLE IF NOT EXISTS cuboids (
			func TEXT PRIMARY KEY,
			mask INTEGER NOT NULL,
			level INTEGER NOT NULL,
			path TEXT NOT NULL,
			size INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`, `
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func readMeta(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT key, value FROM meta")
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan meta: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func parseMeta(meta map[string]string) (names []string, rootPath string, rootSize int64, err error) {
	if v := meta[metaVersion]; v != strconv.Itoa(lattice.ManifestVersion) {
		return nil, "", 0, fmt.Errorf("%w: %q", lattice.ErrVersionMismatch, v)
	}
	rootSize, err = strconv.ParseInt(meta[metaRootSize], 10, 64)
	if err != nil {
		return nil, "", 0, fmt.Errorf("bad root size %q: %w", meta[metaRootSize], err)
	}
	if d := meta[metaDimensions]; d != "" {
		names = strings.Split(d, ",")
	}
	return names, meta[metaRootPath], rootSize, nil
}

// Load implements Catalog.
func (c *SQLiteCatalog) Load(ctx context.Context) (*lattice.Keeper, *cube.Schema, error) {
	meta, err := readMeta(ctx, c.db)
	if err != nil {
		return nil, nil, err
	}
	if len(meta) == 0 {
		return nil, nil, ErrNoCatalog
	}
	names, _, _, err := parseMeta(meta)
	if err != nil {
		return nil, nil, err
	}
	schema, err := cube.NewSchema(names...)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog schema: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, "SELECT mask, path, size FROM cuboids ORDER BY level, mask")
	if err != nil {
		return nil, nil, fmt.Errorf("read cuboids: %w", err)
	}
	defer rows.Close()

	var entries []cuboid.Materialized
	for rows.Next() {
		var (
			mask int64
			path string
			size int64
		)
		if err := rows.Scan(&mask, &path, &size); err != nil {
			return nil, nil, fmt.Errorf("scan cuboid: %w", err)
		}
		e, err := cuboid.NewMaterialized(cube.FromMask(uint64(mask), schema.N()), path, size)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate cuboids: %w", err)
	}

	k, err := lattice.Restore(entries)
	if err != nil {
		return nil, nil, err
	}
	c.n, c.ready = schema.N(), true
	return k, schema, nil
}

// Init implements Catalog.
func (c *SQLiteCatalog) Init(ctx context.Context, schema *cube.Schema, root cuboid.Materialized) error {
	if err := checkRoot(schema, root); err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	meta, err := readMeta(ctx, tx)
	if err != nil {
		return err
	}
	if len(meta) > 0 {
		names, rootPath, rootSize, err := parseMeta(meta)
		if err != nil {
			return err
		}
		if err := checkMatch(names, rootPath, rootSize, schema, root); err != nil {
			return err
		}
		c.n, c.ready = schema.N(), true
		return nil
	}

	kv := [][2]string{
		{metaVersion, strconv.Itoa(lattice.ManifestVersion)},
		{metaDimensions, strings.Join(schema.Names(), ",")},
		{metaRootPath, root.Path()},
		{metaRootSize, strconv.FormatInt(root.Size(), 10)},
	}
	for _, p := range kv {
		if _, err := tx.ExecContext(ctx, "INSERT INTO meta (key, value) VALUES (?, ?)", p[0], p[1]); err != nil {
			return fmt.Errorf("write meta %s: %w", p[0], err)
		}
	}
	if err := insertCuboid(ctx, tx, root); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	c.n, c.ready = schema.N(), true
	return nil
}

func insertCuboid(ctx context.Context, tx *sql.Tx, e cuboid.Materialized) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO cuboids (func, mask, level, path, size, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		e.Func().String(), int64(e.Func().Mask()), e.Level(), e.Path(), e.Size(),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return fmt.Errorf("%w: %s", lattice.ErrDuplicateEntry, e.Func())
	}
	if err != nil {
		return fmt.Errorf("insert cuboid %s: %w", e.Func(), err)
	}
	return nil
}

// Record implements Catalog.
func (c *SQLiteCatalog) Record(ctx context.Context, e cuboid.Materialized) error {
	if !c.ready {
		return ErrNotInitialized
	}
	if e.Func().Dimensions() != c.n {
		return fmt.Errorf("%w: %s", lattice.ErrDimensionMismatch, e.Func())
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertCuboid(ctx, tx, e); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close implements Catalog.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

var _ Catalog = (*SQLiteCatalog)(nil)
