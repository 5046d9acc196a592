// Package config loads graphcube settings from YAML, environment variables
// and flags, in increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/eunmann/graph-cube/pkg/cube"
	"github.com/eunmann/graph-cube/pkg/graphio"
	"github.com/eunmann/graph-cube/pkg/membudget"
	"github.com/eunmann/graph-cube/pkg/s3store"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GRAPHCUBE_"

// Aggregator kinds.
const (
	AggregatorLocal   = "local"
	AggregatorCommand = "command"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the full graphcube configuration.
type Config struct {
	Graph       GraphConfig       `yaml:"graph"`
	Materialize MaterializeConfig `yaml:"materialize"`
	Aggregator  AggregatorConfig  `yaml:"aggregator"`
	S3          S3Config          `yaml:"s3"`
	Log         LogConfig         `yaml:"log"`
	// Catalog is the lattice manifest path: .db/.sqlite for SQLite, anything
	// else for JSON. Empty keeps the lattice in memory only.
	Catalog string `yaml:"catalog"`
	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
}

// GraphConfig describes the base graph.
type GraphConfig struct {
	// Root is the base graph location, a directory or s3:// prefix.
	Root string `yaml:"root"`
	// Dimensions is n, the number of vertex dimensions.
	Dimensions int `yaml:"dimensions"`
	// Names optionally names the dimensions; its length must equal n.
	Names           []string `yaml:"names"`
	VertexDelimiter string   `yaml:"vertex_delimiter"`
	EdgeDelimiter   string   `yaml:"edge_delimiter"`
	// Format is the encoding of written cuboids: text, zstd or parquet.
	Format string `yaml:"format"`
	// Size overrides the root size. Zero counts the base graph.
	Size int64 `yaml:"size"`
}

// MaterializeConfig parameterizes precomputation.
type MaterializeConfig struct {
	MinLevel int `yaml:"min_level"`
	Limit    int `yaml:"limit"`
}

// AggregatorConfig selects how cuboids are computed.
type AggregatorConfig struct {
	// Kind is "local" or "command".
	Kind    string   `yaml:"kind"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// Memory bounds local aggregation, e.g. "4GiB". Empty uses half of RAM.
	Memory  string `yaml:"memory"`
	TempDir string `yaml:"temp_dir"`
}

// S3Config tunes S3 transfers.
type S3Config struct {
	Region      string `yaml:"region"`
	Concurrency int    `yaml:"concurrency"`
	PartSize    string `yaml:"part_size"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Debug bool `yaml:"debug"`
	Human bool `yaml:"human"`
	// Memory logs heap usage against the memory budget. Needs Debug.
	Memory bool `yaml:"memory"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Graph: GraphConfig{
			VertexDelimiter: "\t",
			EdgeDelimiter:   " ",
			Format:          string(graphio.FormatText),
		},
		Materialize: MaterializeConfig{MinLevel: 1},
		Aggregator:  AggregatorConfig{Kind: AggregatorLocal},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := Decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode unmarshals YAML into cfg, rejecting unknown keys.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from GRAPHCUBE_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("ROOT", &c.Graph.Root)
	num("DIMENSIONS", &c.Graph.Dimensions)
	if v, ok := lookup(EnvPrefix + "NAMES"); ok {
		c.Graph.Names = splitList(v)
	}
	str("FORMAT", &c.Graph.Format)
	num("MIN_LEVEL", &c.Materialize.MinLevel)
	num("LIMIT", &c.Materialize.Limit)
	str("AGGREGATOR", &c.Aggregator.Kind)
	str("AGGREGATOR_COMMAND", &c.Aggregator.Command)
	str("MEMORY", &c.Aggregator.Memory)
	str("TEMP_DIR", &c.Aggregator.TempDir)
	str("CATALOG", &c.Catalog)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("S3_REGION", &c.S3.Region)
	num("S3_CONCURRENCY", &c.S3.Concurrency)
	flag("DEBUG", &c.Log.Debug)
	flag("HUMAN", &c.Log.Human)
	flag("MEMORY_DEBUG", &c.Log.Memory)
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	n := c.Graph.Dimensions
	switch {
	case c.Graph.Root == "":
		return fmt.Errorf("%w: graph.root is required", ErrInvalid)
	case n < 1 || n > cube.MaxDimensions:
		return fmt.Errorf("%w: graph.dimensions must be in [1, %d], got %d", ErrInvalid, cube.MaxDimensions, n)
	case len(c.Graph.Names) > 0 && len(c.Graph.Names) != n:
		return fmt.Errorf("%w: %d dimension names for %d dimensions", ErrInvalid, len(c.Graph.Names), n)
	case c.Graph.Size < 0:
		return fmt.Errorf("%w: graph.size must be non-negative, got %d", ErrInvalid, c.Graph.Size)
	case c.Materialize.Limit < 0:
		return fmt.Errorf("%w: materialize.limit must be non-negative, got %d", ErrInvalid, c.Materialize.Limit)
	case c.Materialize.MinLevel < 0 || c.Materialize.MinLevel > n:
		return fmt.Errorf("%w: materialize.min_level must be in [0, %d], got %d", ErrInvalid, n, c.Materialize.MinLevel)
	case c.S3.Concurrency < 0:
		return fmt.Errorf("%w: s3.concurrency must be non-negative, got %d", ErrInvalid, c.S3.Concurrency)
	}

	if _, err := graphio.ParseFormat(c.Graph.Format); err != nil {
		return fmt.Errorf("%w: graph.format: %w", ErrInvalid, err)
	}
	if _, err := c.Schema(); err != nil {
		return fmt.Errorf("%w: graph.names: %w", ErrInvalid, err)
	}

	switch c.Aggregator.Kind {
	case AggregatorLocal:
	case AggregatorCommand:
		if c.Aggregator.Command == "" {
			return fmt.Errorf("%w: aggregator.command is required for kind %q", ErrInvalid, AggregatorCommand)
		}
	default:
		return fmt.Errorf("%w: aggregator.kind must be %q or %q, got %q", ErrInvalid, AggregatorLocal, AggregatorCommand, c.Aggregator.Kind)
	}
	if c.Aggregator.Memory != "" {
		if _, err := membudget.ParseHumanSize(c.Aggregator.Memory); err != nil {
			return fmt.Errorf("%w: aggregator.memory: %w", ErrInvalid, err)
		}
	}
	if c.S3.PartSize != "" {
		if _, err := membudget.ParseHumanSize(c.S3.PartSize); err != nil {
			return fmt.Errorf("%w: s3.part_size: %w", ErrInvalid, err)
		}
	}
	return nil
}

// Schema returns the dimension schema, named or indexed.
func (c *Config) Schema() (*cube.Schema, error) {
	if len(c.Graph.Names) > 0 {
		return cube.NewSchema(c.Graph.Names...)
	}
	return cube.IndexSchema(c.Graph.Dimensions)
}

// GraphOptions returns the graph encoding settings.
func (c *Config) GraphOptions() graphio.Options {
	format, _ := graphio.ParseFormat(c.Graph.Format)
	return graphio.Options{
		Dimensions:      c.Graph.Dimensions,
		VertexDelimiter: c.Graph.VertexDelimiter,
		EdgeDelimiter:   c.Graph.EdgeDelimiter,
		Format:          format,
	}
}

// MemoryBudget returns the configured budget or half of physical memory.
func (c *Config) MemoryBudget() (*membudget.Budget, error) {
	if c.Aggregator.Memory == "" {
		return membudget.NewFromSystemRAM(membudget.DefaultFraction), nil
	}
	n, err := membudget.ParseHumanSize(c.Aggregator.Memory)
	if err != nil {
		return nil, err
	}
	return membudget.New(n, membudget.SourceConfig), nil
}

// S3Store returns the transfer settings.
func (c *Config) S3Store() s3store.Config {
	out := s3store.Config{Region: c.S3.Region, Concurrency: c.S3.Concurrency}
	if c.S3.PartSize != "" {
		if n, err := membudget.ParseHumanSize(c.S3.PartSize); err == nil {
			out.PartSize = int64(n)
		}
	}
	return out
}
