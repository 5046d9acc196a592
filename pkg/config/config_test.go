package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eunmann/graph-cube/pkg/graphio"
	"github.com/eunmann/graph-cube/pkg/membudget"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func validConfig() Config {
	cfg := Default()
	cfg.Graph.Root = "/data/g"
	cfg.Graph.Dimensions = 3
	return cfg
}

func TestDecode(t *testing.T) {
	data := []byte(`
graph:
  root: s3://bucket/graphs/people
  dimensions: 3
  names: [country, gender, age]
  format: zstd
materialize:
  min_level: 2
  limit: 5
aggregator:
  kind: command
  command: /usr/local/bin/aggregate
  args: ["-threads", "4"]
catalog: /var/lib/graphcube/lattice.db
s3:
  region: eu-west-1
  part_size: 8MiB
log:
  human: true
`)
	cfg := Default()
	if err := Decode(data, &cfg); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Graph.VertexDelimiter != "\t" {
		t.Errorf("VertexDelimiter = %q, want default tab", cfg.Graph.VertexDelimiter)
	}
	if cfg.Materialize.MinLevel != 2 || cfg.Materialize.Limit != 5 {
		t.Errorf("Materialize = %+v", cfg.Materialize)
	}
	if len(cfg.Aggregator.Args) != 2 {
		t.Errorf("Args = %v", cfg.Aggregator.Args)
	}
	if got := cfg.S3Store().PartSize; got != 8<<20 {
		t.Errorf("PartSize = %d, want %d", got, 8<<20)
	}

	s, err := cfg.Schema()
	if err != nil {
		t.Fatalf("Schema: %v", err)
	}
	if s.Name(2) != "age" {
		t.Errorf("Name(2) = %q", s.Name(2))
	}
	if opts := cfg.GraphOptions(); opts.Format != graphio.FormatZstd || opts.Dimensions != 3 {
		t.Errorf("GraphOptions = %+v", opts)
	}
}

func TestDecodeEmptyAndUnknown(t *testing.T) {
	cfg := Default()
	if err := Decode(nil, &cfg); err != nil {
		t.Errorf("Decode(empty) = %v", err)
	}
	if err := Decode([]byte("graph:\n  rooot: x\n"), &cfg); err == nil {
		t.Error("Decode accepted unknown key")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphcube.yaml")
	if err := os.WriteFile(path, []byte("graph:\n  root: /g\n  dimensions: 4\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GRAPHCUBE_LIMIT", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Graph.Dimensions != 4 || cfg.Materialize.Limit != 7 {
		t.Errorf("cfg = %+v", cfg)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) error = %v, want ErrNotExist", err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := validConfig()
	err := cfg.ApplyEnv(env(map[string]string{
		"GRAPHCUBE_ROOT":       "/other",
		"GRAPHCUBE_NAMES":      "a, b ,c",
		"GRAPHCUBE_MIN_LEVEL":  "3",
		"GRAPHCUBE_AGGREGATOR": "command",
		"GRAPHCUBE_DEBUG":      "true",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Graph.Root != "/other" || cfg.Materialize.MinLevel != 3 || !cfg.Log.Debug {
		t.Errorf("cfg = %+v", cfg)
	}
	if strings.Join(cfg.Graph.Names, "|") != "a|b|c" {
		t.Errorf("Names = %q", cfg.Graph.Names)
	}
	if cfg.Aggregator.Kind != AggregatorCommand {
		t.Errorf("Kind = %q", cfg.Aggregator.Kind)
	}
}

func TestApplyEnvBadValues(t *testing.T) {
	cfg := validConfig()
	err := cfg.ApplyEnv(env(map[string]string{
		"GRAPHCUBE_LIMIT": "many",
		"GRAPHCUBE_HUMAN": "sometimes",
	}))
	if err == nil {
		t.Fatal("ApplyEnv accepted bad values")
	}
	for _, want := range []string{"GRAPHCUBE_LIMIT", "GRAPHCUBE_HUMAN"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
	if cfg.Materialize.Limit != 0 {
		t.Errorf("Limit changed to %d", cfg.Materialize.Limit)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing root", func(c *Config) { c.Graph.Root = "" }, "graph.root"},
		{"zero dimensions", func(c *Config) { c.Graph.Dimensions = 0 }, "graph.dimensions"},
		{"too many dimensions", func(c *Config) { c.Graph.Dimensions = 65 }, "graph.dimensions"},
		{"name count", func(c *Config) { c.Graph.Names = []string{"a"} }, "dimension names"},
		{"duplicate names", func(c *Config) { c.Graph.Names = []string{"a", "b", "a"} }, "graph.names"},
		{"negative size", func(c *Config) { c.Graph.Size = -1 }, "graph.size"},
		{"negative limit", func(c *Config) { c.Materialize.Limit = -1 }, "materialize.limit"},
		{"min level above n", func(c *Config) { c.Materialize.MinLevel = 4 }, "materialize.min_level"},
		{"negative min level", func(c *Config) { c.Materialize.MinLevel = -1 }, "materialize.min_level"},
		{"bad format", func(c *Config) { c.Graph.Format = "csv" }, "graph.format"},
		{"bad kind", func(c *Config) { c.Aggregator.Kind = "spark" }, "aggregator.kind"},
		{"command without path", func(c *Config) { c.Aggregator.Kind = AggregatorCommand }, "aggregator.command"},
		{"bad memory", func(c *Config) { c.Aggregator.Memory = "lots" }, "aggregator.memory"},
		{"bad part size", func(c *Config) { c.S3.PartSize = "8XB" }, "s3.part_size"},
		{"negative concurrency", func(c *Config) { c.S3.Concurrency = -2 }, "s3.concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate error = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate error = %q, want mention of %q", err, tt.want)
			}
		})
	}

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate(valid) = %v", err)
	}
}

func TestMemoryBudget(t *testing.T) {
	cfg := validConfig()
	cfg.Aggregator.Memory = "2GiB"
	b, err := cfg.MemoryBudget()
	if err != nil {
		t.Fatalf("MemoryBudget: %v", err)
	}
	if b.Total() != 2<<30 || b.Source() != membudget.SourceConfig {
		t.Errorf("budget = %d (%s)", b.Total(), b.Source())
	}

	cfg.Aggregator.Memory = ""
	if b, err = cfg.MemoryBudget(); err != nil || b.Total() == 0 {
		t.Errorf("auto budget = %v, %v", b, err)
	}
}

func TestIndexSchemaWithoutNames(t *testing.T) {
	cfg := validConfig()
	s, err := cfg.Schema()
	if err != nil {
		t.Fatal(err)
	}
	f, err := s.Parse("0,2")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Level() != 2 {
		t.Errorf("Level = %d", f.Level())
	}
}
