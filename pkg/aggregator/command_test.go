package aggregator

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eunmann/graph-cube/internal/logctx"
	"github.com/eunmann/graph-cube/pkg/cube"
)

// shellJob returns a config running script under /bin/sh with the generated
// flags as positional parameters.
func shellJob(t *testing.T, script string) CommandConfig {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	return CommandConfig{
		Path:       "sh",
		Args:       []string{"-c", script, "job"},
		Dimensions: 3,
		ResultDir:  t.TempDir(),
	}
}

// writeSize echoes a value for -res and records the full argument list.
const writeSize = `
out=""; res=""
while [ $# -gt 0 ]; do
  case "$1" in
    -oup) out="$2"; shift ;;
    -res) res="$2"; shift ;;
  esac
  shift
done
echo "$SIZE" > "$res"
`

func TestCommandReportsSize(t *testing.T) {
	cfg := shellJob(t, writeSize)
	t.Setenv("SIZE", "400")
	c, err := NewCommand(cfg)
	if err != nil {
		t.Fatal(err)
	}

	res, err := c.Aggregate(context.Background(), Request{
		Source: "/data/g",
		Target: cube.FromMask(0b001, 3),
		Output: "/data/g_agg_0",
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Size != 400 {
		t.Errorf("Size = %d, want 400", res.Size)
	}

	left, _ := os.ReadDir(cfg.ResultDir)
	if len(left) != 0 {
		t.Errorf("result files left behind: %d", len(left))
	}
}

func TestCommandLogsThroughContext(t *testing.T) {
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	cfg := shellJob(t, writeSize)
	t.Setenv("SIZE", "7")
	c, err := NewCommand(cfg)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	ctx := logctx.WithLogger(context.Background(), zerolog.New(&buf))
	if _, err := c.Aggregate(ctx, Request{
		Source: "/data/g",
		Target: cube.FromMask(0b010, 3),
		Output: "/data/g_agg_1",
	}); err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"message":"starting aggregation job"`, `"path":"sh"`, `"/data/g_agg_1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %s: %s", want, out)
		}
	}
}

func TestCommandArgs(t *testing.T) {
	c, err := NewCommand(CommandConfig{Path: "job", Args: []string{"--spark"}, Dimensions: 3})
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Join(c.args(Request{
		Source: "/g",
		Target: cube.FromMask(0b101, 3),
		Output: "/g_agg_0_2",
	}, "/tmp/r"), "|")
	want := "--spark|-inp|/g|-n|3|-vd|\t|-ed| |-f|0,2|-oup|/g_agg_0_2|-res|/tmp/r"
	if got != want {
		t.Errorf("args = %q, want %q", got, want)
	}
}

func TestCommandFailures(t *testing.T) {
	tests := []struct {
		name   string
		script string
		size   string
		errSub string
	}{
		{"non-zero exit", "echo broken >&2; exit 3", "", "broken"},
		{"missing result", "true", "", "read result file"},
		{"garbage result", writeSize, "abc", "parse result"},
		{"negative result", writeSize, "-5", "negative size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SIZE", tt.size)
			c, err := NewCommand(shellJob(t, tt.script))
			if err != nil {
				t.Fatal(err)
			}
			_, err = c.Aggregate(context.Background(), Request{Source: "/g", Target: cube.FromMask(1, 3), Output: "/o"})
			if !errors.Is(err, ErrAggregatorFailure) {
				t.Fatalf("error = %v, want ErrAggregatorFailure", err)
			}
			if !strings.Contains(err.Error(), tt.errSub) {
				t.Errorf("error %q does not mention %q", err, tt.errSub)
			}
		})
	}
}

func TestCommandCancel(t *testing.T) {
	c, err := NewCommand(shellJob(t, "sleep 5"))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = c.Aggregate(ctx, Request{Source: "/g", Target: cube.FromMask(1, 3), Output: "/o"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("job was not killed on cancel")
	}
}

func TestCommandConcurrentResultFiles(t *testing.T) {
	// Each job echoes its own output path length, so crossed result files
	// would show up as wrong sizes.
	script := `
out=""; res=""
while [ $# -gt 0 ]; do
  case "$1" in
    -oup) out="$2"; shift ;;
    -res) res="$2"; shift ;;
  esac
  shift
done
sleep 0.05
echo "${#out}" > "$res"
`
	c, err := NewCommand(shellJob(t, script))
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out := filepath.Join("/o", strings.Repeat("x", i))
			res, err := c.Aggregate(context.Background(), Request{Source: "/g", Target: cube.FromMask(1, 3), Output: out})
			if err != nil {
				errs <- err
				return
			}
			if res.Size != int64(len(out)) {
				errs <- errors.New("result crossed between invocations")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestNewCommandValidation(t *testing.T) {
	if _, err := NewCommand(CommandConfig{Dimensions: 3}); err == nil {
		t.Error("missing path accepted")
	}
	if _, err := NewCommand(CommandConfig{Path: "x", Dimensions: 0}); err == nil {
		t.Error("zero dimensions accepted")
	}
	if _, err := NewCommand(CommandConfig{Path: "x", Dimensions: 65}); err == nil {
		t.Error("65 dimensions accepted")
	}
}

func TestTailBuffer(t *testing.T) {
	var tb tailBuffer
	tb.Write([]byte(strings.Repeat("a", maxStderr)))
	tb.Write([]byte("end"))
	s := tb.String()
	if len(s) != maxStderr || !strings.HasSuffix(s, "end") {
		t.Errorf("tail len %d, suffix %q", len(s), s[len(s)-3:])
	}
}
