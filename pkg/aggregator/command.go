package aggregator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eunmann/graph-cube/internal/logctx"
)

const (
	// maxStderr bounds the stderr tail kept for error messages.
	maxStderr = 4096
	waitDelay = 2 * time.Second
)

// CommandConfig configures an external aggregation job.
type CommandConfig struct {
	// Path is the executable.
	Path string
	// Args are passed before the generated flags.
	Args []string
	// Dimensions is passed as -n.
	Dimensions int
	// VertexDelimiter and EdgeDelimiter are passed as -vd and -ed.
	VertexDelimiter string
	EdgeDelimiter   string
	// ResultDir holds per-invocation result files. Defaults to os.TempDir().
	ResultDir string
	// Stdout and Stderr receive the job's output when set.
	Stdout io.Writer
	Stderr io.Writer
}

// Command runs an external job per aggregation:
//
//	PATH ARGS... -inp SRC -n N -vd VD -ed ED -f FUNC -oup OUT -res RESULT
//
// The job writes the output graph's size as a decimal integer to RESULT, a
// fresh file name for every invocation.
type Command struct {
	cfg CommandConfig
}

// NewCommand validates cfg.
func NewCommand(cfg CommandConfig) (*Command, error) {
	if cfg.Path == "" {
		return nil, errors.New("aggregator command path is required")
	}
	if cfg.Dimensions < 1 || cfg.Dimensions > 64 {
		return nil, fmt.Errorf("dimensions must be in [1, 64], got %d", cfg.Dimensions)
	}
	if cfg.VertexDelimiter == "" {
		cfg.VertexDelimiter = "\t"
	}
	if cfg.EdgeDelimiter == "" {
		cfg.EdgeDelimiter = " "
	}
	if cfg.ResultDir == "" {
		cfg.ResultDir = os.TempDir()
	}
	return &Command{cfg: cfg}, nil
}

func (c *Command) args(req Request, resultPath string) []string {
	args := append([]string(nil), c.cfg.Args...)
	return append(args,
		"-inp", req.Source,
		"-n", strconv.Itoa(c.cfg.Dimensions),
		"-vd", c.cfg.VertexDelimiter,
		"-ed", c.cfg.EdgeDelimiter,
		"-f", req.Target.String(),
		"-oup", req.Output,
		"-res", resultPath,
	)
}

// Aggregate runs the job and reads its result file. Cancelling ctx kills the
// job.
func (c *Command) Aggregate(ctx context.Context, req Request) (Result, error) {
	resultPath := filepath.Join(c.cfg.ResultDir, "graphcube-result-"+uuid.NewString())
	defer os.Remove(resultPath)

	args := c.args(req, resultPath)
	log := logctx.FromContext(ctx)
	log.Debug().
		Str("path", c.cfg.Path).
		Strs("args", args).
		Msg("starting aggregation job")

	cmd := exec.CommandContext(ctx, c.cfg.Path, args...)
	// Orphaned grandchildren may hold the output pipes open after a kill.
	cmd.WaitDelay = waitDelay
	cmd.Stdout = c.cfg.Stdout
	var tail tailBuffer
	if c.cfg.Stderr != nil {
		cmd.Stderr = io.MultiWriter(c.cfg.Stderr, &tail)
	} else {
		cmd.Stderr = &tail
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, Failure(req, ctx.Err())
		}
		if msg := strings.TrimSpace(tail.String()); msg != "" {
			return Result{}, Failure(req, fmt.Errorf("%w: %s", err, msg))
		}
		return Result{}, Failure(req, err)
	}

	size, err := readResult(resultPath)
	if err != nil {
		return Result{}, Failure(req, err)
	}
	return Result{Size: size}, nil
}

func readResult(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read result file: %w", err)
	}
	s := strings.TrimSpace(string(data))
	size, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse result %q: %w", s, err)
	}
	if size < 0 {
		return 0, fmt.Errorf("negative size %d", size)
	}
	return size, nil
}

// tailBuffer keeps the last maxStderr bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) > maxStderr {
		p = p[len(p)-maxStderr:]
	}
	if over := t.buf.Len() + len(p) - maxStderr; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) String() string { return t.buf.String() }
