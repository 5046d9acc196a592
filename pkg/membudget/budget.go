// Package membudget bounds the memory held by concurrent in-process
// aggregations.
//
// Callers reserve an estimate before loading a graph and release it when the
// aggregated graph has been written.
package membudget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/eunmann/graph-cube/pkg/sysmem"
)

// DefaultFraction is the share of physical memory used when no explicit
// budget is configured.
const DefaultFraction = 0.5

// Source records how the budget total was chosen.
type Source string

const (
	SourceAuto    Source = "auto"
	SourceDefault Source = "default"
	SourceConfig  Source = "config"
)

// ErrEmptySize is returned by ParseHumanSize for blank input.
var ErrEmptySize = errors.New("empty size string")

// Budget is a counting semaphore over bytes. It is safe for concurrent use.
type Budget struct {
	total  uint64
	source Source

	mu    sync.Mutex
	inUse uint64
	// wake is closed and replaced on every Release.
	wake chan struct{}
}

// New returns a budget of total bytes.
func New(total uint64, source Source) *Budget {
	return &Budget{
		total:  total,
		source: source,
		wake:   make(chan struct{}),
	}
}

// NewFromSystemRAM returns a budget of frac of physical memory.
func NewFromSystemRAM(frac float64) *Budget {
	r := sysmem.Total()
	src := SourceAuto
	if !r.Reliable {
		src = SourceDefault
	}
	return New(sysmem.Fraction(frac), src)
}

func (b *Budget) Total() uint64  { return b.total }
func (b *Budget) Source() Source { return b.source }

// InUse returns the reserved byte count.
func (b *Budget) InUse() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inUse
}

// Available returns the unreserved byte count.
func (b *Budget) Available() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total - b.inUse
}

// Clamp caps a request at the budget total so oversized work can still run
// alone.
func (b *Budget) Clamp(n uint64) uint64 {
	if n > b.total {
		return b.total
	}
	return n
}

// TryReserve reserves n bytes if they are free.
func (b *Budget) TryReserve(n uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inUse+n > b.total {
		return false
	}
	b.inUse += n
	return true
}

// Reserve blocks until n bytes are free or ctx is done.
func (b *Budget) Reserve(ctx context.Context, n uint64) error {
	if n > b.total {
		return fmt.Errorf("reservation of %d bytes exceeds budget of %d bytes", n, b.total)
	}
	for {
		b.mu.Lock()
		if b.inUse+n <= b.total {
			b.inUse += n
			b.mu.Unlock()
			return nil
		}
		wake := b.wake
		b.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release returns n bytes. Over-release is capped at zero.
func (b *Budget) Release(n uint64) {
	b.mu.Lock()
	if n > b.inUse {
		n = b.inUse
	}
	b.inUse -= n
	close(b.wake)
	b.wake = make(chan struct{})
	b.mu.Unlock()
}

// ParseHumanSize parses sizes such as "512MB", "4GiB" or "2G".
func ParseHumanSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrEmptySize
	}

	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}
	num, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %q", s[:i])
	}

	var mult float64
	switch strings.TrimSpace(s[i:]) {
	case "", "B":
		mult = 1
	case "KB":
		mult = 1e3
	case "KiB", "K":
		mult = 1 << 10
	case "MB":
		mult = 1e6
	case "MiB", "M":
		mult = 1 << 20
	case "GB":
		mult = 1e9
	case "GiB", "G":
		mult = 1 << 30
	case "TB":
		mult = 1e12
	case "TiB", "T":
		mult = 1 << 40
	default:
		return 0, fmt.Errorf("unknown size suffix: %q", s[i:])
	}
	return uint64(num * mult), nil
}
