// Package memdiag logs Go heap usage next to the aggregation memory budget,
// to check that budget estimates track what rollups actually allocate.
package memdiag

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/eunmann/graph-cube/pkg/humanfmt"
	"github.com/eunmann/graph-cube/pkg/logging"
)

// DefaultInterval is the periodic logging interval.
const DefaultInterval = 5 * time.Second

// divergenceWarn is the heap/budget ratio above which a warning is logged.
const divergenceWarn = 2.0

// minWarnBytes suppresses warnings for small reservations.
const minWarnBytes = 100 << 20

// Stats is a subset of runtime.MemStats.
type Stats struct {
	HeapAlloc  uint64
	HeapSys    uint64
	HeapInuse  uint64
	StackInuse uint64
	Sys        uint64
	NumGC      uint32
}

// Read returns current memory statistics.
func Read() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Stats{
		HeapAlloc:  m.HeapAlloc,
		HeapSys:    m.HeapSys,
		HeapInuse:  m.HeapInuse,
		StackInuse: m.StackInuse,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

// Tracker records peak heap and logs memory stats at debug level. A nil
// *Tracker is valid and does nothing.
type Tracker struct {
	interval time.Duration
	log      zerolog.Logger

	started atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu       sync.Mutex
	peakHeap uint64
}

// NewTracker returns a tracker that logs every interval once started.
// A non-positive interval uses DefaultInterval.
func NewTracker(interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{
		interval: interval,
		log:      logging.WithPhase("memory"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins periodic logging. Repeated calls are no-ops.
func (t *Tracker) Start() {
	if t == nil || !t.started.CompareAndSwap(false, true) {
		return
	}
	go t.loop()
}

// Stop ends periodic logging and waits for the final sample.
func (t *Tracker) Stop() {
	if t == nil || !t.started.Load() {
		return
	}
	close(t.stopCh)
	<-t.doneCh
}

func (t *Tracker) loop() {
	defer close(t.doneCh)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			t.LogNow("shutdown")
			return
		case <-ticker.C:
			t.LogNow("periodic")
		}
	}
}

func (t *Tracker) sample() (Stats, uint64) {
	s := Read()
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.HeapAlloc > t.peakHeap {
		t.peakHeap = s.HeapAlloc
	}
	return s, t.peakHeap
}

// LogNow logs current memory stats.
func (t *Tracker) LogNow(reason string) {
	if t == nil {
		return
	}
	s, peak := t.sample()
	t.log.Debug().
		Str("reason", reason).
		Str("heap_alloc", humanfmt.Bytes(int64(s.HeapAlloc))).
		Str("heap_inuse", humanfmt.Bytes(int64(s.HeapInuse))).
		Str("stack_inuse", humanfmt.Bytes(int64(s.StackInuse))).
		Str("sys_total", humanfmt.Bytes(int64(s.Sys))).
		Str("peak_heap", humanfmt.Bytes(int64(peak))).
		Uint32("num_gc", s.NumGC).
		Msg("memory stats")
}

// LogWithBudget logs memory stats against the budget reservation and warns
// when the heap greatly exceeds it.
func (t *Tracker) LogWithBudget(reason string, budgetInUse, budgetTotal uint64) {
	if t == nil {
		return
	}
	s, peak := t.sample()

	var ratio float64
	if budgetInUse > 0 {
		ratio = float64(s.HeapAlloc) / float64(budgetInUse)
	}
	t.log.Debug().
		Str("reason", reason).
		Str("heap_alloc", humanfmt.Bytes(int64(s.HeapAlloc))).
		Str("budget_inuse", humanfmt.Bytes(int64(budgetInUse))).
		Str("budget_total", humanfmt.Bytes(int64(budgetTotal))).
		Float64("heap_vs_budget_ratio", ratio).
		Str("peak_heap", humanfmt.Bytes(int64(peak))).
		Msg("memory stats with budget")

	if ratio > divergenceWarn && budgetInUse > minWarnBytes {
		t.log.Warn().
			Str("heap_alloc", humanfmt.Bytes(int64(s.HeapAlloc))).
			Str("budget_inuse", humanfmt.Bytes(int64(budgetInUse))).
			Float64("ratio", ratio).
			Msg("heap usage exceeds memory budget estimate, raise the memory factor")
	}
}

// PeakHeap returns the largest heap allocation sampled.
func (t *Tracker) PeakHeap() uint64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peakHeap
}
