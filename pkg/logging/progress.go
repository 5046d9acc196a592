package logging

import (
	"sync"
	"time"

	"github.com/eunmann/graph-cube/pkg/humanfmt"
	"github.com/rs/zerolog"
)

// etaWindow is how many recent step durations feed the ETA.
const etaWindow = 10

// StepTracker counts completed materialization steps against a planned
// total and estimates the time left from the most recent step durations.
// It is safe for concurrent use.
type StepTracker struct {
	total int64

	mu     sync.Mutex
	done   int64
	recent [etaWindow]time.Duration
}

// NewStepTracker returns a tracker for total planned steps.
func NewStepTracker(total int64) *StepTracker {
	return &StepTracker{total: total}
}

// Done records a finished step that took d.
func (t *StepTracker) Done(d time.Duration) {
	t.mu.Lock()
	t.recent[t.done%etaWindow] = d
	t.done++
	t.mu.Unlock()
}

// Progress returns finished and planned step counts.
func (t *StepTracker) Progress() (done, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done, t.total
}

// ETA averages the last etaWindow steps over the steps still planned.
func (t *StepTracker) ETA() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	remaining := t.total - t.done
	if t.done == 0 || remaining <= 0 {
		return 0
	}
	n := min(t.done, etaWindow)
	var sum time.Duration
	for _, d := range t.recent[:n] {
		sum += d
	}
	return sum / time.Duration(n) * time.Duration(remaining)
}

// Event is a completion log line under construction. Fields appear in the
// order they are added; nothing is written until Log.
type Event struct {
	e       *zerolog.Event
	elapsed time.Duration
}

func newEvent(log zerolog.Logger, name, phase string, elapsed time.Duration) *Event {
	e := log.Info().
		Str("event", name).
		Str("phase", phase).
		Int64("duration_ms", elapsed.Milliseconds())
	if IsPrettyMode() {
		e = e.Str("duration_h", humanfmt.Duration(elapsed))
	}
	return &Event{e: e, elapsed: elapsed}
}

// PhaseComplete starts a phase completion event.
func PhaseComplete(log zerolog.Logger, phase string, elapsed time.Duration) *Event {
	return newEvent(log, "phase_completed", phase, elapsed)
}

// CuboidMaterialized starts a cuboid completion event.
func CuboidMaterialized(log zerolog.Logger, phase string, elapsed time.Duration) *Event {
	return newEvent(log, "cuboid_materialized", phase, elapsed)
}

func (ev *Event) Str(key, val string) *Event {
	ev.e = ev.e.Str(key, val)
	return ev
}

func (ev *Event) Int(key string, val int) *Event {
	ev.e = ev.e.Int(key, val)
	return ev
}

// Count adds n, with a human-readable companion in pretty mode.
func (ev *Event) Count(key string, n int64) *Event {
	ev.e = ev.e.Int64(key, n)
	if IsPrettyMode() {
		ev.e = ev.e.Str(key+"_h", humanfmt.Count(n))
	}
	return ev
}

// Steps adds the tracker's progress and ETA.
func (ev *Event) Steps(t *StepTracker) *Event {
	done, total := t.Progress()
	ev.e = ev.e.Int64("done", done).Int64("total", total)
	if total > 0 {
		ev.e = ev.e.Float64("progress_pct", float64(done)*100/float64(total))
	}
	if eta := t.ETA(); eta > 0 {
		ev.e = ev.e.Int64("eta_ms", eta.Milliseconds())
		if IsPrettyMode() {
			ev.e = ev.e.Str("eta_h", humanfmt.Duration(eta))
		}
	}
	return ev
}

// Rate adds n per second of the event's elapsed time.
func (ev *Event) Rate(key string, n int64) *Event {
	if ev.elapsed <= 0 {
		return ev
	}
	ev.e = ev.e.Float64(key, float64(n)/ev.elapsed.Seconds())
	if IsPrettyMode() {
		ev.e = ev.e.Str(key+"_h", humanfmt.Rate(n, ev.elapsed))
	}
	return ev
}

// Log writes the event.
func (ev *Event) Log(msg string) {
	ev.e.Msg(msg)
}

// StepStarted logs the start of a materialization step.
func StepStarted(log zerolog.Logger, phase, source, target string, done, total int64) {
	log.Info().
		Str("event", "step_started").
		Str("phase", phase).
		Str("source", source).
		Str("target", target).
		Int64("steps_complete", done).
		Int64("steps_total", total).
		Msg("computing aggregated network")
}
