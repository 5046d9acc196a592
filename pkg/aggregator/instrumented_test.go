package aggregator

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/eunmann/graph-cube/pkg/cube"
)

func TestInstrumented(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	fail := false
	inner := Func(func(context.Context, Request) (Result, error) {
		if fail {
			return Result{}, errors.New("boom")
		}
		return Result{Size: 42}, nil
	})
	a := Instrument(inner, m)
	req := Request{Source: "/g", Target: cube.FromMask(1, 2), Output: "/o"}

	for range 3 {
		if _, err := a.Aggregate(context.Background(), req); err != nil {
			t.Fatal(err)
		}
	}
	fail = true
	if _, err := a.Aggregate(context.Background(), req); err == nil {
		t.Fatal("error swallowed")
	}

	if got := testutil.ToFloat64(m.total.WithLabelValues("ok")); got != 3 {
		t.Errorf("ok = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.total.WithLabelValues("error")); got != 1 {
		t.Errorf("error = %v, want 1", got)
	}
	if n, err := testutil.GatherAndCount(reg, "graphcube_aggregation_duration_seconds"); err != nil || n != 1 {
		t.Errorf("duration series = %d, %v", n, err)
	}
}

func TestNewMetricsUnregistered(t *testing.T) {
	m := NewMetrics(nil)
	Instrument(Func(func(context.Context, Request) (Result, error) {
		return Result{Size: 1}, nil
	}), m).Aggregate(context.Background(), Request{})
	if got := testutil.ToFloat64(m.total.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok = %v, want 1", got)
	}
}
