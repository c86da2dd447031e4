package obs

import (
	"testing"
	"time"
)

func TestMetricsSnapshotOmitsZeroCounters(t *testing.T) {
	m := NewMetrics()
	m.Inc(CounterRouted)
	m.Inc(CounterRouted)
	m.Add(CounterDroppedStale, 3)

	snap := m.Snapshot()
	if snap.Get(CounterRouted) != 2 {
		t.Fatalf("routed mismatch: got %d want 2", snap.Get(CounterRouted))
	}
	if snap.Get(CounterDroppedStale) != 3 {
		t.Fatalf("stale mismatch: got %d want 3", snap.Get(CounterDroppedStale))
	}
	if _, ok := snap.Counters[CounterOrphan]; ok {
		t.Fatalf("zero counter should be omitted: %+v", snap.Counters)
	}
}

func TestLatencyStats(t *testing.T) {
	var l LatencyStats
	l.Observe(2 * time.Millisecond)
	l.Observe(4 * time.Millisecond)
	l.Observe(-time.Millisecond)

	snap := l.Snapshot()
	if snap.Count != 2 {
		t.Fatalf("count mismatch: got %d want 2", snap.Count)
	}
	if snap.Min != 2*time.Millisecond || snap.Max != 4*time.Millisecond || snap.Avg != 3*time.Millisecond {
		t.Fatalf("latency mismatch: %+v", snap)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(CounterRouted)
	m.ObserveProcess(time.Second)
	if len(m.Snapshot().Counters) != 0 {
		t.Fatalf("nil metrics should snapshot empty")
	}
}
