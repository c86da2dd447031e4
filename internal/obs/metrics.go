package obs

import (
	"sync/atomic"
	"time"
)

// Counter names a subscription engine counter.
type Counter uint8

const (
	CounterRouted Counter = iota
	CounterDroppedUnknownItem
	CounterDroppedStale
	CounterBroadcast
	CounterEarlyRelease
	CounterActivation
	CounterDeactivation
	CounterEviction
	CounterOrphan
	CounterQueueDrop
	CounterProtocolError
	_counter_end
)

var _counterNames = [...]string{
	CounterRouted:             "routed",
	CounterDroppedUnknownItem: "dropped_unknown_item",
	CounterDroppedStale:       "dropped_stale",
	CounterBroadcast:          "broadcast",
	CounterEarlyRelease:       "early_release",
	CounterActivation:         "activation",
	CounterDeactivation:       "deactivation",
	CounterEviction:           "eviction",
	CounterOrphan:             "orphan",
	CounterQueueDrop:          "queue_drop",
	CounterProtocolError:      "protocol_error",
}

func (c Counter) String() string {
	if c >= _counter_end {
		return "unknown"
	}
	return _counterNames[c]
}

// Metrics collects lightweight counters and latency stats.
type Metrics struct {
	counters       [_counter_end]uint64
	processLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Counters       map[Counter]uint64
	ProcessLatency LatencySnapshot
}

// Get returns the value of one counter.
func (s Snapshot) Get(c Counter) uint64 {
	return s.Counters[c]
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Inc increments a counter.
func (m *Metrics) Inc(c Counter) {
	m.Add(c, 1)
}

// Add increments a counter by n.
func (m *Metrics) Add(c Counter, n uint64) {
	if m == nil || c >= _counter_end {
		return
	}
	atomic.AddUint64(&m.counters[c], n)
}

// ObserveProcess measures one Process tick.
func (m *Metrics) ObserveProcess(d time.Duration) {
	if m == nil {
		return
	}
	m.processLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	counters := make(map[Counter]uint64)
	for i := range m.counters {
		if v := atomic.LoadUint64(&m.counters[i]); v > 0 {
			counters[Counter(i)] = v
		}
	}
	return Snapshot{
		Counters:       counters,
		ProcessLatency: m.processLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
