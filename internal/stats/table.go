// Package stats aggregates per-sink attack and timing statistics for the
// whole process and flushes them to the decision engine on a request
// cadence.
package stats

import (
	"sort"
	"sync"
	"time"
)

// Pseudo-sinks holding per-request timing totals.
const (
	RequestTotal         = "request_total"
	RequestTotalOverhead = "request_total_overhead"
)

// SinkStats holds the counters of one intercepted operation name.
type SinkStats struct {
	Kind                  string
	AttacksDetected       int
	AttacksBlocked        int
	InterceptorThrewError int
	WithoutContext        int
	Timings               []time.Duration
}

// Empty reports whether nothing has been recorded.
func (s SinkStats) Empty() bool {
	return s.AttacksDetected == 0 && s.AttacksBlocked == 0 &&
		s.InterceptorThrewError == 0 && s.WithoutContext == 0 && len(s.Timings) == 0
}

// Table is the process-wide statistics table. Safe for concurrent use.
type Table struct {
	mu      sync.Mutex
	sinks   map[string]*SinkStats
	metrics *Metrics
}

// NewTable creates an empty table. metrics may be nil.
func NewTable(metrics *Metrics) *Table {
	return &Table{
		sinks:   make(map[string]*SinkStats),
		metrics: metrics,
	}
}

func (t *Table) entry(sink, kind string) *SinkStats {
	s, ok := t.sinks[sink]
	if !ok {
		s = &SinkStats{Kind: kind}
		t.sinks[sink] = s
	}
	return s
}

// Detected counts a non-empty engine reply for sink.
func (t *Table) Detected(sink, kind string) {
	t.mu.Lock()
	t.entry(sink, kind).AttacksDetected++
	t.mu.Unlock()
	t.metrics.detected(sink, kind)
}

// Blocked counts a blocking verdict for sink.
func (t *Table) Blocked(sink, kind string) {
	t.mu.Lock()
	t.entry(sink, kind).AttacksBlocked++
	t.mu.Unlock()
	t.metrics.blocked(sink, kind)
}

// Errored counts a handler failure for sink.
func (t *Table) Errored(sink, kind string) {
	t.mu.Lock()
	t.entry(sink, kind).InterceptorThrewError++
	t.mu.Unlock()
	t.metrics.errored(sink, kind)
}

// WithoutContext counts an interception outside any initialized request.
func (t *Table) WithoutContext(sink, kind string) {
	t.mu.Lock()
	t.entry(sink, kind).WithoutContext++
	t.mu.Unlock()
	t.metrics.withoutContext(sink, kind)
}

// AddTiming appends one timing sample for sink.
func (t *Table) AddTiming(sink, kind string, d time.Duration) {
	t.mu.Lock()
	e := t.entry(sink, kind)
	e.Timings = append(e.Timings, d)
	t.mu.Unlock()
	t.metrics.observe(sink, kind, d)
}

// Get returns a copy of the counters for sink.
func (t *Table) Get(sink string) (SinkStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sinks[sink]
	if !ok {
		return SinkStats{}, false
	}
	return copyStats(s), true
}

// Sinks returns the recorded sink names in sorted order.
func (t *Table) Sinks() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.sinks))
	for name := range t.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Drain returns every sink's counters and clears the table.
func (t *Table) Drain() map[string]SinkStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]SinkStats, len(t.sinks))
	for name, s := range t.sinks {
		out[name] = copyStats(s)
	}
	t.sinks = make(map[string]*SinkStats)
	return out
}

func copyStats(s *SinkStats) SinkStats {
	c := *s
	if s.Timings != nil {
		c.Timings = append([]time.Duration(nil), s.Timings...)
	}
	return c
}

// Timer measures one span and records it on Stop.
type Timer struct {
	table *Table
	sink  string
	kind  string
	start time.Time
	done  bool
}

// Start begins a timer for sink.
func (t *Table) Start(sink, kind string) *Timer {
	return &Timer{table: t, sink: sink, kind: kind, start: time.Now()}
}

// Stop records the elapsed time. Only the first call records.
func (tm *Timer) Stop() time.Duration {
	d := time.Since(tm.start)
	if tm.done {
		return d
	}
	tm.done = true
	tm.table.AddTiming(tm.sink, tm.kind, d)
	return d
}
