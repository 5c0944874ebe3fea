package stats

import (
	"context"
	"sort"
	"sync"
)

const (
	// DefaultInterval is the number of requests between flushes.
	DefaultInterval = 10000
	// MinInterval is the smallest accepted flush interval.
	MinInterval = 50
)

// ClampInterval raises n to MinInterval.
func ClampInterval(n int) int {
	if n < MinInterval {
		return MinInterval
	}
	return n
}

// Reporter receives one sink's counters per call.
type Reporter interface {
	ReportStats(ctx context.Context, sink string, s SinkStats) error
}

// Flusher counts requests and drains the table to a Reporter every
// interval requests.
type Flusher struct {
	mu       sync.Mutex
	table    *Table
	interval uint64
	requests uint64
	flushes  uint64
}

// NewFlusher creates a flusher over table. interval is clamped.
func NewFlusher(table *Table, interval int) *Flusher {
	return &Flusher{table: table, interval: uint64(ClampInterval(interval))}
}

// Interval returns the effective flush interval.
func (f *Flusher) Interval() int { return int(f.interval) }

// Requests returns the number of requests counted so far.
func (f *Flusher) Requests() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

// OnRequest counts one request and flushes when the count reaches a
// multiple of the interval. It reports whether a flush happened.
func (f *Flusher) OnRequest(ctx context.Context, r Reporter) (bool, error) {
	f.mu.Lock()
	f.requests++
	due := f.requests%f.interval == 0
	f.mu.Unlock()
	if !due {
		return false, nil
	}
	return true, f.Flush(ctx, r)
}

// Flush drains the table and reports every non-empty sink in name
// order. The table is cleared even when reporting fails.
func (f *Flusher) Flush(ctx context.Context, r Reporter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	f.table.metrics.flushed()

	drained := f.table.Drain()
	names := make([]string, 0, len(drained))
	for name := range drained {
		names = append(names, name)
	}
	sort.Strings(names)

	var firstErr error
	for _, name := range names {
		s := drained[name]
		if s.Empty() {
			continue
		}
		if err := r.ReportStats(ctx, name, s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
