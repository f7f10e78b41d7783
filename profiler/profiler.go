// Package profiler - stage timing for detection post-processing pipelines.
//
// A Profiler tracks named operations ("decode", "suppress", ...) with
// bounded sample windows and summarizes them as min/mean/max and
// percentiles. It is thread-safe; the pipeline records timings from worker
// goroutines and a reporter reads them whenever convenient.
package profiler

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Options configures a Profiler.
type Options struct {
	// MaxSamples bounds the per-operation sample window (default: 512).
	// Older samples fall off; totals and counts keep accumulating.
	MaxSamples int
}

// Profiler collects operation timings.
type Profiler struct {
	mu         sync.Mutex
	maxSamples int
	startTime  time.Time
	ops        map[string]*tracker
}

// tracker accumulates one operation's timing statistics.
type tracker struct {
	samples []time.Duration
	total   time.Duration
	min     time.Duration
	max     time.Duration
	count   int64
}

// OperationStats is a point-in-time summary of one tracked operation.
type OperationStats struct {
	Name  string        `json:"name"`
	Count int64         `json:"count"`
	Total time.Duration `json:"total"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
}

// New creates a profiler with the given options.
func New(opts Options) *Profiler {
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 512
	}
	return &Profiler{
		maxSamples: opts.MaxSamples,
		startTime:  time.Now(),
		ops:        make(map[string]*tracker),
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The operation to track.
//
// Returns:
//   - A function to call when the operation completes.
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.record(name, time.Since(start))
	}
}

func (p *Profiler) record(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.ops[name]
	if !ok {
		t = &tracker{min: d, max: d}
		p.ops[name] = t
	}

	t.samples = append(t.samples, d)
	if len(t.samples) > p.maxSamples {
		t.samples = t.samples[1:]
	}
	t.total += d
	t.count++
	if d < t.min {
		t.min = d
	}
	if d > t.max {
		t.max = d
	}
}

// Stats returns the summary for one operation and whether it was tracked.
func (p *Profiler) Stats(name string) (OperationStats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.ops[name]
	if !ok {
		return OperationStats{}, false
	}
	return t.summarize(name), true
}

// AllStats returns summaries for every tracked operation, sorted by name.
func (p *Profiler) AllStats() []OperationStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]OperationStats, 0, len(p.ops))
	for name, t := range p.ops {
		out = append(out, t.summarize(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset drops all tracked operations and restarts the uptime clock.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ops = make(map[string]*tracker)
	p.startTime = time.Now()
}

// Uptime reports how long the profiler has been collecting.
func (p *Profiler) Uptime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.startTime)
}

// String renders a fixed-width report of every tracked operation.
func (p *Profiler) String() string {
	stats := p.AllStats()

	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %8s %12s %12s %12s %12s %12s\n",
		"operation", "count", "mean", "p50", "p95", "min", "max")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-12s %8d %12v %12v %12v %12v %12v\n",
			s.Name, s.Count, s.Mean, s.P50, s.P95, s.Min, s.Max)
	}
	return b.String()
}

func (t *tracker) summarize(name string) OperationStats {
	s := OperationStats{
		Name:  name,
		Count: t.count,
		Total: t.total,
		Min:   t.min,
		Max:   t.max,
	}
	if t.count > 0 {
		s.Mean = time.Duration(int64(t.total) / t.count)
	}
	if len(t.samples) > 0 {
		sorted := append([]time.Duration(nil), t.samples...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		s.P50 = percentile(sorted, 0.50)
		s.P95 = percentile(sorted, 0.95)
	}
	return s
}

// percentile reads the q-quantile from an ascending sample window.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}
