package benchmark

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-yolo/postprocess"
	"github.com/nvr-ai/go-yolo/profiler"
)

// Suite manages and executes benchmark scenarios against one processor
// configuration.
type Suite struct {
	processor *postprocess.Processor
	options   postprocess.Options
	eval      postprocess.EvalOptions
	prof      *profiler.Profiler

	mu        sync.RWMutex
	scenarios []Scenario
	results   []PerformanceMetrics
}

// NewSuiteArgs represents the arguments for creating a benchmark suite.
type NewSuiteArgs struct {
	// Options configures the processor under test. A nil anchor table
	// selects the COCO defaults.
	Options postprocess.Options
	// Eval holds the thresholds applied on every iteration.
	Eval postprocess.EvalOptions `json:"eval" yaml:"eval"`
}

// NewSuite creates a benchmark suite.
//
// Arguments:
//   - args: The processor configuration and evaluation thresholds.
//
// Returns:
//   - The suite, or the processor's configuration error.
func NewSuite(args NewSuiteArgs) (*Suite, error) {
	opts := args.Options
	if opts.Anchors == nil {
		defaults := postprocess.COCODefaults()
		defaults.Workers = opts.Workers
		opts = defaults
	}

	prof := profiler.New(profiler.Options{})
	opts.Profiler = prof

	proc, err := postprocess.NewProcessor(opts)
	if err != nil {
		return nil, errors.Wrap(err, "building processor")
	}

	return &Suite{
		processor: proc,
		options:   opts,
		eval:      args.Eval,
		prof:      prof,
		scenarios: make([]Scenario, 0),
		results:   make([]PerformanceMetrics, 0),
	}, nil
}

// AddScenario adds a scenario to the suite.
func (s *Suite) AddScenario(scenario Scenario) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios = append(s.scenarios, scenario)
}

// Results returns a copy of the metrics collected so far.
func (s *Suite) Results() []PerformanceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PerformanceMetrics(nil), s.results...)
}

// RunAll executes every added scenario in order.
func (s *Suite) RunAll(ctx context.Context) ([]PerformanceMetrics, error) {
	s.mu.RLock()
	scenarios := append([]Scenario(nil), s.scenarios...)
	s.mu.RUnlock()

	for _, scenario := range scenarios {
		if _, err := s.RunScenario(ctx, scenario); err != nil {
			return nil, err
		}
	}
	return s.Results(), nil
}

// RunScenario executes a single scenario: generate the batch once, warm
// up, then measure per-iteration latency and stage timings.
func (s *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	inputs, err := SyntheticBatch(scenario, s.options.Strides, s.options.Anchors.Shape()[1])
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", scenario.Name)
	}

	for i := 0; i < scenario.WarmupRuns; i++ {
		if ctx.Err() != nil {
			return nil, errors.Wrapf(ctx.Err(), "scenario %s aborted", scenario.Name)
		}
		if _, err := s.processor.Process(inputs, s.eval); err != nil {
			return nil, errors.Wrapf(err, "scenario %s warmup %d", scenario.Name, i)
		}
	}

	s.prof.Reset()

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	samples := make([]time.Duration, 0, scenario.Iterations)
	totalDetections := 0
	startTime := time.Now()

	for i := 0; i < scenario.Iterations; i++ {
		if ctx.Err() != nil {
			return nil, errors.Wrapf(ctx.Err(), "scenario %s aborted", scenario.Name)
		}

		iterStart := time.Now()
		detections, err := s.processor.Process(inputs, s.eval)
		if err != nil {
			return nil, errors.Wrapf(err, "scenario %s iteration %d", scenario.Name, i)
		}
		samples = append(samples, time.Since(iterStart))

		for _, image := range detections {
			totalDetections += len(image)
		}
	}

	totalDuration := time.Since(startTime)

	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	metrics := &PerformanceMetrics{
		Scenario:       scenario,
		Timestamp:      time.Now(),
		Iterations:     scenario.Iterations,
		TotalDuration:  totalDuration,
		LatencyMean:    meanDuration(samples),
		LatencyP50:     latencyPercentile(samples, 0.50),
		LatencyP95:     latencyPercentile(samples, 0.95),
		LatencyP99:     latencyPercentile(samples, 0.99),
		DetectionCount: totalDetections,
		MemoryStats: MemoryMetrics{
			AllocBytes:      endMem.Alloc,
			TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
			SysBytes:        endMem.Sys,
			NumGC:           endMem.NumGC - startMem.NumGC,
			HeapAllocBytes:  endMem.HeapAlloc,
			HeapSysBytes:    endMem.HeapSys,
		},
		CPUStats: CPUMetrics{NumCPU: runtime.NumCPU()},
	}
	if totalDuration > 0 {
		metrics.ImagesPerSecond = float64(scenario.Iterations*scenario.BatchSize) / totalDuration.Seconds()
	}
	if stats, ok := s.prof.Stats("decode"); ok {
		metrics.DecodeDuration = stats.Total
	}
	if stats, ok := s.prof.Stats("suppress"); ok {
		metrics.SuppressDuration = stats.Total
	}

	s.mu.Lock()
	s.results = append(s.results, *metrics)
	s.mu.Unlock()

	return metrics, nil
}

func meanDuration(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range samples {
		total += d
	}
	return total / time.Duration(len(samples))
}
