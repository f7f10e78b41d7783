package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nvr-ai/go-yolo/benchmark"
	"github.com/nvr-ai/go-yolo/postprocess"
)

const (
	// DefaultConfThreshold mirrors the common YOLOv5 deployment default.
	DefaultConfThreshold = 0.25
	// DefaultIoUThreshold mirrors the common YOLOv5 deployment default.
	DefaultIoUThreshold = 0.45
)

func main() {
	var (
		batchSize     int
		inputSize     int
		numClasses    int
		density       float64
		iterations    int
		warmupRuns    int
		workers       int
		seed          int64
		confThreshold float64
		iouThreshold  float64
		epsilon       float64
		agnostic      bool
		defaults      bool
		jsonOutput    bool
	)
	flag.IntVar(&batchSize, "batch", 1, "Images per batch")
	flag.IntVar(&inputSize, "input-size", 640, "Square model input size in pixels (multiple of 32)")
	flag.IntVar(&numClasses, "classes", 80, "Class count of the synthetic head")
	flag.Float64Var(&density, "density", 0.02, "Fraction of cells emitted with high confidence")
	flag.IntVar(&iterations, "iterations", 100, "Measured iterations per scenario")
	flag.IntVar(&warmupRuns, "warmup", 10, "Unmeasured warmup iterations")
	flag.IntVar(&workers, "workers", 1, "Per-image suppression workers")
	flag.Int64Var(&seed, "seed", 1, "Synthetic batch seed")
	flag.Float64Var(&confThreshold, "conf", DefaultConfThreshold, "Confidence threshold")
	flag.Float64Var(&iouThreshold, "iou", DefaultIoUThreshold, "IoU suppression threshold")
	flag.Float64Var(&epsilon, "epsilon", 0, "IoU denominator epsilon (0 = default)")
	flag.BoolVar(&agnostic, "agnostic", false, "Suppress across classes")
	flag.BoolVar(&defaults, "default-scenarios", false, "Run the built-in scenario spread instead of flags")
	flag.BoolVar(&jsonOutput, "json", false, "Print metrics as JSON")
	flag.Parse()

	if defaults {
		// The built-in spread generates COCO-sized heads.
		numClasses = 80
	}

	options := postprocess.COCODefaults()
	options.NumClasses = numClasses
	options.Workers = workers

	suite, err := benchmark.NewSuite(benchmark.NewSuiteArgs{
		Options: options,
		Eval: postprocess.EvalOptions{
			ConfThreshold: float32(confThreshold),
			IoUThreshold:  float32(iouThreshold),
			Epsilon:       float32(epsilon),
			Agnostic:      agnostic,
		},
	})
	if err != nil {
		log.Fatalf("Error building suite: %v", err)
	}

	if defaults {
		for _, scenario := range benchmark.DefaultScenarios() {
			suite.AddScenario(scenario)
		}
	} else {
		suite.AddScenario(benchmark.NewScenarioBuilder(
			fmt.Sprintf("batch%d_%dpx_%.1f%%", batchSize, inputSize, density*100)).
			WithBatchSize(batchSize).
			WithInputSize(inputSize).
			WithClasses(numClasses).
			WithDensity(density).
			WithIterations(iterations).
			WithWarmupRuns(warmupRuns).
			WithSeed(seed).
			Build())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	results, err := suite.RunAll(ctx)
	if err != nil {
		log.Fatalf("Error running scenarios: %v", err)
	}

	if jsonOutput {
		encoded, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			log.Fatalf("Error encoding results: %v", err)
		}
		fmt.Println(string(encoded))
		return
	}

	printResults(results)
}

func printResults(results []benchmark.PerformanceMetrics) {
	fmt.Printf("%-24s %8s %10s %10s %10s %10s %12s %10s\n",
		"scenario", "iters", "mean", "p50", "p95", "p99", "images/sec", "boxes")
	for _, m := range results {
		fmt.Printf("%-24s %8d %10v %10v %10v %10v %12.1f %10d\n",
			m.Scenario.Name,
			m.Iterations,
			m.LatencyMean,
			m.LatencyP50,
			m.LatencyP95,
			m.LatencyP99,
			m.ImagesPerSecond,
			m.DetectionCount,
		)
	}
	for _, m := range results {
		fmt.Printf("\n%s: decode %v, suppress %v, alloc %.1f MiB, %d GCs\n",
			m.Scenario.Name,
			m.DecodeDuration,
			m.SuppressDuration,
			float64(m.MemoryStats.TotalAllocBytes)/(1024*1024),
			m.MemoryStats.NumGC,
		)
	}
}
