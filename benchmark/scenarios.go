package benchmark

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Scenario describes one synthetic workload: a batch of raw detector
// outputs with a controlled fraction of confident cells.
type Scenario struct {
	Name       string  `json:"name"        yaml:"name"`
	BatchSize  int     `json:"batch_size"  yaml:"batch_size"`
	InputSize  int     `json:"input_size"  yaml:"input_size"`
	NumClasses int     `json:"num_classes" yaml:"num_classes"`
	Density    float64 `json:"density"     yaml:"density"`
	Iterations int     `json:"iterations"  yaml:"iterations"`
	WarmupRuns int     `json:"warmup_runs" yaml:"warmup_runs"`
	Seed       int64   `json:"seed"        yaml:"seed"`
}

// ScenarioBuilder builds scenarios with a fluent API.
type ScenarioBuilder struct {
	scenario Scenario
}

// NewScenarioBuilder creates a builder with sane defaults: batch 1, 640px
// input, 80 classes, 2% hot cells, 100 iterations with 10 warmups.
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{
		scenario: Scenario{
			Name:       name,
			BatchSize:  1,
			InputSize:  640,
			NumClasses: 80,
			Density:    0.02,
			Iterations: 100,
			WarmupRuns: 10,
			Seed:       1,
		},
	}
}

// WithBatchSize sets the number of images per batch.
func (sb *ScenarioBuilder) WithBatchSize(batchSize int) *ScenarioBuilder {
	sb.scenario.BatchSize = batchSize
	return sb
}

// WithInputSize sets the square model input size in pixels.
func (sb *ScenarioBuilder) WithInputSize(inputSize int) *ScenarioBuilder {
	sb.scenario.InputSize = inputSize
	return sb
}

// WithClasses sets the class count of the synthetic head.
func (sb *ScenarioBuilder) WithClasses(numClasses int) *ScenarioBuilder {
	sb.scenario.NumClasses = numClasses
	return sb
}

// WithDensity sets the fraction of cells emitted with high confidence.
func (sb *ScenarioBuilder) WithDensity(density float64) *ScenarioBuilder {
	sb.scenario.Density = density
	return sb
}

// WithIterations sets the number of measured iterations.
func (sb *ScenarioBuilder) WithIterations(iterations int) *ScenarioBuilder {
	sb.scenario.Iterations = iterations
	return sb
}

// WithWarmupRuns sets the number of unmeasured warmup iterations.
func (sb *ScenarioBuilder) WithWarmupRuns(warmups int) *ScenarioBuilder {
	sb.scenario.WarmupRuns = warmups
	return sb
}

// WithSeed sets the generator seed; runs with equal seeds see identical
// batches.
func (sb *ScenarioBuilder) WithSeed(seed int64) *ScenarioBuilder {
	sb.scenario.Seed = seed
	return sb
}

// Build returns the configured scenario.
func (sb *ScenarioBuilder) Build() Scenario {
	return sb.scenario
}

// DefaultScenarios returns a spread of workloads from sparse single-image
// to dense batched.
func DefaultScenarios() []Scenario {
	sizes := []int{416, 640}
	densities := []float64{0.005, 0.05}

	scenarios := make([]Scenario, 0, len(sizes)*len(densities)+1)
	for _, size := range sizes {
		for _, density := range densities {
			scenarios = append(scenarios, NewScenarioBuilder(
				fmt.Sprintf("single_%dpx_%.1f%%", size, density*100)).
				WithInputSize(size).
				WithDensity(density).
				Build())
		}
	}
	scenarios = append(scenarios, NewScenarioBuilder("batch8_640px_2.0%").
		WithBatchSize(8).
		WithIterations(25).
		WithWarmupRuns(5).
		Build())
	return scenarios
}

// SyntheticBatch generates one batch of raw per-scale tensors for a
// scenario. Roughly Density of all cells are "hot": objectness and one
// class confidence land in (0.6, 1.0) so typical thresholds pass them;
// every other cell stays below 0.2. Output is deterministic for a given
// scenario.
//
// Arguments:
//   - sc: The workload description.
//   - strides: Per-scale downsampling factors; each must divide InputSize.
//   - anchorSlots: Anchor slots per scale.
//
// Returns:
//   - One [batch, slots, grid, grid, 5+classes] tensor per stride.
func SyntheticBatch(sc Scenario, strides []float32, anchorSlots int) ([]*tensor.Dense, error) {
	if sc.BatchSize < 1 || sc.NumClasses < 1 || anchorSlots < 1 {
		return nil, errors.Errorf(
			"scenario needs positive batch, classes, and anchor slots (got %d, %d, %d)",
			sc.BatchSize, sc.NumClasses, anchorSlots)
	}

	rng := rand.New(rand.NewSource(sc.Seed))
	channels := 5 + sc.NumClasses

	inputs := make([]*tensor.Dense, len(strides))
	for s, stride := range strides {
		grid := sc.InputSize / int(stride)
		if grid < 1 || sc.InputSize%int(stride) != 0 {
			return nil, errors.Errorf("input size %d is not a multiple of stride %v", sc.InputSize, stride)
		}

		data := make([]float32, sc.BatchSize*anchorSlots*grid*grid*channels)
		for cell := 0; cell < len(data); cell += channels {
			data[cell+0] = rng.Float32() // box_cx
			data[cell+1] = rng.Float32() // box_cy
			data[cell+2] = rng.Float32() // box_w
			data[cell+3] = rng.Float32() // box_h

			if rng.Float64() < sc.Density {
				data[cell+4] = 0.6 + 0.4*rng.Float32()
				hot := 5 + rng.Intn(sc.NumClasses)
				for c := 5; c < channels; c++ {
					data[cell+c] = 0.3 * rng.Float32()
				}
				data[cell+hot] = 0.6 + 0.4*rng.Float32()
			} else {
				data[cell+4] = 0.2 * rng.Float32()
				for c := 5; c < channels; c++ {
					data[cell+c] = rng.Float32()
				}
			}
		}

		inputs[s] = tensor.New(
			tensor.WithShape(sc.BatchSize, anchorSlots, grid, grid, channels),
			tensor.WithBacking(data),
		)
	}
	return inputs, nil
}
