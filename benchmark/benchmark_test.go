package benchmark

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolo/postprocess"
)

func TestScenarioBuilder(t *testing.T) {
	scenario := NewScenarioBuilder("dense_batch").
		WithBatchSize(4).
		WithInputSize(416).
		WithClasses(20).
		WithDensity(0.1).
		WithIterations(50).
		WithWarmupRuns(5).
		WithSeed(42).
		Build()

	assert.Equal(t, "dense_batch", scenario.Name)
	assert.Equal(t, 4, scenario.BatchSize)
	assert.Equal(t, 416, scenario.InputSize)
	assert.Equal(t, 20, scenario.NumClasses)
	assert.Equal(t, 0.1, scenario.Density)
	assert.Equal(t, 50, scenario.Iterations)
	assert.Equal(t, 5, scenario.WarmupRuns)
	assert.Equal(t, int64(42), scenario.Seed)
}

func TestScenarioBuilderDefaults(t *testing.T) {
	scenario := NewScenarioBuilder("defaults").Build()

	assert.Equal(t, 1, scenario.BatchSize, "default batch is a single image")
	assert.Equal(t, 640, scenario.InputSize, "default input is 640px")
	assert.Equal(t, 80, scenario.NumClasses, "default head is COCO-sized")
	assert.Equal(t, 0.02, scenario.Density, "default density is 2%")
	assert.Equal(t, 100, scenario.Iterations)
	assert.Equal(t, 10, scenario.WarmupRuns)
}

func TestDefaultScenarios(t *testing.T) {
	scenarios := DefaultScenarios()
	require.Len(t, scenarios, 5, "two sizes by two densities plus the batched run")

	names := make(map[string]bool, len(scenarios))
	for _, sc := range scenarios {
		assert.NotEmpty(t, sc.Name, "every scenario needs a name")
		names[sc.Name] = true
	}
	assert.Len(t, names, len(scenarios), "scenario names should be unique")
	assert.Equal(t, 8, scenarios[len(scenarios)-1].BatchSize, "the spread ends with the batched run")
}

func TestSyntheticBatchShapes(t *testing.T) {
	scenario := NewScenarioBuilder("shapes").
		WithBatchSize(2).
		WithInputSize(64).
		WithClasses(3).
		Build()

	inputs, err := SyntheticBatch(scenario, []float32{8, 16, 32}, 3)
	require.NoError(t, err, "a 64px input divides all three strides")
	require.Len(t, inputs, 3, "one tensor per stride")

	expected := [][]int{
		{2, 3, 8, 8, 8},
		{2, 3, 4, 4, 8},
		{2, 3, 2, 2, 8},
	}
	for s, in := range inputs {
		assert.Equal(t, expected[s], []int(in.Shape()), "scale %d shape", s)
		assert.Equal(t, tensor.Float32, in.Dtype(), "scale %d dtype", s)
	}
}

func TestSyntheticBatchDeterminism(t *testing.T) {
	scenario := NewScenarioBuilder("seeded").WithInputSize(32).WithClasses(2).Build()

	first, err := SyntheticBatch(scenario, []float32{8}, 1)
	require.NoError(t, err)
	second, err := SyntheticBatch(scenario, []float32{8}, 1)
	require.NoError(t, err)
	assert.Equal(t, first[0].Data(), second[0].Data(), "equal seeds should generate identical batches")

	reseeded, err := SyntheticBatch(NewScenarioBuilder("seeded").
		WithInputSize(32).
		WithClasses(2).
		WithSeed(2).
		Build(), []float32{8}, 1)
	require.NoError(t, err)
	assert.NotEqual(t, first[0].Data(), reseeded[0].Data(), "a different seed should change the batch")
}

func TestSyntheticBatchErrors(t *testing.T) {
	t.Run("input size not divisible by stride", func(t *testing.T) {
		scenario := NewScenarioBuilder("bad_size").WithInputSize(100).Build()
		inputs, err := SyntheticBatch(scenario, []float32{8, 16, 32}, 3)
		require.Error(t, err, "100px does not divide stride 16")
		assert.Nil(t, inputs)
	})

	t.Run("non-positive batch", func(t *testing.T) {
		scenario := NewScenarioBuilder("bad_batch").WithBatchSize(0).Build()
		inputs, err := SyntheticBatch(scenario, []float32{8}, 1)
		require.Error(t, err, "an empty batch cannot be generated")
		assert.Nil(t, inputs)
	})
}

func TestNewSuiteDefaultsToCOCO(t *testing.T) {
	suite, err := NewSuite(NewSuiteArgs{
		Eval: postprocess.EvalOptions{ConfThreshold: 0.25, IoUThreshold: 0.45},
	})
	require.NoError(t, err, "a nil anchor table should select the COCO defaults")
	assert.NotNil(t, suite)
	assert.Empty(t, suite.Results(), "a fresh suite has no results")
}

func TestNewSuiteConfigError(t *testing.T) {
	suite, err := NewSuite(NewSuiteArgs{
		Options: postprocess.Options{
			Anchors: tensor.New(tensor.WithShape(2, 2), tensor.WithBacking(make([]float32, 4))),
			Strides: []float32{8, 16},
		},
	})
	require.Error(t, err, "a malformed anchor table should fail suite construction")
	assert.ErrorIs(t, err, postprocess.ErrAnchorShape)
	assert.Nil(t, suite)
}

func TestSuiteRunScenario(t *testing.T) {
	suite, err := NewSuite(NewSuiteArgs{
		Eval: postprocess.EvalOptions{ConfThreshold: 0.25, IoUThreshold: 0.45},
	})
	require.NoError(t, err)

	scenario := NewScenarioBuilder("smoke").
		WithBatchSize(2).
		WithInputSize(64).
		WithDensity(0.05).
		WithIterations(2).
		WithWarmupRuns(1).
		Build()

	metrics, err := suite.RunScenario(context.Background(), scenario)
	require.NoError(t, err, "a small scenario should run to completion")

	assert.Equal(t, "smoke", metrics.Scenario.Name)
	assert.Equal(t, 2, metrics.Iterations)
	assert.Positive(t, metrics.TotalDuration, "measured time should accumulate")
	assert.Positive(t, metrics.LatencyMean, "latency samples should be recorded")
	assert.Positive(t, metrics.ImagesPerSecond, "throughput should be derived")
	assert.Positive(t, metrics.DecodeDuration, "stage timings should come from the profiler")
	assert.Positive(t, metrics.DetectionCount, "hot cells should survive the pipeline")
	assert.GreaterOrEqual(t, metrics.CPUStats.NumCPU, 1)

	results := suite.Results()
	require.Len(t, results, 1, "the run should be recorded")
	assert.Equal(t, metrics.Scenario.Name, results[0].Scenario.Name)
}

func TestSuiteRunAll(t *testing.T) {
	suite, err := NewSuite(NewSuiteArgs{
		Eval: postprocess.EvalOptions{ConfThreshold: 0.25, IoUThreshold: 0.45},
	})
	require.NoError(t, err)

	for i, name := range []string{"first", "second"} {
		suite.AddScenario(NewScenarioBuilder(name).
			WithInputSize(32).
			WithIterations(1).
			WithWarmupRuns(0).
			WithSeed(int64(i + 1)).
			Build())
	}

	results, err := suite.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2, "every added scenario should run")
	assert.Equal(t, "first", results[0].Scenario.Name)
	assert.Equal(t, "second", results[1].Scenario.Name)
}

func TestSuiteRunScenarioCancelled(t *testing.T) {
	suite, err := NewSuite(NewSuiteArgs{
		Eval: postprocess.EvalOptions{ConfThreshold: 0.25, IoUThreshold: 0.45},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	metrics, err := suite.RunScenario(ctx, NewScenarioBuilder("cancelled").Build())
	require.Error(t, err, "a cancelled context should abort the scenario")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, metrics)
	assert.Empty(t, suite.Results(), "an aborted run should record nothing")
}
