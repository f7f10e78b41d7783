package postprocess

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nmsRow struct {
	x1, y1, x2, y2, score, class float32
}

func nmsTestSet(t *testing.T, rows []nmsRow) *DetectionSet {
	t.Helper()
	n := len(rows)
	x1 := make([]float32, n)
	y1 := make([]float32, n)
	x2 := make([]float32, n)
	y2 := make([]float32, n)
	scores := make([]float32, n)
	classes := make([]float32, n)
	for i, r := range rows {
		x1[i], y1[i], x2[i], y2[i] = r.x1, r.y1, r.x2, r.y2
		scores[i] = r.score
		classes[i] = r.class
	}
	set, err := DetectionSetFromColumns(x1, y1, x2, y2, scores, classes)
	require.NoError(t, err, "test set should construct")
	return set
}

// disjointRows lays boxes out along x with a gap so no pair overlaps.
func disjointRows(n int, score func(i int) float32) []nmsRow {
	rows := make([]nmsRow, n)
	for i := range rows {
		left := float32(i * 20)
		rows[i] = nmsRow{x1: left, y1: 0, x2: left + 10, y2: 10, score: score(i)}
	}
	return rows
}

func TestSuppressKeepsHighestOfOverlappingPair(t *testing.T) {
	set := nmsTestSet(t, []nmsRow{
		{x1: 0, y1: 0, x2: 10, y2: 10, score: 0.9},
		{x1: 1, y1: 1, x2: 11, y2: 11, score: 0.5},
	})

	keep := Suppress(set, NMSConfig{IoUThreshold: 0.45})
	assert.Equal(t, []int{0}, keep, "the lower-scored overlapping box should be suppressed")
}

func TestSuppressKeepsDisjointBoxes(t *testing.T) {
	set := nmsTestSet(t, []nmsRow{
		{x1: 0, y1: 0, x2: 10, y2: 10, score: 0.3},
		{x1: 50, y1: 50, x2: 60, y2: 60, score: 0.9},
		{x1: 100, y1: 0, x2: 110, y2: 10, score: 0.6},
	})

	keep := Suppress(set, NMSConfig{IoUThreshold: 0.45})
	assert.Equal(t, []int{1, 2, 0}, keep, "disjoint boxes should all survive, highest score first")
}

func TestSuppressClassAware(t *testing.T) {
	rows := []nmsRow{
		{x1: 0, y1: 0, x2: 10, y2: 10, score: 0.9, class: 0},
		{x1: 0, y1: 0, x2: 10, y2: 10, score: 0.8, class: 1},
	}

	keep := Suppress(nmsTestSet(t, rows), NMSConfig{IoUThreshold: 0.45})
	assert.Equal(t, []int{0, 1}, keep, "identical boxes of different classes should not compete")

	keep = Suppress(nmsTestSet(t, rows), NMSConfig{IoUThreshold: 0.45, Agnostic: true})
	assert.Equal(t, []int{0}, keep, "agnostic mode should suppress across classes")
}

func TestSuppressThresholdBoundaries(t *testing.T) {
	t.Run("threshold one keeps duplicates", func(t *testing.T) {
		set := nmsTestSet(t, []nmsRow{
			{x1: 0, y1: 0, x2: 10, y2: 10, score: 0.9},
			{x1: 0, y1: 0, x2: 10, y2: 10, score: 0.8},
		})

		// Epsilon keeps identical-box IoU strictly below 1, and equal
		// overlap survives, so nothing can be suppressed at 1.0.
		keep := Suppress(set, NMSConfig{IoUThreshold: 1.0})
		assert.Equal(t, []int{0, 1}, keep, "no overlap can exceed a threshold of one")
	})

	t.Run("threshold zero keeps touching boxes", func(t *testing.T) {
		set := nmsTestSet(t, []nmsRow{
			{x1: 0, y1: 0, x2: 10, y2: 10, score: 0.9},
			{x1: 10, y1: 0, x2: 20, y2: 10, score: 0.8},
		})

		keep := Suppress(set, NMSConfig{IoUThreshold: 0})
		assert.Equal(t, []int{0, 1}, keep, "edge contact has zero overlap and equal overlap survives")
	})
}

func TestSuppressAcceptanceOrderIsDescendingScore(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	rows := make([]nmsRow, 60)
	for i := range rows {
		left := rng.Float32() * 600
		top := rng.Float32() * 600
		rows[i] = nmsRow{
			x1:    left,
			y1:    top,
			x2:    left + 5 + rng.Float32()*60,
			y2:    top + 5 + rng.Float32()*60,
			score: rng.Float32(),
			class: float32(rng.Intn(3)),
		}
	}
	set := nmsTestSet(t, rows)

	keep := Suppress(set, NMSConfig{IoUThreshold: 0.45})
	require.NotEmpty(t, keep, "random boxes should leave survivors")
	for k := 1; k < len(keep); k++ {
		assert.GreaterOrEqual(t, set.Score(keep[k-1]), set.Score(keep[k]),
			"acceptance order should never increase in score")
	}
}

func TestSuppressIsIdempotent(t *testing.T) {
	// Distinct scores pin the processing order, so survivors of one pass
	// must come back unchanged from a second.
	scores := make([]float32, 50)
	for i := range scores {
		scores[i] = 0.1 + 0.8*float32(i)/float32(len(scores))
	}
	rng := rand.New(rand.NewSource(13))
	rng.Shuffle(len(scores), func(i, j int) { scores[i], scores[j] = scores[j], scores[i] })

	rows := make([]nmsRow, len(scores))
	for i := range rows {
		left := rng.Float32() * 200
		top := rng.Float32() * 200
		rows[i] = nmsRow{
			x1:    left,
			y1:    top,
			x2:    left + 5 + rng.Float32()*40,
			y2:    top + 5 + rng.Float32()*40,
			score: scores[i],
			class: float32(rng.Intn(3)),
		}
	}
	set := nmsTestSet(t, rows)
	cfg := NMSConfig{IoUThreshold: 0.45}

	keep := Suppress(set, cfg)
	require.NotEmpty(t, keep, "random boxes should leave survivors")

	survivors := make([]nmsRow, len(keep))
	for i, idx := range keep {
		survivors[i] = rows[idx]
	}
	again := Suppress(nmsTestSet(t, survivors), cfg)

	expected := make([]int, len(survivors))
	for i := range expected {
		expected[i] = i
	}
	assert.Equal(t, expected, again, "a second pass over the survivors should keep everything")
}

func TestSuppressOutputCap(t *testing.T) {
	score := func(i int) float32 { return 1 - float32(i)*0.01 }

	t.Run("boundary admits one extra", func(t *testing.T) {
		set := nmsTestSet(t, disjointRows(10, score))

		// The cap is checked after an acceptance, so six boxes come back
		// for a cap of five.
		keep := Suppress(set, NMSConfig{IoUThreshold: 0.45, MaxOutputs: 5})
		assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, keep, "cap should admit maxOutputs plus one")
	})

	t.Run("exact fit is untouched", func(t *testing.T) {
		set := nmsTestSet(t, disjointRows(6, score))

		keep := Suppress(set, NMSConfig{IoUThreshold: 0.45, MaxOutputs: 5})
		assert.Len(t, keep, 6, "a set that fits within the boundary should pass through whole")
	})

	t.Run("default cap", func(t *testing.T) {
		set := nmsTestSet(t, disjointRows(MaxDetections+2, func(i int) float32 {
			return 1 - float32(i)*0.001
		}))

		keep := Suppress(set, NMSConfig{IoUThreshold: 0.45})
		assert.Len(t, keep, MaxDetections+1, "zero MaxOutputs should select the default cap")
	})
}

func TestSuppressZeroAreaBoxes(t *testing.T) {
	set := nmsTestSet(t, []nmsRow{
		{x1: 5, y1: 5, x2: 5, y2: 5, score: 0.9},
		{x1: 5, y1: 5, x2: 5, y2: 5, score: 0.8},
	})

	// Epsilon keeps the denominator positive: zero-area overlap is zero,
	// not NaN, so both degenerate boxes survive.
	keep := Suppress(set, NMSConfig{IoUThreshold: 0.45})
	assert.Equal(t, []int{0, 1}, keep, "degenerate boxes should never suppress each other")
}

func TestSuppressEmptySet(t *testing.T) {
	keep := Suppress(NewDetectionSet(), NMSConfig{IoUThreshold: 0.45})
	assert.Empty(t, keep, "an empty set should yield no indices")
}

func BenchmarkSuppress(b *testing.B) {
	rng := rand.New(rand.NewSource(17))
	n := 1000
	x1 := make([]float32, n)
	y1 := make([]float32, n)
	x2 := make([]float32, n)
	y2 := make([]float32, n)
	scores := make([]float32, n)
	classes := make([]float32, n)
	for i := 0; i < n; i++ {
		x1[i] = rng.Float32() * 600
		y1[i] = rng.Float32() * 600
		x2[i] = x1[i] + 5 + rng.Float32()*100
		y2[i] = y1[i] + 5 + rng.Float32()*100
		scores[i] = rng.Float32()
		classes[i] = float32(rng.Intn(80))
	}
	set, err := DetectionSetFromColumns(x1, y1, x2, y2, scores, classes)
	if err != nil {
		b.Fatal(err)
	}
	cfg := NMSConfig{IoUThreshold: 0.45}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		Suppress(set, cfg)
	}
}
