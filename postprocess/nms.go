package postprocess

import (
	"sort"

	"github.com/chewxy/math32"
	"gorgonia.org/vecf32"
)

const (
	// MaxDetections is the default cap on accepted boxes per image. The cap
	// is checked after an acceptance, so the output may hold one extra entry
	// beyond it; the boundary is kept as-is because downstream consumers
	// were built against it.
	MaxDetections = 300

	// maxWH separates classes geometrically during class-aware suppression:
	// offsetting every coordinate by class_id*maxWH guarantees boxes of
	// different classes never overlap. Larger than any plausible input
	// dimension (8K width).
	maxWH float32 = 7680

	// DefaultEpsilon stabilizes the IoU denominator so zero-area boxes never
	// divide by zero.
	DefaultEpsilon float32 = 1e-5
)

// NMSConfig parameterizes greedy Non-Maximum Suppression.
type NMSConfig struct {
	// IoUThreshold suppresses a remaining box when its overlap with an
	// accepted box is strictly greater; equal overlap survives.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// Epsilon is added to the union denominator. Zero selects
	// DefaultEpsilon.
	Epsilon float32 `json:"epsilon" yaml:"epsilon"`
	// Agnostic suppresses across classes when true; when false boxes only
	// compete within their own class.
	Agnostic bool `json:"agnostic" yaml:"agnostic"`
	// MaxOutputs caps the accepted count (plus the one-extra boundary).
	// Zero selects MaxDetections.
	MaxOutputs int `json:"max_outputs" yaml:"max_outputs"`
}

// Suppress runs greedy NMS (the Malisiewicz variant) over one image's
// candidates and returns the indices of surviving rows in acceptance order,
// highest score first. Each accepted box suppresses every remaining box
// whose IoU with it exceeds the threshold.
//
// Arguments:
//   - set: The image's candidates. Read-only; typically pre-trimmed by
//     SortAndTrim when oversized.
//   - cfg: Suppression parameters.
//
// Returns:
//   - Accepted row indices into set, in acceptance order.
func Suppress(set *DetectionSet, cfg NMSConfig) []int {
	n := set.Len()
	if n == 0 {
		return nil
	}

	epsilon := cfg.Epsilon
	if epsilon == 0 {
		epsilon = DefaultEpsilon
	}
	maxOutputs := cfg.MaxOutputs
	if maxOutputs == 0 {
		maxOutputs = MaxDetections
	}

	x1, y1, x2, y2 := set.x1, set.y1, set.x2, set.y2
	if !cfg.Agnostic {
		offset := append([]float32(nil), set.classes...)
		vecf32.Scale(offset, maxWH)
		x1 = offsetColumn(set.x1, offset)
		y1 = offsetColumn(set.y1, offset)
		x2 = offsetColumn(set.x2, offset)
		y2 = offsetColumn(set.y2, offset)
	}

	areas := clampedAreas(x1, y1, x2, y2)

	// Ascending by score so the highest score pops from the end. Stable, so
	// equal scores keep insertion order and output is deterministic.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return set.scores[order[i]] < set.scores[order[j]]
	})

	accepted := make([]int, 0, n)
	for len(order) > 0 {
		cur := order[len(order)-1]
		order = order[:len(order)-1]
		if len(accepted) > maxOutputs {
			break
		}
		accepted = append(accepted, cur)

		remaining := order[:0]
		for _, j := range order {
			iw := math32.Max(0, math32.Min(x2[cur], x2[j])-math32.Max(x1[cur], x1[j]))
			ih := math32.Max(0, math32.Min(y2[cur], y2[j])-math32.Max(y1[cur], y1[j]))
			inter := iw * ih
			overlap := inter / (areas[cur] + areas[j] - inter + epsilon)
			if overlap <= cfg.IoUThreshold {
				remaining = append(remaining, j)
			}
		}
		order = remaining
	}
	return accepted
}

func offsetColumn(col, offset []float32) []float32 {
	out := append([]float32(nil), col...)
	vecf32.Add(out, offset)
	return out
}
