// Package postprocess - decodes YOLO-family raw detector outputs into final
// per-image detections: anchor/grid decoding, confidence filtering, top-K
// selection, and greedy Non-Maximum Suppression.
package postprocess

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/vecf32"
)

// BoundingBox is an axis-aligned box in image-pixel space. Field order
// matches the output record layout (top, left, bottom, right). Degenerate
// boxes (Bottom < Top or Right < Left) are tolerated; area-based math clamps
// them to zero area.
type BoundingBox struct {
	Top    float32 `json:"top"    yaml:"top"`
	Left   float32 `json:"left"   yaml:"left"`
	Bottom float32 `json:"bottom" yaml:"bottom"`
	Right  float32 `json:"right"  yaml:"right"`
}

// Width returns the clamped horizontal extent of the box.
func (b BoundingBox) Width() float32 {
	return math32.Max(0, b.Right-b.Left)
}

// Height returns the clamped vertical extent of the box.
func (b BoundingBox) Height() float32 {
	return math32.Max(0, b.Bottom-b.Top)
}

// Area returns the clamped area of the box.
func (b BoundingBox) Area() float32 {
	return b.Width() * b.Height()
}

// IoU computes the epsilon-stabilized Intersection-over-Union between two
// boxes. The epsilon is added to the union denominator so zero-area pairs
// divide cleanly; pass 0 to use DefaultEpsilon.
//
// Arguments:
//   - other: The box to compare against.
//   - epsilon: Stabilizer added to the union area.
//
// Returns:
//   - The overlap ratio in [0, 1).
func (b BoundingBox) IoU(other BoundingBox, epsilon float32) float32 {
	if epsilon == 0 {
		epsilon = DefaultEpsilon
	}
	iw := math32.Max(0, math32.Min(b.Right, other.Right)-math32.Max(b.Left, other.Left))
	ih := math32.Max(0, math32.Min(b.Bottom, other.Bottom)-math32.Max(b.Top, other.Top))
	inter := iw * ih
	return inter / (b.Area() + other.Area() - inter + epsilon)
}

// CornersFromCenters converts center-form boxes (center-y, center-x, width,
// height) to corner form in bulk.
//
// Arguments:
//   - cy, cx: Box center coordinates, one entry per box.
//   - w, h: Box extents, one entry per box.
//
// Returns:
//   - x1, y1, x2, y2: Corner columns (x1 = cx-w/2, y1 = cy-h/2, x2 = cx+w/2,
//     y2 = cy+h/2).
//   - An error wrapping ErrColumnLength if the four inputs disagree in
//     length; no output is produced in that case.
func CornersFromCenters(cy, cx, w, h []float32) (x1, y1, x2, y2 []float32, err error) {
	n := len(cy)
	if len(cx) != n || len(w) != n || len(h) != n {
		return nil, nil, nil, nil, errors.Wrapf(ErrColumnLength,
			"center columns have lengths cy=%d cx=%d w=%d h=%d", n, len(cx), len(w), len(h))
	}

	halfW := append([]float32(nil), w...)
	vecf32.Scale(halfW, 0.5)
	halfH := append([]float32(nil), h...)
	vecf32.Scale(halfH, 0.5)

	x1 = append([]float32(nil), cx...)
	vecf32.Sub(x1, halfW)
	y1 = append([]float32(nil), cy...)
	vecf32.Sub(y1, halfH)
	x2 = append([]float32(nil), cx...)
	vecf32.Add(x2, halfW)
	y2 = append([]float32(nil), cy...)
	vecf32.Add(y2, halfH)

	return x1, y1, x2, y2, nil
}

// clampedAreas computes max(0, x2-x1) * max(0, y2-y1) per row. Columns are
// assumed equal-length (container invariant).
func clampedAreas(x1, y1, x2, y2 []float32) []float32 {
	width := append([]float32(nil), x2...)
	vecf32.Sub(width, x1)
	height := append([]float32(nil), y2...)
	vecf32.Sub(height, y1)
	for i := range width {
		if width[i] < 0 {
			width[i] = 0
		}
		if height[i] < 0 {
			height[i] = 0
		}
	}
	vecf32.Mul(width, height)
	return width
}
