package postprocess

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

const (
	// MaxDecodeCandidates is the default per-image candidate cap applied
	// during decoding. Once an image reaches it, decoding for that image
	// stops; candidates already accumulated are kept. Truncation is policy,
	// not an error.
	MaxDecodeCandidates = 10000

	// numBoxChannels is the per-cell channel count preceding the class
	// confidences: box_cx, box_cy, box_w, box_h, objectness.
	numBoxChannels = 5
)

// Decoder turns per-scale raw detector outputs into per-image DetectionSets.
// It owns the anchor table and strides, validated and pre-scaled once at
// construction and immutable afterwards.
type Decoder struct {
	scaledW [][]float32 // [scale][slot] anchor width * stride
	scaledH [][]float32 // [scale][slot] anchor height * stride
	strides []float32
	slots   int
	classes int // 0 derives the class count from the first scale tensor
	maxCand int
}

// NewDecoder builds a decoder from an anchor table and strides.
//
// Arguments:
//   - anchors: Float32 tensor of shape [num_scales, num_anchor_slots, 2]
//     holding (width, height) anchor priors in stride units.
//   - strides: Downsampling factor per scale; length must equal num_scales.
//
// Returns:
//   - The decoder, or a configuration error (ErrAnchorShape, ErrStrideCount)
//     when the table or strides are malformed.
func NewDecoder(anchors *tensor.Dense, strides []float32) (*Decoder, error) {
	return newDecoder(anchors, strides, 0, MaxDecodeCandidates)
}

func newDecoder(anchors *tensor.Dense, strides []float32, numClasses, maxCandidates int) (*Decoder, error) {
	if anchors == nil {
		return nil, errors.Wrap(ErrAnchorShape, "anchor table is nil")
	}
	if anchors.Dtype() != tensor.Float32 {
		return nil, errors.Wrapf(ErrAnchorShape, "dtype is %v", anchors.Dtype())
	}
	if order := anchors.DataOrder(); !order.IsRowMajor() || order.IsNotContiguous() || order.IsTransposed() {
		return nil, errors.Wrap(ErrAnchorShape, "anchor table is not contiguous row-major")
	}
	shape := anchors.Shape()
	if len(shape) != 3 || shape[2] != 2 {
		return nil, errors.Wrapf(ErrAnchorShape, "shape is %v", shape)
	}
	if len(strides) != shape[0] {
		return nil, errors.Wrapf(ErrStrideCount, "%d strides for %d scales", len(strides), shape[0])
	}
	data, ok := anchors.Data().([]float32)
	if !ok {
		return nil, errors.Wrap(ErrAnchorShape, "backing data is not []float32")
	}
	if maxCandidates <= 0 {
		maxCandidates = MaxDecodeCandidates
	}

	scales, slots := shape[0], shape[1]
	d := &Decoder{
		scaledW: make([][]float32, scales),
		scaledH: make([][]float32, scales),
		strides: append([]float32(nil), strides...),
		slots:   slots,
		classes: numClasses,
		maxCand: maxCandidates,
	}
	for s := 0; s < scales; s++ {
		d.scaledW[s] = make([]float32, slots)
		d.scaledH[s] = make([]float32, slots)
		for a := 0; a < slots; a++ {
			d.scaledW[s][a] = data[(s*slots+a)*2] * strides[s]
			d.scaledH[s][a] = data[(s*slots+a)*2+1] * strides[s]
		}
	}
	return d, nil
}

// Scales returns the number of detection scales the decoder expects.
func (d *Decoder) Scales() int {
	return len(d.strides)
}

// AnchorSlots returns the number of anchor slots per scale.
func (d *Decoder) AnchorSlots() int {
	return d.slots
}

// Strides returns a copy of the per-scale strides.
func (d *Decoder) Strides() []float32 {
	return append([]float32(nil), d.strides...)
}

func (d *Decoder) String() string {
	return fmt.Sprintf("Decoder{scales: %d, anchor_slots: %d, strides: %v}",
		len(d.strides), d.slots, d.strides)
}

// scaleShape is the validated geometry of one scale's raw tensor.
type scaleShape struct {
	data     []float32
	gridY    int
	gridX    int
	channels int
}

// validateInputs checks every scale tensor before any candidate is emitted,
// so a shape error never yields partial results.
func (d *Decoder) validateInputs(inputs []*tensor.Dense) (batch int, shapes []scaleShape, err error) {
	if len(inputs) != d.Scales() {
		return 0, nil, errors.Wrapf(ErrTensorShape, "%d tensors for %d scales", len(inputs), d.Scales())
	}

	channels := 0
	if d.classes > 0 {
		channels = numBoxChannels + d.classes
	}
	shapes = make([]scaleShape, len(inputs))
	for s, in := range inputs {
		if in == nil {
			return 0, nil, errors.Wrapf(ErrTensorShape, "scale %d: tensor is nil", s)
		}
		if in.Dtype() != tensor.Float32 {
			return 0, nil, errors.Wrapf(ErrTensorShape, "scale %d: dtype is %v", s, in.Dtype())
		}
		// A transposed view keeps its contiguous flag but permutes strides,
		// so the raw backing no longer matches the logical layout.
		order := in.DataOrder()
		if !order.IsRowMajor() || order.IsNotContiguous() || order.IsTransposed() {
			return 0, nil, errors.Wrapf(ErrTensorShape, "scale %d: tensor is not contiguous row-major", s)
		}
		shape := in.Shape()
		if len(shape) != 5 {
			return 0, nil, errors.Wrapf(ErrTensorShape, "scale %d: shape is %v, want 5 dims", s, shape)
		}
		if shape[1] != d.slots {
			return 0, nil, errors.Wrapf(ErrTensorShape,
				"scale %d: %d anchor slots, decoder has %d", s, shape[1], d.slots)
		}
		if s == 0 {
			batch = shape[0]
		} else if shape[0] != batch {
			return 0, nil, errors.Wrapf(ErrTensorShape,
				"scale %d: batch %d disagrees with scale 0 batch %d", s, shape[0], batch)
		}
		if channels == 0 {
			channels = shape[4]
			if channels < numBoxChannels+1 {
				return 0, nil, errors.Wrapf(ErrTensorShape,
					"scale %d: %d channels, want at least %d", s, channels, numBoxChannels+1)
			}
		}
		if shape[4] != channels {
			return 0, nil, errors.Wrapf(ErrTensorShape,
				"scale %d: %d channels, want %d", s, shape[4], channels)
		}
		data, ok := in.Data().([]float32)
		if !ok {
			return 0, nil, errors.Wrapf(ErrTensorShape, "scale %d: backing data is not []float32", s)
		}
		shapes[s] = scaleShape{data: data, gridY: shape[2], gridX: shape[3], channels: channels}
	}
	return batch, shapes, nil
}

// Decode runs the anchor/grid decoding over one batch of raw tensors.
//
// Arguments:
//   - inputs: One tensor per scale, shaped [batch, anchor_slot, grid_y,
//     grid_x, 5+num_classes] with channel layout [box_cx, box_cy, box_w,
//     box_h, objectness, class_0...]. All scales must agree on batch size
//     and channel count.
//   - confThreshold: Exclusive lower bound; a cell contributes only when
//     objectness and class_conf*objectness are strictly greater.
//
// Returns:
//   - One DetectionSet per image, in batch order. Images with no candidate
//     yield an empty set.
//   - An error wrapping ErrTensorShape when any scale tensor is malformed;
//     no sets are produced in that case.
func (d *Decoder) Decode(inputs []*tensor.Dense, confThreshold float32) ([]*DetectionSet, error) {
	batch, shapes, err := d.validateInputs(inputs)
	if err != nil {
		return nil, err
	}

	sets := make([]*DetectionSet, batch)
	counts := make([]int, batch)
	for b := range sets {
		sets[b] = NewDetectionSet()
	}

	for s := range shapes {
		for b := 0; b < batch; b++ {
			if counts[b] >= d.maxCand {
				continue
			}
			if err := d.decodeScaleImage(shapes[s], s, b, confThreshold, sets[b], &counts[b]); err != nil {
				return nil, err
			}
		}
	}
	return sets, nil
}

// decodeScaleImage walks one (scale, image) block, accumulates passing
// candidates in center form, and bulk-appends them in corner form.
func (d *Decoder) decodeScaleImage(sc scaleShape, s, b int, confThreshold float32, set *DetectionSet, count *int) error {
	stride := d.strides[s]
	numClasses := sc.channels - numBoxChannels

	var pcy, pcx, pw, ph, scores, classes []float32

	full := false
	for a := 0; a < d.slots && !full; a++ {
		anchorW := d.scaledW[s][a]
		anchorH := d.scaledH[s][a]
		for y := 0; y < sc.gridY && !full; y++ {
			rowBase := (((b*d.slots+a)*sc.gridY + y) * sc.gridX) * sc.channels
			for x := 0; x < sc.gridX; x++ {
				cell := sc.data[rowBase+x*sc.channels : rowBase+(x+1)*sc.channels]
				objectness := cell[4]
				if objectness <= confThreshold {
					continue
				}

				cy := (cell[1]*2 - 0.5 + float32(y)) * stride
				cx := (cell[0]*2 - 0.5 + float32(x)) * stride
				h := 4 * cell[3] * cell[3] * anchorH
				w := 4 * cell[2] * cell[2] * anchorW

				for c := 0; c < numClasses; c++ {
					score := cell[numBoxChannels+c] * objectness
					if score <= confThreshold {
						continue
					}
					pcy = append(pcy, cy)
					pcx = append(pcx, cx)
					pw = append(pw, w)
					ph = append(ph, h)
					scores = append(scores, score)
					classes = append(classes, float32(c))

					*count++
					if *count >= d.maxCand {
						full = true
						break
					}
				}
				if full {
					break
				}
			}
		}
	}

	x1, y1, x2, y2, err := CornersFromCenters(pcy, pcx, pw, ph)
	if err != nil {
		return err
	}
	return set.Append(x1, y1, x2, y2, scores, classes)
}
