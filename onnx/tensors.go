// Package onnx - bridges ONNX Runtime session outputs into the
// post-processing pipeline. ONNX Runtime tensors are backed by C memory
// owned by their session, so conversion copies the values into Go-owned
// dense tensors before the decoder consumes them.
package onnx

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// ErrOutputData reports session output data that cannot be shaped into a
// decoder input.
var ErrOutputData = errors.New("invalid session output data")

// DenseFromRaw copies a flat float32 buffer into a dense tensor of the
// given dimensions.
//
// Arguments:
//   - data: The flat buffer, laid out row-major.
//   - dims: Target dimensions, all positive.
//
// Returns:
//   - The dense tensor, or an error wrapping ErrOutputData when dims are
//     empty, non-positive, or disagree with len(data).
func DenseFromRaw(data []float32, dims []int64) (*tensor.Dense, error) {
	if len(dims) == 0 {
		return nil, errors.Wrap(ErrOutputData, "no dimensions")
	}

	size := int64(1)
	shape := make([]int, len(dims))
	for i, d := range dims {
		if d <= 0 {
			return nil, errors.Wrapf(ErrOutputData, "dimension %d is %d", i, d)
		}
		size *= d
		shape[i] = int(d)
	}
	if size != int64(len(data)) {
		return nil, errors.Wrapf(ErrOutputData, "%d values for shape %v (want %d)", len(data), dims, size)
	}

	backing := append([]float32(nil), data...)
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)), nil
}

// DenseFromTensor converts one ONNX Runtime output tensor into a decoder
// input. The values are copied; the source tensor may be destroyed
// afterwards.
func DenseFromTensor(t *ort.Tensor[float32]) (*tensor.Dense, error) {
	if t == nil {
		return nil, errors.Wrap(ErrOutputData, "tensor is nil")
	}
	return DenseFromRaw(t.GetData(), t.GetShape())
}

// DensesFromTensors converts a session's per-scale outputs in order.
//
// Returns:
//   - One dense tensor per input, or the first conversion error annotated
//     with the failing output's position.
func DensesFromTensors(outputs ...*ort.Tensor[float32]) ([]*tensor.Dense, error) {
	converted := make([]*tensor.Dense, len(outputs))
	for i, out := range outputs {
		d, err := DenseFromTensor(out)
		if err != nil {
			return nil, errors.Wrapf(err, "output %d", i)
		}
		converted[i] = d
	}
	return converted, nil
}

// DetectionOutputShape returns the raw output shape a YOLO-family head
// produces for one scale, for wiring session output allocation.
func DetectionOutputShape(batch, anchorSlots, gridY, gridX, numClasses int) ort.Shape {
	return ort.NewShape(
		int64(batch),
		int64(anchorSlots),
		int64(gridY),
		int64(gridX),
		int64(5+numClasses),
	)
}
