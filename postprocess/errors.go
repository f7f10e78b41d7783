package postprocess

import "github.com/pkg/errors"

// Sentinel errors returned by constructors and evaluation calls. Callers
// match them with errors.Is; wrapped variants carry the offending values.
var (
	// ErrAnchorShape reports an anchor table that is not 3-D float32 with a
	// trailing dimension of 2.
	ErrAnchorShape = errors.New("anchor table must be a 3-D float32 tensor with trailing dimension 2")

	// ErrStrideCount reports a strides list whose length disagrees with the
	// anchor table's scale count.
	ErrStrideCount = errors.New("strides length must match the anchor table scale count")

	// ErrTensorShape reports a raw output tensor whose shape, dtype, or
	// layout cannot be decoded.
	ErrTensorShape = errors.New("invalid raw output tensor")

	// ErrColumnLength reports detection columns of unequal length.
	ErrColumnLength = errors.New("detection columns must have equal lengths")
)
