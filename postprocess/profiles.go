package postprocess

import "gorgonia.org/tensor"

// COCOAnchors returns the standard YOLOv5 COCO anchor table: three scales
// (P3/8, P4/16, P5/32) with three (width, height) priors each, in stride
// units.
func COCOAnchors() *tensor.Dense {
	return tensor.New(
		tensor.WithShape(3, 3, 2),
		tensor.WithBacking([]float32{
			1.25, 1.625, 2.0, 3.75, 4.125, 2.875, // P3/8
			1.875, 3.8125, 3.875, 2.8125, 3.6875, 7.4375, // P4/16
			3.625, 2.8125, 4.875, 6.1875, 11.65625, 10.1875, // P5/32
		}),
	)
}

// COCOStrides returns the downsampling factors matching COCOAnchors.
func COCOStrides() []float32 {
	return []float32{8, 16, 32}
}

// COCODefaults returns Options preconfigured for the standard 80-class
// YOLOv5 COCO head. Callers adjust thresholds and workers as needed.
func COCODefaults() Options {
	return Options{
		Anchors:    COCOAnchors(),
		Strides:    COCOStrides(),
		NumClasses: 80,
	}
}
