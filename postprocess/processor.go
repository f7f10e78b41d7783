package postprocess

import (
	"sync"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolo/profiler"
)

// MaxNMSCandidates is the default pre-suppression candidate cap. A set
// larger than this is trimmed to its top scorers before NMS. With default
// decode caps this bound is defensive: a decoded image can never exceed it
// unless MaxCandidates was raised.
const MaxNMSCandidates = 30000

// Options configures a Processor. Zero values select the documented
// defaults.
type Options struct {
	// Anchors is the anchor table, shape [num_scales, num_anchor_slots, 2],
	// float32, (width, height) in stride units.
	Anchors *tensor.Dense
	// Strides holds one downsampling factor per scale.
	Strides []float32
	// NumClasses fixes the expected class count. Zero derives it from the
	// first scale tensor of each batch.
	NumClasses int
	// Workers bounds per-image parallelism after decoding. Values below 2
	// select the sequential path.
	Workers int
	// MaxCandidates caps decoded candidates per image (default
	// MaxDecodeCandidates).
	MaxCandidates int
	// PreNMSLimit caps the candidates handed to suppression (default
	// MaxNMSCandidates).
	PreNMSLimit int
	// Profiler, when set, records stage timings under the "decode" and
	// "suppress" operations.
	Profiler *profiler.Profiler
}

// EvalOptions carries the per-call thresholds of one evaluation.
type EvalOptions struct {
	// ConfThreshold is the exclusive lower bound on objectness and on
	// class_conf*objectness.
	ConfThreshold float32 `json:"conf_threshold" yaml:"conf_threshold"`
	// IoUThreshold is the exclusive overlap bound for suppression.
	IoUThreshold float32 `json:"iou_threshold"  yaml:"iou_threshold"`
	// Epsilon stabilizes the IoU denominator. Zero selects DefaultEpsilon.
	Epsilon float32 `json:"epsilon"        yaml:"epsilon"`
	// Agnostic suppresses across classes when true.
	Agnostic bool `json:"agnostic"       yaml:"agnostic"`
}

// Processor runs the full post-processing pipeline: decode, optional
// pre-NMS trim, suppression, and record materialization. Aside from its
// immutable configuration it is stateless; one instance may serve
// concurrent Process calls.
type Processor struct {
	decoder     *Decoder
	workers     int
	preNMSLimit int
	prof        *profiler.Profiler
}

// NewProcessor validates the configuration and builds a processor.
// Configuration errors (malformed anchor table, stride count mismatch) fail
// here; no instance is produced.
func NewProcessor(opts Options) (*Processor, error) {
	decoder, err := newDecoder(opts.Anchors, opts.Strides, opts.NumClasses, opts.MaxCandidates)
	if err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	preNMSLimit := opts.PreNMSLimit
	if preNMSLimit <= 0 {
		preNMSLimit = MaxNMSCandidates
	}

	return &Processor{
		decoder:     decoder,
		workers:     workers,
		preNMSLimit: preNMSLimit,
		prof:        opts.Profiler,
	}, nil
}

// Decoder returns the processor's decoder.
func (p *Processor) Decoder() *Decoder {
	return p.decoder
}

// Process evaluates one batch.
//
// Arguments:
//   - inputs: One raw tensor per scale (see Decoder.Decode for the layout).
//   - opts: Per-call thresholds.
//
// Returns:
//   - One detection list per image in batch order. Record order within an
//     image is suppression order (highest score accepted first); an image
//     with no surviving candidate gets an empty list.
//   - An error when the batch is malformed; no partial results are returned.
func (p *Processor) Process(inputs []*tensor.Dense, opts EvalOptions) ([][]Detection, error) {
	stop := p.startOperation("decode")
	sets, err := p.decoder.Decode(inputs, opts.ConfThreshold)
	stop()
	if err != nil {
		return nil, errors.Wrap(err, "decode failed")
	}

	nms := NMSConfig{
		IoUThreshold: opts.IoUThreshold,
		Epsilon:      opts.Epsilon,
		Agnostic:     opts.Agnostic,
	}

	stop = p.startOperation("suppress")
	defer stop()

	results := make([][]Detection, len(sets))
	if p.workers < 2 || len(sets) < 2 {
		for i, set := range sets {
			results[i] = p.suppressImage(set, nms)
		}
		return results, nil
	}

	// Images are independent: each goroutine owns exactly one image's set
	// and result slot.
	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup
	for i, set := range sets {
		wg.Add(1)
		go func(idx int, s *DetectionSet) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = p.suppressImage(s, nms)
		}(i, set)
	}
	wg.Wait()

	return results, nil
}

// suppressImage finishes one image: trim when oversized, suppress, and
// materialize records in acceptance order.
func (p *Processor) suppressImage(set *DetectionSet, nms NMSConfig) []Detection {
	if set.Len() > p.preNMSLimit {
		set.SortAndTrim(p.preNMSLimit)
	}

	keep := Suppress(set, nms)
	records := make([]Detection, 0, len(keep))
	for _, idx := range keep {
		records = append(records, Detection{
			Index: idx,
			Box:   set.Box(idx),
			Score: set.Score(idx),
			Class: set.Class(idx),
		})
	}
	return records
}

func (p *Processor) startOperation(name string) func() {
	if p.prof == nil {
		return func() {}
	}
	return p.prof.StartOperation(name)
}
