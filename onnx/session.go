package onnx

import (
	"fmt"
	"os"
	"runtime"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// ErrSessionConfig reports session arguments that cannot describe a runnable
// detector.
var ErrSessionConfig = errors.New("invalid session configuration")

// Backend selects the execution provider a session runs on.
type Backend string

const (
	// BackendCPU runs on the default CPU provider.
	BackendCPU Backend = "cpu"
	// BackendCUDA runs on NVIDIA GPUs through the CUDA provider.
	BackendCUDA Backend = "cuda"
	// BackendCoreML runs on Apple hardware through the CoreML provider.
	BackendCoreML Backend = "coreml"
)

// CUDAConfig carries the CUDA provider options the detector exposes. See
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAConfig struct {
	// DeviceID selects the GPU.
	DeviceID int `json:"device_id"             yaml:"device_id"`
	// GPUMemLimit bounds the provider's arena in bytes; zero leaves the
	// runtime default.
	GPUMemLimit int64 `json:"gpu_mem_limit"         yaml:"gpu_mem_limit"`
	// ArenaExtendStrategy picks how the arena grows: 0 extends by powers of
	// two, 1 by the requested amount.
	ArenaExtendStrategy int `json:"arena_extend_strategy" yaml:"arena_extend_strategy"`
	// UseTF32 enables TensorFloat-32 math on Ampere and newer GPUs.
	UseTF32 bool `json:"use_tf32"              yaml:"use_tf32"`
}

// SessionArgs represents the arguments for creating a detector session.
type SessionArgs struct {
	// ModelPath is the ONNX model file.
	ModelPath string `json:"model_path"   yaml:"model_path"`
	// LibraryPath overrides the ONNX Runtime shared library location. Empty
	// selects DefaultLibraryPath.
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// InputName is the model's image input node; empty selects "images".
	InputName string `json:"input_name"   yaml:"input_name"`
	// InputShape is the image input shape, typically
	// [batch, channels, height, width].
	InputShape ort.Shape `json:"input_shape"  yaml:"input_shape"`
	// OutputNames are the per-scale head output nodes; empty derives
	// "output0", "output1", ... from OutputShapes.
	OutputNames []string `json:"output_names" yaml:"output_names"`
	// OutputShapes give one raw head shape per scale, usually built with
	// DetectionOutputShape.
	OutputShapes []ort.Shape `json:"output_shapes" yaml:"output_shapes"`
	// Backend selects the execution provider; empty selects BackendCPU.
	Backend Backend `json:"backend"      yaml:"backend"`
	// CUDA configures the CUDA provider when Backend is BackendCUDA.
	CUDA CUDAConfig `json:"cuda"         yaml:"cuda"`
	// IntraOpThreads and InterOpThreads bound runtime parallelism; zero lets
	// the runtime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`
}

// Session owns one loaded detector model with preallocated input and output
// tensors. Run is not safe for concurrent use; callers that need parallelism
// run one session per goroutine.
type Session struct {
	session  *ort.AdvancedSession
	input    *ort.Tensor[float32]
	outputs  []*ort.Tensor[float32]
	inputLen int
}

// DefaultLibraryPath returns the expected ONNX Runtime shared library
// location for the current platform.
func DefaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "third_party/onnxruntime.dll"
	case "darwin":
		return "third_party/libonnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "third_party/onnxruntime_arm64.so"
		}
		return "third_party/onnxruntime.so"
	}
}

// NewSession loads a detector model and prepares it for Run.
//
// Order of operations:
//  1. Argument validation, so configuration mistakes fail before any native
//     state exists.
//  2. Library path check and environment initialization.
//  3. Tensor allocation for the input image and every head output.
//  4. Session options: threading, graph optimization, execution provider.
//  5. Session creation binding the preallocated tensors.
//
// Arguments:
//   - args: The session configuration.
//
// Returns:
//   - The session, or an error wrapping ErrSessionConfig for malformed
//     arguments and the underlying runtime error otherwise.
func NewSession(args SessionArgs) (*Session, error) {
	if args.ModelPath == "" {
		return nil, errors.Wrap(ErrSessionConfig, "model path is empty")
	}
	if len(args.InputShape) == 0 {
		return nil, errors.Wrap(ErrSessionConfig, "input shape is empty")
	}
	if len(args.OutputShapes) == 0 {
		return nil, errors.Wrap(ErrSessionConfig, "no output shapes")
	}
	if len(args.OutputNames) > 0 && len(args.OutputNames) != len(args.OutputShapes) {
		return nil, errors.Wrapf(ErrSessionConfig, "%d output names for %d shapes",
			len(args.OutputNames), len(args.OutputShapes))
	}

	inputName := args.InputName
	if inputName == "" {
		inputName = "images"
	}
	outputNames := args.OutputNames
	if len(outputNames) == 0 {
		outputNames = make([]string, len(args.OutputShapes))
		for i := range outputNames {
			outputNames[i] = defaultOutputName(i)
		}
	}

	libPath := args.LibraryPath
	if libPath == "" {
		libPath = DefaultLibraryPath()
	}
	if _, err := os.Stat(libPath); err != nil {
		return nil, errors.Wrapf(err, "ONNX Runtime library at %s", libPath)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, errors.Wrap(err, "initializing ORT environment")
	}

	input, err := ort.NewEmptyTensor[float32](args.InputShape)
	if err != nil {
		return nil, errors.Wrap(err, "allocating input tensor")
	}

	outputs := make([]*ort.Tensor[float32], len(args.OutputShapes))
	for i, shape := range args.OutputShapes {
		outputs[i], err = ort.NewEmptyTensor[float32](shape)
		if err != nil {
			input.Destroy()
			destroyTensors(outputs[:i])
			return nil, errors.Wrapf(err, "allocating output tensor %d", i)
		}
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		destroyTensors(outputs)
		return nil, errors.Wrap(err, "creating session options")
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(args.IntraOpThreads)
	options.SetInterOpNumThreads(args.InterOpThreads)
	options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended)

	switch args.Backend {
	case BackendCUDA:
		cuda, err := cudaProviderOptions(args.CUDA)
		if err != nil {
			input.Destroy()
			destroyTensors(outputs)
			return nil, errors.Wrap(err, "configuring CUDA provider")
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			input.Destroy()
			destroyTensors(outputs)
			return nil, errors.Wrap(err, "enabling CUDA provider")
		}
	case BackendCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			input.Destroy()
			destroyTensors(outputs)
			return nil, errors.Wrap(err, "enabling CoreML provider")
		}
	}

	arbitraryInputs := []ort.ArbitraryTensor{input}
	arbitraryOutputs := make([]ort.ArbitraryTensor, len(outputs))
	for i, out := range outputs {
		arbitraryOutputs[i] = out
	}

	session, err := ort.NewAdvancedSession(
		args.ModelPath,
		[]string{inputName},
		outputNames,
		arbitraryInputs,
		arbitraryOutputs,
		options,
	)
	if err != nil {
		input.Destroy()
		destroyTensors(outputs)
		return nil, errors.Wrap(err, "creating ORT session")
	}

	return &Session{
		session:  session,
		input:    input,
		outputs:  outputs,
		inputLen: len(input.GetData()),
	}, nil
}

// Run executes one forward pass.
//
// Arguments:
//   - pixels: The preprocessed image buffer, laid out to match the session's
//     input shape.
//
// Returns:
//   - One decoder-ready dense tensor per head output, copied out of the
//     session's native buffers.
func (s *Session) Run(pixels []float32) ([]*tensor.Dense, error) {
	if len(pixels) != s.inputLen {
		return nil, errors.Wrapf(ErrSessionConfig,
			"%d input values for an input of %d", len(pixels), s.inputLen)
	}
	copy(s.input.GetData(), pixels)

	if err := s.session.Run(); err != nil {
		return nil, errors.Wrap(err, "running session")
	}
	return DensesFromTensors(s.outputs...)
}

// Close releases the session and its tensors along with the runtime
// environment.
func (s *Session) Close() error {
	if s.input != nil {
		s.input.Destroy()
		s.input = nil
	}
	destroyTensors(s.outputs)
	s.outputs = nil

	if s.session != nil {
		if err := s.session.Destroy(); err != nil {
			return errors.Wrap(err, "destroying ORT session")
		}
		s.session = nil
	}
	return ort.DestroyEnvironment()
}

func destroyTensors(tensors []*ort.Tensor[float32]) {
	for _, t := range tensors {
		if t != nil {
			t.Destroy()
		}
	}
}

func defaultOutputName(i int) string {
	return fmt.Sprintf("output%d", i)
}

func cudaProviderOptions(cfg CUDAConfig) (*ort.CUDAProviderOptions, error) {
	opts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, err
	}

	settings := map[string]string{
		"device_id":             fmt.Sprintf("%d", cfg.DeviceID),
		"arena_extend_strategy": fmt.Sprintf("%d", cfg.ArenaExtendStrategy),
	}
	if cfg.GPUMemLimit > 0 {
		settings["gpu_mem_limit"] = fmt.Sprintf("%d", cfg.GPUMemLimit)
	}
	if cfg.UseTF32 {
		settings["use_tf32"] = "1"
	}
	if err := opts.Update(settings); err != nil {
		opts.Destroy()
		return nil, err
	}
	return opts, nil
}
