package model

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/captcha-api/internal/ctc"
	"github.com/Brownie44l1/captcha-api/internal/imageproc"
)

// Server runs the ONNX sequence model. Input and output tensors are allocated
// once, so Classify calls are serialized.
type Server struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// Options tune how the runtime is loaded.
type Options struct {
	// SharedLibraryPath points at libonnxruntime. Empty uses the default
	// lookup of onnxruntime_go.
	SharedLibraryPath string
	// IntraOpThreads limits the threads used per run; 0 keeps the default.
	IntraOpThreads int
}

// NewServer loads the model at modelPath. meta must already be validated;
// when meta.OutputShape is empty it is read from the model file.
func NewServer(modelPath string, meta Metadata, opts Options) (*Server, error) {
	if opts.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	if len(meta.OutputShape) == 0 {
		shape, err := outputShapeFromModel(modelPath, meta.OutputName)
		if err != nil {
			return nil, err
		}
		meta.OutputShape = shape
	}
	if len(meta.OutputShape) != 3 || meta.OutputShape[0] != 1 || meta.OutputShape[2] <= 0 {
		return nil, fmt.Errorf("unsupported output shape %v, want [1, T, C]", meta.OutputShape)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	var sessionOpts *ort.SessionOptions
	if opts.IntraOpThreads > 0 {
		sessionOpts, err = ort.NewSessionOptions()
		if err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, fmt.Errorf("failed to create session options: %w", err)
		}
		defer sessionOpts.Destroy()
		if err := sessionOpts.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		sessionOpts)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Server{
		session:      session,
		Metadata:     meta,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// outputShapeFromModel reads the named output's dimensions, pinning a dynamic
// batch dimension to 1.
func outputShapeFromModel(modelPath, name string) ([]int64, error) {
	_, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model outputs: %w", err)
	}
	for _, o := range outputs {
		if o.Name != name {
			continue
		}
		shape := make([]int64, len(o.Dimensions))
		copy(shape, o.Dimensions)
		if len(shape) > 0 && shape[0] < 0 {
			shape[0] = 1
		}
		for _, d := range shape {
			if d < 0 {
				return nil, fmt.Errorf("output %q has dynamic shape %v; set output_shape in metadata", name, o.Dimensions)
			}
		}
		return shape, nil
	}
	return nil, fmt.Errorf("model has no output named %q", name)
}

// Classify implements predictor.Classifier.
func (s *Server) Classify(ctx context.Context, t imageproc.Tensor) (ctc.ProbabilityMatrix, error) {
	if err := ctx.Err(); err != nil {
		return ctc.ProbabilityMatrix{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return ctc.ProbabilityMatrix{}, err
	}

	in := s.inputTensor.GetData()
	if len(t.Data) != len(in) {
		return ctc.ProbabilityMatrix{}, fmt.Errorf("input has %d values, model expects %d", len(t.Data), len(in))
	}
	copy(in, t.Data)

	if err := s.session.Run(); err != nil {
		return ctc.ProbabilityMatrix{}, fmt.Errorf("inference failed: %w", err)
	}

	// The output buffer is reused by the next run.
	out := make([]float32, len(s.outputTensor.GetData()))
	copy(out, s.outputTensor.GetData())
	return ctc.NewProbabilityMatrix(s.outputTensor.GetShape(), out)
}

func (s *Server) Close() {
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
	ort.DestroyEnvironment()
}
