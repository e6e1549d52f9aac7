package inference

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

// DefaultLibraryPath is where the ONNX Runtime shared library is looked up
// when no path is configured.
const DefaultLibraryPath = "lib/libonnxruntime.so"

var (
	initialized bool
	initMu      sync.Mutex
)

// Initialize loads the ONNX Runtime shared library and sets up its
// environment. Later calls are no-ops until Shutdown.
func Initialize(libraryPath string) error {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized {
		return nil
	}
	if libraryPath == "" {
		libraryPath = DefaultLibraryPath
	}
	ort.SetSharedLibraryPath(libraryPath)

	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrapf(err, "failed to initialize ONNX Runtime from %s", libraryPath)
	}

	initialized = true
	return nil
}

// Shutdown cleans up ONNX Runtime environment
func Shutdown() error {
	initMu.Lock()
	defer initMu.Unlock()

	if !initialized {
		return nil
	}

	if err := ort.DestroyEnvironment(); err != nil {
		return errors.Wrap(err, "failed to destroy ONNX Runtime environment")
	}

	initialized = false
	return nil
}

// Options tunes session creation.
type Options struct {
	Threads int  // intra-op threads, 0 leaves the runtime default
	CoreML  bool // try the CoreML execution provider first
}

// Session wraps an ONNX Runtime inference session
type Session struct {
	session   *ort.DynamicAdvancedSession
	modelPath string
}

// NewSession creates an inference session for the named model inputs and
// outputs. A failing accelerator falls back to the CPU provider.
func NewSession(modelPath string, inputNames, outputNames []string, opts Options, log zerolog.Logger) (*Session, error) {
	initMu.Lock()
	ready := initialized
	initMu.Unlock()
	if !ready {
		return nil, errors.New("ONNX Runtime not initialized, call Initialize first")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session options")
	}
	defer options.Destroy()

	if opts.Threads > 0 {
		if err := options.SetIntraOpNumThreads(opts.Threads); err != nil {
			return nil, errors.Wrap(err, "failed to set intra-op threads")
		}
	}

	provider := "cpu"
	if opts.CoreML {
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			log.Warn().Err(err).Str("model", modelPath).Msg("CoreML unavailable, using CPU")
		} else {
			provider = "coreml"
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, options)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create session for %s", modelPath)
	}
	log.Info().Str("model", modelPath).Str("provider", provider).Msg("model loaded")

	return &Session{session: session, modelPath: modelPath}, nil
}

// Run executes inference with the given inputs
func (s *Session) Run(inputs []ort.Value, outputs []ort.Value) error {
	if err := s.session.Run(inputs, outputs); err != nil {
		return errors.Wrapf(err, "inference failed for %s", s.modelPath)
	}
	return nil
}

// Destroy releases session resources
func (s *Session) Destroy() error {
	if s.session != nil {
		return s.session.Destroy()
	}
	return nil
}

// EmptyTensor allocates a zeroed tensor for a model output.
func EmptyTensor[T ort.TensorData](shape ...int64) (*ort.Tensor[T], error) {
	s := ort.NewShape(shape...)
	t, err := ort.NewTensor(s, make([]T, s.FlattenedSize()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate output tensor")
	}
	return t, nil
}
