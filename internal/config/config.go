package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/dudu/mouthless/internal/detector"
	"github.com/dudu/mouthless/internal/eraser"
	"github.com/dudu/mouthless/internal/inference"
	"github.com/dudu/mouthless/internal/pipeline"
	"github.com/dudu/mouthless/internal/video"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MOUTHLESS_"

// ErrInvalid marks a configuration value out of range.
var ErrInvalid = errors.New("invalid configuration")

// Erase tunes tracking conditioning and the erase pass.
type Erase struct {
	Stride                 int                 `yaml:"stride"`
	SmoothCutoffHz         float64             `yaml:"smoothCutoffHz"`
	Coverage               float64             `yaml:"coverage"`
	InpaintRadius          int                 `yaml:"inpaintRadius"`
	NormPatchSize          int                 `yaml:"normPatchSize"`
	QuadScale              float64             `yaml:"quadScale"`
	ReferenceSamples       int                 `yaml:"referenceSamples"`
	MinReferenceConfidence float64             `yaml:"minReferenceConfidence"`
	ScoreWeights           eraser.ScoreWeights `yaml:"scoreWeights"`
	ChromaRingPx           int                 `yaml:"chromaRingPx"`
}

// Detector selects the face models and their thresholds.
type Detector struct {
	SCRFDModel    string  `yaml:"scrfdModel"`
	LandmarkModel string  `yaml:"landmarkModel"`
	ORTLibrary    string  `yaml:"ortLibrary"`
	DetectionSize int     `yaml:"detectionSize"`
	ConfThreshold float32 `yaml:"confThreshold"`
	NMSThreshold  float32 `yaml:"nmsThreshold"`
	Pad           float64 `yaml:"pad"`
	Threads       int     `yaml:"threads"`
	CoreML        bool    `yaml:"coreml"`
}

// Video configures decoding and encoding.
type Video struct {
	Codec        string `yaml:"codec"`
	BufferFrames bool   `yaml:"bufferFrames"`
}

// Log configures the global logger.
type Log struct {
	Level string `yaml:"level"`
	Human bool   `yaml:"human"`
}

// Config is the file/env layer below command line flags.
type Config struct {
	Erase    Erase    `yaml:"erase"`
	Detector Detector `yaml:"detector"`
	Video    Video    `yaml:"video"`
	Workers  int      `yaml:"workers"`
	Log      Log      `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	e := eraser.DefaultOptions()
	d := detector.DefaultOptions()
	return Config{
		Erase: Erase{
			Stride:                 1,
			SmoothCutoffHz:         3.0,
			Coverage:               e.Coverage,
			InpaintRadius:          e.InpaintRadius,
			NormPatchSize:          e.PatchSize,
			QuadScale:              e.QuadScale,
			ReferenceSamples:       e.Samples,
			MinReferenceConfidence: e.MinConfidence,
			ScoreWeights:           e.Weights,
			ChromaRingPx:           e.ChromaRingPx,
		},
		Detector: Detector{
			SCRFDModel:    d.SCRFDModel,
			LandmarkModel: d.LandmarkModel,
			ORTLibrary:    inference.DefaultLibraryPath,
			DetectionSize: d.DetectionSize,
			ConfThreshold: d.ConfThreshold,
			NMSThreshold:  d.NMSThreshold,
			Pad:           d.Pad,
		},
		Video: Video{
			Codec:        video.DefaultCodec,
			BufferFrames: true,
		},
		Workers: runtime.NumCPU(),
		Log:     Log{Level: "info", Human: true},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// not empty), a .env file in the working directory (if present) and
// MOUTHLESS_* environment variables, in that order. The result is not
// validated; callers apply their own overrides and then call Validate.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "failed to read config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "failed to parse config %s", path)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return cfg, errors.Wrap(err, "failed to load .env")
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides fields from variables named EnvPrefix + key.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return errors.Wrapf(ErrInvalid, "%s%s=%q is not an integer", EnvPrefix, key, v)
			}
			*dst = n
		}
		return nil
	}
	float := func(key string, dst *float64) error {
		if v, ok := lookup(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return errors.Wrapf(ErrInvalid, "%s%s=%q is not a number", EnvPrefix, key, v)
			}
			*dst = f
		}
		return nil
	}
	boolean := func(key string, dst *bool) error {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return errors.Wrapf(ErrInvalid, "%s%s=%q is not a boolean", EnvPrefix, key, v)
			}
			*dst = b
		}
		return nil
	}

	str("SCRFD_MODEL", &c.Detector.SCRFDModel)
	str("LANDMARK_MODEL", &c.Detector.LandmarkModel)
	str("ORT_LIBRARY", &c.Detector.ORTLibrary)
	str("CODEC", &c.Video.Codec)
	str("LOG_LEVEL", &c.Log.Level)

	for _, err := range []error{
		integer("WORKERS", &c.Workers),
		integer("STRIDE", &c.Erase.Stride),
		float("SMOOTH_CUTOFF", &c.Erase.SmoothCutoffHz),
		float("COVERAGE", &c.Erase.Coverage),
		integer("INPAINT_RADIUS", &c.Erase.InpaintRadius),
		boolean("BUFFER_FRAMES", &c.Video.BufferFrames),
		boolean("LOG_HUMAN", &c.Log.Human),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate checks every range the pipeline relies on.
func (c Config) Validate() error {
	e := c.Erase
	checks := []struct {
		ok  bool
		msg string
	}{
		{e.Stride >= 1, "erase.stride must be at least 1"},
		{e.SmoothCutoffHz >= 0, "erase.smoothCutoffHz must not be negative"},
		{e.Coverage >= 0 && e.Coverage <= 1, "erase.coverage must be in [0,1]"},
		{e.InpaintRadius >= 1, "erase.inpaintRadius must be at least 1"},
		{e.NormPatchSize >= 16, "erase.normPatchSize must be at least 16"},
		{e.QuadScale > 0, "erase.quadScale must be positive"},
		{e.ReferenceSamples >= 1, "erase.referenceSamples must be at least 1"},
		{e.ChromaRingPx >= 1, "erase.chromaRingPx must be at least 1"},
		{c.Workers >= 1, "workers must be at least 1"},
		{c.Detector.Pad >= 0, "detector.pad must not be negative"},
		{c.Detector.DetectionSize > 0 && c.Detector.DetectionSize%32 == 0, "detector.detectionSize must be a positive multiple of 32"},
	}
	for _, ch := range checks {
		if !ch.ok {
			return errors.Wrap(ErrInvalid, ch.msg)
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// EraseOptions converts the erase section for the eraser package.
func (c Config) EraseOptions() eraser.Options {
	return eraser.Options{
		PatchSize:     c.Erase.NormPatchSize,
		Coverage:      c.Erase.Coverage,
		QuadScale:     c.Erase.QuadScale,
		InpaintRadius: c.Erase.InpaintRadius,
		ChromaRingPx:  c.Erase.ChromaRingPx,
		Samples:       c.Erase.ReferenceSamples,
		MinConfidence: c.Erase.MinReferenceConfidence,
		Weights:       c.Erase.ScoreWeights,
	}
}

// DetectorOptions converts the detector section for the detector package.
func (c Config) DetectorOptions() detector.Options {
	d := c.Detector
	return detector.Options{
		SCRFDModel:    d.SCRFDModel,
		LandmarkModel: d.LandmarkModel,
		DetectionSize: d.DetectionSize,
		ConfThreshold: d.ConfThreshold,
		NMSThreshold:  d.NMSThreshold,
		Pad:           d.Pad,
		Inference:     inference.Options{Threads: d.Threads, CoreML: d.CoreML},
	}
}

// Pipeline fills the tuning part of a pipeline configuration. Paths are
// left to the caller.
func (c Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Codec:          c.Video.Codec,
		BufferFrames:   c.Video.BufferFrames,
		Stride:         c.Erase.Stride,
		SmoothCutoffHz: c.Erase.SmoothCutoffHz,
		Workers:        c.Workers,
		Erase:          c.EraseOptions(),
	}
}
