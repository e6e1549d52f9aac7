package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/mouthless/internal/eraser"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, eraser.DefaultOptions(), cfg.EraseOptions())
	assert.Equal(t, 0.3, cfg.Detector.Pad)
	assert.Equal(t, "mp4v", cfg.Video.Codec)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "mouthless.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
erase:
  stride: 3
  coverage: 0.8
  scoreWeights:
    gradient: 2
detector:
  ortLibrary: /opt/ort/libonnxruntime.so
workers: 2
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Erase.Stride)
	assert.Equal(t, 0.8, cfg.Erase.Coverage)
	assert.Equal(t, 2.0, cfg.Erase.ScoreWeights.Gradient)
	assert.Equal(t, 0.1, cfg.Erase.ScoreWeights.Height, "unset keys keep their defaults")
	assert.Equal(t, "/opt/ort/libonnxruntime.so", cfg.Detector.ORTLibrary)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 256, cfg.Erase.NormPatchSize)

	p := cfg.Pipeline()
	assert.Equal(t, 3, p.Stride)
	assert.Equal(t, 2, p.Workers)
	assert.Equal(t, 0.8, p.Erase.Coverage)
}

func TestLoad_EnvAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Cleanup(func() { os.Unsetenv("MOUTHLESS_CODEC") })
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MOUTHLESS_CODEC=avc1\n"), 0o644))
	t.Setenv("MOUTHLESS_WORKERS", "5")
	t.Setenv("MOUTHLESS_BUFFER_FRAMES", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Workers)
	assert.False(t, cfg.Video.BufferFrames)
	assert.Equal(t, "avc1", cfg.Video.Codec)
}

func TestLoad_Errors(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("MOUTHLESS_STRIDE", "often")
	_, err = Load("")
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestLoad_LeavesValidationToCaller(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "mouthless.yaml")
	require.NoError(t, os.WriteFile(path, []byte("erase:\n  stride: 0\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalid))

	cfg.Erase.Stride = 2
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Ranges(t *testing.T) {
	cases := map[string]func(*Config){
		"stride":    func(c *Config) { c.Erase.Stride = 0 },
		"cutoff":    func(c *Config) { c.Erase.SmoothCutoffHz = -1 },
		"coverage":  func(c *Config) { c.Erase.Coverage = 1.5 },
		"inpaint":   func(c *Config) { c.Erase.InpaintRadius = 0 },
		"patch":     func(c *Config) { c.Erase.NormPatchSize = 8 },
		"scale":     func(c *Config) { c.Erase.QuadScale = 0 },
		"samples":   func(c *Config) { c.Erase.ReferenceSamples = 0 },
		"workers":   func(c *Config) { c.Workers = 0 },
		"detection": func(c *Config) { c.Detector.DetectionSize = 500 },
		"level":     func(c *Config) { c.Log.Level = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestLogger_LevelAndFormat(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	log := Log{Level: "warn"}.Logger(&buf, false)
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)

	buf.Reset()
	log = Log{Level: "error", Human: true}.Logger(&buf, true)
	log.Debug().Msg("forced")
	assert.Contains(t, buf.String(), "forced")
	assert.NotContains(t, buf.String(), `"message"`)
}
