package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/dudu/mouthless/internal/config"
	"github.com/dudu/mouthless/internal/detector"
	"github.com/dudu/mouthless/internal/inference"
	"github.com/dudu/mouthless/internal/pipeline"
	"github.com/dudu/mouthless/internal/ui"
)

func init() {
	// Lock the main goroutine to the main OS thread.
	// This is required on macOS for OpenCV's highgui (window creation).
	runtime.LockOSThread()
}

// Options are the command line settings. Tuning flags only override the
// config file when given explicitly.
type Options struct {
	Input       string
	Prefix      string
	ConfigPath  string
	Positions   string
	DebugOutput string
	Preview     bool
	Debug       bool

	Stride        int
	Pad           float64
	SmoothCutoff  float64
	MinDetection  float64
	Coverage      float64
	InpaintRadius int
	Workers       int
	Codec         string
	NoBuffer      bool
}

func main() {
	opts, set := parseFlags()

	if opts.Input == "" {
		fmt.Fprintln(os.Stderr, "Error: input video is required")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(opts, set); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (Options, map[string]bool) {
	def := config.Default()
	opts := Options{}

	flag.StringVar(&opts.Prefix, "output", "", "Output prefix (default: input path without extension)")
	flag.StringVar(&opts.Prefix, "o", "", "Output prefix (shorthand)")
	flag.StringVar(&opts.ConfigPath, "config", "", "YAML config file")
	flag.StringVar(&opts.ConfigPath, "c", "", "YAML config file (shorthand)")
	flag.StringVar(&opts.Positions, "positions", "", "Use this positions document instead of running the detector")
	flag.StringVar(&opts.DebugOutput, "debug-output", "", "Also write a video with the tracked quad drawn on each frame")
	flag.BoolVar(&opts.Preview, "preview", false, "Show preview window")
	flag.BoolVar(&opts.Preview, "p", false, "Show preview window (shorthand)")
	flag.BoolVar(&opts.Debug, "debug", false, "Debug logging level")

	flag.IntVar(&opts.Stride, "stride", def.Erase.Stride, "Run the detector every N frames")
	flag.Float64Var(&opts.Pad, "pad", def.Detector.Pad, "Padding added to the measured mouth size")
	flag.Float64Var(&opts.SmoothCutoff, "smooth-cutoff", def.Erase.SmoothCutoffHz, "Smoothing cutoff in Hz (0 disables)")
	flag.Float64Var(&opts.MinDetection, "min-detection-confidence", float64(def.Detector.ConfThreshold), "Minimum face detection score")
	flag.Float64Var(&opts.Coverage, "coverage", def.Erase.Coverage, "Share of the quad covered by the erase mask (0-1)")
	flag.IntVar(&opts.InpaintRadius, "inpaint-radius", def.Erase.InpaintRadius, "Inpainting radius in pixels")
	flag.IntVar(&opts.Workers, "workers", def.Workers, "Parallel erase workers")
	flag.IntVar(&opts.Workers, "w", def.Workers, "Parallel erase workers (shorthand)")
	flag.StringVar(&opts.Codec, "codec", def.Video.Codec, "Output FourCC")
	flag.BoolVar(&opts.NoBuffer, "no-buffer", false, "Decode the input twice instead of keeping frames in memory")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "mouthless - erase the mouth region of a talking-head video\n\n")
		fmt.Fprintf(os.Stderr, "Usage: mouthless [options] <input video>\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nOutputs <prefix>.mouth.json and <prefix>_mouthless.mp4.\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  mouthless talk.mp4\n")
		fmt.Fprintf(os.Stderr, "  mouthless -o out/talk --coverage 0.7 --debug-output talk_debug.mp4 talk.mp4\n")
		fmt.Fprintf(os.Stderr, "  mouthless --positions talk.mouth.json talk.mp4\n")
	}

	flag.Parse()
	opts.Input = flag.Arg(0)

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return opts, set
}

// apply copies explicitly set flags over the file/env configuration.
func (o Options) apply(cfg *config.Config, set map[string]bool) {
	if set["stride"] {
		cfg.Erase.Stride = o.Stride
	}
	if set["pad"] {
		cfg.Detector.Pad = o.Pad
	}
	if set["smooth-cutoff"] {
		cfg.Erase.SmoothCutoffHz = o.SmoothCutoff
	}
	if set["min-detection-confidence"] {
		cfg.Detector.ConfThreshold = float32(o.MinDetection)
	}
	if set["coverage"] {
		cfg.Erase.Coverage = o.Coverage
	}
	if set["inpaint-radius"] {
		cfg.Erase.InpaintRadius = o.InpaintRadius
	}
	if set["workers"] || set["w"] {
		cfg.Workers = o.Workers
	}
	if set["codec"] {
		cfg.Video.Codec = o.Codec
	}
	if o.NoBuffer {
		cfg.Video.BufferFrames = false
	}
}

// outputPrefix is the input path without its extension unless given.
func (o Options) outputPrefix() string {
	if o.Prefix != "" {
		return o.Prefix
	}
	return strings.TrimSuffix(o.Input, filepath.Ext(o.Input))
}

func run(opts Options, set map[string]bool) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	opts.apply(&cfg, set)
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := cfg.Log.Logger(os.Stderr, opts.Debug)

	prefix := opts.outputPrefix()
	pcfg := cfg.Pipeline()
	pcfg.Input = opts.Input
	pcfg.Output = prefix + "_mouthless.mp4"
	pcfg.PositionsOut = prefix + ".mouth.json"
	pcfg.PositionsIn = opts.Positions
	pcfg.DebugOutput = opts.DebugOutput

	var tracker pipeline.Tracker
	if opts.Positions == "" {
		t, err := newTracker(cfg, log)
		if err != nil {
			return err
		}
		defer inference.Shutdown()
		tracker = t
	}

	p, err := pipeline.New(pcfg, tracker, log)
	if err != nil {
		return errors.Wrap(err, "failed to create pipeline")
	}
	defer p.Close()

	if opts.Preview {
		window := ui.NewWindow("mouthless", cfg.Erase.QuadScale)
		defer window.Close()
		p.AddHook(window)
	}

	// Handle signals for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("input", pcfg.Input).Str("output", pcfg.Output).Msg("mouthless starting")
	res, err := p.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Warn().Msg("interrupted")
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("output", pcfg.Output).
		Str("positions", pcfg.PositionsOut).
		Int("reference", res.Reference.Index).
		Float64("detectionRate", res.Stats.DetectionRate()).
		Dur("analyze", res.Timing.Analyze).
		Dur("erase", res.Timing.Erase).
		Bool("stopped", res.Stats.Stopped).
		Msg("done")
	return nil
}

func newTracker(cfg config.Config, log zerolog.Logger) (*detector.MouthTracker, error) {
	if err := inference.Initialize(cfg.Detector.ORTLibrary); err != nil {
		return nil, err
	}
	t, err := detector.NewMouthTracker(cfg.DetectorOptions(), log)
	if err != nil {
		inference.Shutdown()
		return nil, errors.Wrap(err, "failed to load detector")
	}
	return t, nil
}
