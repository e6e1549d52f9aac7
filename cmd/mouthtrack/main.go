package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/dudu/mouthless/internal/config"
	"github.com/dudu/mouthless/internal/detector"
	"github.com/dudu/mouthless/internal/inference"
	"github.com/dudu/mouthless/internal/pipeline"
)

// Options are the command line settings.
type Options struct {
	Input      string
	Output     string
	ConfigPath string
	Inspect      string
	DebugOutput  string
	Stride       int
	Pad          float64
	SmoothCutoff float64
	MinDetection float64
	Debug        bool
}

func main() {
	opts := Options{}
	def := config.Default()

	flag.StringVar(&opts.Output, "output", "", "Positions document path (default: <input>.mouth.json)")
	flag.StringVar(&opts.Output, "o", "", "Positions document path (shorthand)")
	flag.StringVar(&opts.ConfigPath, "config", "", "YAML config file")
	flag.StringVar(&opts.ConfigPath, "c", "", "YAML config file (shorthand)")
	flag.StringVar(&opts.Inspect, "inspect", "", "Print the inputs and outputs of an ONNX model and exit")
	flag.IntVar(&opts.Stride, "stride", def.Erase.Stride, "Run the detector every N frames")
	flag.Float64Var(&opts.Pad, "pad", def.Detector.Pad, "Padding added to the measured mouth size")
	flag.Float64Var(&opts.SmoothCutoff, "smooth-cutoff", def.Erase.SmoothCutoffHz, "Smoothing cutoff in Hz (0 disables)")
	flag.Float64Var(&opts.MinDetection, "min-detection-confidence", float64(def.Detector.ConfThreshold), "Minimum face detection score")
	flag.StringVar(&opts.DebugOutput, "debug-output", "", "Also write a video with the tracked quad drawn on each frame")
	flag.BoolVar(&opts.Debug, "debug", false, "Debug logging level")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "mouthtrack - detect mouth positions in a video\n\n")
		fmt.Fprintf(os.Stderr, "Usage: mouthtrack [options] <input video>\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	opts.Input = flag.Arg(0)

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if opts.Input == "" && opts.Inspect == "" {
		fmt.Fprintln(os.Stderr, "Error: input video is required")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(opts, set); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts Options, set map[string]bool) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if set["stride"] {
		cfg.Erase.Stride = opts.Stride
	}
	if set["pad"] {
		cfg.Detector.Pad = opts.Pad
	}
	if set["smooth-cutoff"] {
		cfg.Erase.SmoothCutoffHz = opts.SmoothCutoff
	}
	if set["min-detection-confidence"] {
		cfg.Detector.ConfThreshold = float32(opts.MinDetection)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := cfg.Log.Logger(os.Stderr, opts.Debug)

	if err := inference.Initialize(cfg.Detector.ORTLibrary); err != nil {
		return err
	}
	defer inference.Shutdown()

	if opts.Inspect != "" {
		return inspect(opts.Inspect)
	}

	tracker, err := detector.NewMouthTracker(cfg.DetectorOptions(), log)
	if err != nil {
		return errors.Wrap(err, "failed to load detector")
	}

	pcfg := cfg.Pipeline()
	pcfg.Input = opts.Input
	pcfg.PositionsOut = opts.Output
	pcfg.DebugOutput = opts.DebugOutput
	if pcfg.PositionsOut == "" {
		pcfg.PositionsOut = strings.TrimSuffix(opts.Input, filepath.Ext(opts.Input)) + ".mouth.json"
	}

	p, err := pipeline.New(pcfg, tracker, log)
	if err != nil {
		tracker.Close()
		return errors.Wrap(err, "failed to create pipeline")
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := p.Run(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Str("positions", pcfg.PositionsOut).
		Int("frames", res.Stats.Frames).
		Int("detected", res.Stats.Detected).
		Float64("rate", res.Stats.DetectionRate()).
		Dur("elapsed", res.Timing.Total).
		Msg("done")
	return nil
}

// inspect prints the tensor signature of a model, for checking which
// detector exports are compatible.
func inspect(modelPath string) error {
	if _, err := os.Stat(modelPath); err != nil {
		return errors.Wrap(err, "model not found")
	}
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return errors.Wrapf(err, "failed to read model info from %s", modelPath)
	}

	fmt.Printf("Inputs (%d):\n", len(inputs))
	printInfo(inputs)
	fmt.Printf("\nOutputs (%d):\n", len(outputs))
	printInfo(outputs)

	metadata, err := ort.GetModelMetadata(modelPath)
	if err != nil {
		fmt.Printf("\n(no metadata: %v)\n", err)
		return nil
	}
	defer metadata.Destroy()
	if producer, err := metadata.GetProducerName(); err == nil {
		fmt.Printf("\nProducer: %s\n", producer)
	}
	if version, err := metadata.GetVersion(); err == nil {
		fmt.Printf("Version: %d\n", version)
	}
	return nil
}

func printInfo(infos []ort.InputOutputInfo) {
	sorted := append([]ort.InputOutputInfo(nil), infos...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, info := range sorted {
		fmt.Printf("  %s: shape=%v, type=%v\n", info.Name, info.Dimensions, info.DataType)
	}
}
