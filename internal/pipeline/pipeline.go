package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/dudu/mouthless/internal/eraser"
	"github.com/dudu/mouthless/internal/position"
	"github.com/dudu/mouthless/internal/video"
)

// progressEvery is the frame interval between progress log lines.
const progressEvery = 100

// Config holds pipeline configuration
type Config struct {
	Input          string
	Output         string // erased video; empty runs tracking only
	PositionsIn    string // positions document used instead of a tracker
	PositionsOut   string
	DebugOutput    string
	Codec          string
	BufferFrames   bool
	Stride         int
	SmoothCutoffHz float64
	Workers        int
	Erase          eraser.Options
}

// Timing holds per-stage wall time of a run
type Timing struct {
	Analyze    time.Duration
	Select     time.Duration
	Synthesize time.Duration
	Erase      time.Duration
	Total      time.Duration
}

// Stats counts what happened to the frames of a run.
type Stats struct {
	Frames     int
	Detected   int
	Erased     int
	Skipped    int
	Degenerate int
	Offscreen  int
	Failed     int
	Written    int
	Stopped    bool
}

// DetectionRate is the share of frames with a detection before
// conditioning.
func (s Stats) DetectionRate() float64 {
	if s.Frames == 0 {
		return 0
	}
	return float64(s.Detected) / float64(s.Frames)
}

// Result summarizes a finished run.
type Result struct {
	Document  *position.Document
	Reference eraser.Selection
	Timing    Timing
	Stats     Stats
}

// Pipeline runs the two-pass erase: analyze every frame, then erase and
// re-encode them in parallel against one clean reference patch.
type Pipeline struct {
	config  Config
	tracker Tracker
	hooks   []FrameHook
	log     zerolog.Logger
}

// New creates a pipeline. Positions come from tracker, or from the document
// at config.PositionsIn when tracker is nil.
func New(config Config, tracker Tracker, log zerolog.Logger) (*Pipeline, error) {
	if config.Input == "" {
		return nil, errors.New("no input video")
	}
	if tracker == nil && config.PositionsIn == "" {
		return nil, errors.New("no tracker and no positions document")
	}
	config.Stride = max(config.Stride, 1)
	config.Workers = max(config.Workers, 1)

	return &Pipeline{
		config:  config,
		tracker: tracker,
		log:     log.With().Str("component", "pipeline").Logger(),
	}, nil
}

// AddHook registers an observer for output frames.
func (p *Pipeline) AddHook(h FrameHook) {
	p.hooks = append(p.hooks, h)
}

// Run processes the input video. Only failing to open or decode the input,
// or to write an output, is an error; every per-frame problem degrades to a
// pass-through frame.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{}

	reader, err := video.Open(p.config.Input)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var cache *video.Cache
	if p.config.BufferFrames && p.config.Output != "" {
		cache = video.NewCache(reader.FrameCount())
		defer cache.Close()
	}

	analyzeStart := time.Now()
	records, err := p.analyze(ctx, reader, cache, &res.Stats)
	if err != nil {
		return nil, err
	}
	res.Timing.Analyze = time.Since(analyzeStart)

	res.Document = position.NewDocument(filepath.Base(p.config.Input),
		reader.Width(), reader.Height(), reader.FPS(), records)
	res.Document.RunID = uuid.NewString()
	res.Document.Conditioned = true
	if p.config.PositionsOut != "" {
		if err := res.Document.Save(p.config.PositionsOut); err != nil {
			return nil, err
		}
		p.log.Info().Str("path", p.config.PositionsOut).Msg("positions saved")
	}

	if p.config.Output != "" {
		var frames frameSource = &streamSource{reader: reader}
		if cache != nil {
			frames = &cacheSource{cache: cache}
		}
		if err := p.erase(ctx, reader, frames, records, res); err != nil {
			return nil, err
		}
	} else if p.config.DebugOutput != "" {
		if err := p.drawDebug(ctx, reader, records); err != nil {
			return nil, err
		}
	}

	res.Timing.Total = time.Since(start)
	p.log.Info().
		Int("frames", res.Stats.Frames).
		Int("written", res.Stats.Written).
		Int("erased", res.Stats.Erased).
		Int("skipped", res.Stats.Skipped).
		Int("degenerate", res.Stats.Degenerate).
		Dur("total", res.Timing.Total).
		Msg("run complete")
	return res, nil
}

// analyze is the sequential first pass: decode every frame, track the mouth
// every Stride frames and condition the resulting positions.
func (p *Pipeline) analyze(ctx context.Context, reader *video.Reader, cache *video.Cache, stats *Stats) ([]position.Record, error) {
	fps := reader.FPS()
	w, h := reader.Width(), reader.Height()
	total := reader.FrameCount()

	records := make([]position.Record, 0, max(total, 0))
	frame := gocv.NewMat()
	defer frame.Close()

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !reader.Read(&frame) {
			break
		}

		rec := position.Default(i, fps, w, h)
		if p.tracker != nil && i%p.config.Stride == 0 {
			tracked, err := p.tracker.Track(frame, i)
			if err != nil {
				p.log.Debug().Err(err).Int("frame", i).Msg("tracking failed")
			} else if tracked.Valid() {
				tracked.FrameIndex = i
				tracked.TimeSeconds = rec.TimeSeconds
				rec = tracked
			}
		}
		records = append(records, rec)
		if cache != nil {
			cache.Append(frame.Clone())
		}

		if (i+1)%progressEvery == 0 {
			p.log.Info().Int("frame", i+1).Int("total", total).Msg("analyzing")
		}
	}

	if len(records) == 0 {
		return nil, errors.Wrapf(video.ErrStreamOpen, "no frames decoded from %s", p.config.Input)
	}

	conditioned := false
	if p.config.PositionsIn != "" {
		doc, err := position.Load(p.config.PositionsIn)
		if err != nil {
			return nil, err
		}
		records = doc.Align(len(records), fps, w, h)
		conditioned = doc.Conditioned
	}

	stats.Frames = len(records)
	stats.Detected = position.CountValid(records)
	p.log.Info().
		Int("frames", stats.Frames).
		Int("detected", stats.Detected).
		Float64("rate", stats.DetectionRate()).
		Bool("conditioned", conditioned).
		Msg("detection summary")

	if conditioned {
		return records, nil
	}
	return position.Condition(records, fps, p.config.SmoothCutoffHz), nil
}

// Close releases the tracker.
func (p *Pipeline) Close() error {
	if p.tracker != nil {
		if err := p.tracker.Close(); err != nil {
			return errors.Wrap(err, "failed to close tracker")
		}
	}
	return nil
}
