package eraser

import (
	"math"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/dudu/mouthless/internal/geometry"
	"github.com/dudu/mouthless/internal/position"
	"github.com/dudu/mouthless/internal/raster"
)

// FrameAt returns decoded frame i. The caller owns and closes the Mat.
type FrameAt func(i int) (gocv.Mat, error)

// Selection is the outcome of a reference frame search.
type Selection struct {
	Index    int
	Score    float64
	Scored   int  // sampled frames that produced a score
	Fallback bool // no frame qualified; Index is 0
}

// Selector picks the frame that looks most like a closed, featureless mouth.
type Selector struct {
	projector *geometry.Projector
	inner     []float32
	opts      Options
	log       zerolog.Logger
}

// NewSelector creates a selector scoring inside the given inner mask.
func NewSelector(inner gocv.Mat, opts Options, log zerolog.Logger) *Selector {
	return &Selector{
		projector: geometry.NewProjector(opts.PatchSize),
		inner:     append([]float32(nil), raster.Floats(inner)...),
		opts:      opts,
		log:       log.With().Str("component", "selector").Logger(),
	}
}

// Select samples about opts.Samples frames evenly across the clip and
// returns the lowest scoring one. Frames below the confidence floor, frames
// that cannot be read and degenerate warps are skipped. When nothing
// qualifies frame 0 is returned with Fallback set.
func (s *Selector) Select(frames FrameAt, records []position.Record) Selection {
	best := Selection{Index: 0, Score: math.Inf(1)}
	stride := max(1, len(records)/max(1, s.opts.Samples))

	for i := 0; i < len(records); i += stride {
		rec := records[i]
		if rec.Confidence < s.opts.MinConfidence {
			continue
		}
		score, ok := s.score(frames, rec, i)
		if !ok {
			continue
		}
		best.Scored++
		if score < best.Score {
			best.Index = i
			best.Score = score
		}
	}

	if best.Scored == 0 {
		s.log.Warn().Int("frames", len(records)).Msg("no frame qualified as reference, using frame 0")
		return Selection{Index: 0, Fallback: true}
	}
	s.log.Debug().Int("frame", best.Index).Float64("score", best.Score).Int("scored", best.Scored).Msg("reference selected")
	return best
}

func (s *Selector) score(frames FrameAt, rec position.Record, i int) (float64, bool) {
	frame, err := frames(i)
	if err != nil {
		s.log.Debug().Err(err).Int("frame", i).Msg("skipping unreadable frame")
		return 0, false
	}
	defer frame.Close()

	patch, err := s.projector.WarpToNormalized(frame, geometry.ToQuad(rec, s.opts.QuadScale))
	if err != nil {
		s.log.Debug().Err(err).Int("frame", i).Msg("skipping degenerate reference candidate")
		return 0, false
	}
	defer patch.Close()

	w := s.opts.Weights
	return w.Height*rec.Height +
		w.Gradient*gradientEnergy(patch, s.inner) +
		w.Variance*lightnessVariance(patch, s.inner), true
}
