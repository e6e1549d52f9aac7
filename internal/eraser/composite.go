package eraser

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/dudu/mouthless/internal/geometry"
	"github.com/dudu/mouthless/internal/position"
	"github.com/dudu/mouthless/internal/raster"
	"github.com/dudu/mouthless/internal/shading"
)

// Outcome describes what Erase did with a frame.
type Outcome int

const (
	OutcomeErased     Outcome = iota
	OutcomeSkipped            // no usable position, frame passed through
	OutcomeDegenerate         // quad could not be projected, frame passed through
	OutcomeOffscreen          // quad lies outside the frame, nothing to composite
	OutcomeFailed             // unexpected image error, frame passed through
)

func (o Outcome) String() string {
	switch o {
	case OutcomeErased:
		return "erased"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDegenerate:
		return "degenerate"
	case OutcomeOffscreen:
		return "offscreen"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Eraser composites the bundle's clean patch onto frames. It holds no
// mutable state and is safe for concurrent use.
type Eraser struct {
	projector *geometry.Projector
	bundle    *Bundle
	corrector *shading.Corrector
	inner     []float32
	scale     float64
	log       zerolog.Logger
}

// NewEraser creates an eraser for a synthesized bundle.
func NewEraser(b *Bundle, opts Options, log zerolog.Logger) *Eraser {
	return &Eraser{
		projector: geometry.NewProjector(opts.PatchSize),
		bundle:    b,
		corrector: shading.NewCorrector(b.Fitter, b.Masks.Inner, b.Masks.ChromaRing),
		inner:     append([]float32(nil), raster.Floats(b.Masks.Inner)...),
		scale:     opts.QuadScale,
		log:       log.With().Str("component", "eraser").Logger(),
	}
}

// Erase returns a new frame with the mouth region replaced. Frames without a
// usable position and frames whose quad is degenerate come back as an
// unmodified copy; neither is an error.
func (e *Eraser) Erase(frame gocv.Mat, rec position.Record) (gocv.Mat, Outcome) {
	if !rec.Valid() {
		return frame.Clone(), OutcomeSkipped
	}

	out, err := e.erase(frame, rec)
	switch {
	case err == nil:
		return out, OutcomeErased
	case errors.Is(err, errOffscreen):
		return frame.Clone(), OutcomeOffscreen
	case errors.Is(err, geometry.ErrDegenerateQuad):
		e.log.Warn().Err(err).Int("frame", rec.FrameIndex).Msg("degenerate quad, passing frame through")
		return frame.Clone(), OutcomeDegenerate
	default:
		e.log.Error().Err(err).Int("frame", rec.FrameIndex).Msg("erase failed, passing frame through")
		return frame.Clone(), OutcomeFailed
	}
}

var errOffscreen = errors.New("quad outside frame")

func (e *Eraser) erase(frame gocv.Mat, rec position.Record) (gocv.Mat, error) {
	q := geometry.ToQuad(rec, e.scale)
	current, err := e.projector.WarpToNormalized(frame, q)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer current.Close()

	corrected, err := e.corrector.Correct(e.bundle.Clean, current)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer corrected.Close()

	blend := blendNormalized(corrected, current, e.inner)
	defer blend.Close()

	placed, err := e.projector.WarpFromNormalized(blend, e.bundle.Masks.Inner, q, image.Pt(frame.Cols(), frame.Rows()))
	if err != nil {
		return gocv.Mat{}, err
	}
	defer placed.Close()
	if placed.Rect.Empty() {
		return gocv.Mat{}, errOffscreen
	}

	out := frame.Clone()
	composite(out, placed)
	return out, nil
}

// blendNormalized mixes the corrected patch over the current one with the
// inner mask as alpha, in patch space. The result is CV_32FC3.
func blendNormalized(corrected, current gocv.Mat, alpha []float32) gocv.Mat {
	out := gocv.NewMatWithSize(current.Rows(), current.Cols(), gocv.MatTypeCV32FC3)
	dst := raster.Floats(out)
	fg := raster.Bytes(corrected)
	bg := raster.Bytes(current)
	for i, a := range alpha {
		for c := range 3 {
			j := i*3 + c
			dst[j] = float32(fg[j])*a + float32(bg[j])*(1-a)
		}
	}
	return out
}

// composite alpha blends the placement into frame in place. Pixels with
// zero alpha are not written.
func composite(frame gocv.Mat, p *geometry.Placement) {
	px := raster.Bytes(frame)
	col := raster.Floats(p.Color)
	alpha := raster.Floats(p.Alpha)
	stride := frame.Cols()
	rw := p.Rect.Dx()

	for y := p.Rect.Min.Y; y < p.Rect.Max.Y; y++ {
		for x := p.Rect.Min.X; x < p.Rect.Max.X; x++ {
			i := (y-p.Rect.Min.Y)*rw + (x - p.Rect.Min.X)
			a := alpha[i]
			if a <= 0 {
				continue
			}
			a = min(a, 1)
			o := (y*stride + x) * 3
			for c := range 3 {
				v := col[i*3+c]*a + float32(px[o+c])*(1-a)
				px[o+c] = uint8(math.Round(float64(min(max(v, 0), 255))))
			}
		}
	}
}
