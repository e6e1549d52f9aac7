package eraser

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/dudu/mouthless/internal/geometry"
	"github.com/dudu/mouthless/internal/mask"
	"github.com/dudu/mouthless/internal/position"
	"github.com/dudu/mouthless/internal/raster"
	"github.com/dudu/mouthless/internal/shading"
)

// Bundle is the clean content shared read-only by every erasure call.
type Bundle struct {
	Clean     gocv.Mat // inpainted reference patch, CV_8UC3
	Masks     *mask.Set
	Fitter    *shading.PlaneFitter
	Reference position.Record
	Quality   float64
}

// Close releases the clean patch. The masks belong to the caller of
// Synthesize.
func (b *Bundle) Close() {
	b.Clean.Close()
}

// Synthesize warps the reference frame into patch space, inpaints the inner
// mask footprint with Telea's method and fits the shading plane support on
// the ring.
func Synthesize(frame gocv.Mat, rec position.Record, masks *mask.Set, opts Options) (*Bundle, error) {
	projector := geometry.NewProjector(opts.PatchSize)
	patch, err := projector.WarpToNormalized(frame, geometry.ToQuad(rec, opts.QuadScale))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to warp reference frame %d", rec.FrameIndex)
	}
	defer patch.Close()

	hole := gocv.NewMat()
	defer hole.Close()
	masks.Inner.ConvertToWithParams(&hole, gocv.MatTypeCV8U, 255, 0)

	clean := gocv.NewMat()
	gocv.Inpaint(patch, hole, &clean, float32(opts.InpaintRadius), gocv.Telea)

	inner := raster.Floats(masks.Inner)
	ring := raster.Floats(masks.Ring)
	return &Bundle{
		Clean:     clean,
		Masks:     masks,
		Fitter:    shading.NewPlaneFitter(masks.Ring),
		Reference: rec,
		Quality:   Quality(clean, patch, inner, ring),
	}, nil
}
