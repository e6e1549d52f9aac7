// Package mask builds the soft region masks used in normalized patch space.
package mask

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/dudu/mouthless/internal/raster"
)

// DefaultChromaRingPx is the width of the narrow ring used for chroma
// averaging.
const DefaultChromaRingPx = 10

// Shape holds the inner ellipse and ring parameters.
type Shape struct {
	ScaleX    float64 // ellipse width as a fraction of the patch side
	ScaleY    float64 // ellipse height as a fraction of the patch side
	TopClip   float64 // rows above cy - ry*TopClip are cleared
	FeatherPx int     // blur half-width
	RingPx    int     // ring dilation radius
}

// ShapeForCoverage derives the mask shape from the coverage knob in [0,1].
// Larger coverage erases more of the lower face and samples a wider ring.
func ShapeForCoverage(coverage float64) Shape {
	return Shape{
		ScaleX:    0.50 + 0.18*coverage,
		ScaleY:    0.44 + 0.14*coverage,
		TopClip:   0.8,
		FeatherPx: 15,
		RingPx:    int(16 + 10*coverage),
	}
}

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Inner draws the erasure mask: a filled ellipse centred in a size×size
// patch with the rows above the nose clip cleared, blurred into a soft
// CV_32FC1 alpha in [0,1].
func Inner(size int, s Shape) gocv.Mat {
	hard := gocv.NewMatWithSize(size, size, gocv.MatTypeCV8U)
	defer hard.Close()
	hard.SetTo(gocv.NewScalar(0, 0, 0, 0))

	c := size / 2
	rx := int(float64(size) * s.ScaleX / 2)
	ry := int(float64(size) * s.ScaleY / 2)
	gocv.Ellipse(&hard, image.Pt(c, c), image.Pt(rx, ry), 0, 0, 360, white, -1)

	if clipY := int(float64(c) - float64(ry)*s.TopClip); clipY > 0 {
		px := raster.Bytes(hard)
		clear(px[:min(clipY, size)*size])
	}

	m := gocv.NewMat()
	hard.ConvertToWithParams(&m, gocv.MatTypeCV32F, 1.0/255, 0)
	if s.FeatherPx > 0 {
		k := 2*s.FeatherPx + 1
		gocv.GaussianBlur(m, &m, image.Pt(k, k), 0, 0, gocv.BorderDefault)
	}
	return m
}

// Ring returns the annulus of width widthPx around the support of inner.
// The support (inner >= 1/255) is dilated with an elliptical element and
// then removed again, so the ring never overlaps the inner mask.
func Ring(inner gocv.Mat, widthPx int) gocv.Mat {
	support := gocv.NewMat()
	defer support.Close()
	gocv.Threshold(inner, &support, 1.0/255-1e-6, 1, gocv.ThresholdBinary)

	bin := gocv.NewMat()
	defer bin.Close()
	support.ConvertToWithParams(&bin, gocv.MatTypeCV8U, 255, 0)

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(2*widthPx+1, 2*widthPx+1))
	defer kernel.Close()
	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(bin, &dilated, kernel)

	ring := gocv.NewMat()
	dilated.ConvertToWithParams(&ring, gocv.MatTypeCV32F, 1.0/255, 0)

	r := raster.Floats(ring)
	sup := raster.Floats(support)
	for i := range r {
		r[i] -= sup[i]
	}
	raster.Clip(r, 0, 1)
	return ring
}

// Weights returns the float view of a mask. The slice aliases the Mat.
func Weights(m gocv.Mat) []float32 {
	return raster.Floats(m)
}

// Set is the group of masks derived from one shape. It depends only on the
// patch size and the shape, never on frame content.
type Set struct {
	Inner      gocv.Mat
	Ring       gocv.Mat
	ChromaRing gocv.Mat
}

// NewSet builds the inner mask, its photometric ring and a separate narrow
// ring of chromaPx for chroma averaging.
func NewSet(size int, s Shape, chromaPx int) *Set {
	inner := Inner(size, s)
	return &Set{
		Inner:      inner,
		Ring:       Ring(inner, s.RingPx),
		ChromaRing: Ring(inner, chromaPx),
	}
}

// Close releases the masks.
func (s *Set) Close() {
	s.Inner.Close()
	s.Ring.Close()
	s.ChromaRing.Close()
}
