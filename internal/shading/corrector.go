package shading

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/dudu/mouthless/internal/raster"
)

// Corrector adapts a static clean patch to the lighting of a target patch.
// Lightness receives the difference of two plane fits; the chroma channels
// receive a flat offset measured on a narrow ring.
type Corrector struct {
	Fitter     *PlaneFitter
	inner      []float32
	chromaRing []float32
}

// NewCorrector copies the inner and chroma ring weights so the corrector is
// independent of the Mats' lifetime.
func NewCorrector(fitter *PlaneFitter, inner, chromaRing gocv.Mat) *Corrector {
	return &Corrector{
		Fitter:     fitter,
		inner:      append([]float32(nil), raster.Floats(inner)...),
		chromaRing: append([]float32(nil), raster.Floats(chromaRing)...),
	}
}

// Correct returns a new BGR patch: clean with its shading moved towards
// target inside the inner mask. An invalid fitter yields a plain copy of
// clean.
func (c *Corrector) Correct(clean, target gocv.Mat) (gocv.Mat, error) {
	if !c.Fitter.Valid() {
		return clean.Clone(), nil
	}
	w, h := c.Fitter.Size()
	for _, m := range []gocv.Mat{clean, target} {
		if m.Cols() != w || m.Rows() != h || m.Channels() != 3 {
			return gocv.Mat{}, errors.Errorf("failed to correct shading: patch is %dx%dx%d, want %dx%dx3",
				m.Cols(), m.Rows(), m.Channels(), w, h)
		}
	}

	cleanLab := toLab(clean)
	defer cleanLab.Close()
	targetLab := toLab(target)
	defer targetLab.Close()
	cl := raster.Floats(cleanLab)
	tl := raster.Floats(targetLab)

	// Fit only reads l, so the same slice is corrected in place below.
	l := raster.Channel(cl, 3, 0)
	cleanPlane, _ := c.Fitter.Fit(l)
	targetPlane, _ := c.Fitter.Fit(raster.Channel(tl, 3, 0))
	cp := cleanPlane.Evaluate(w, h)
	tp := targetPlane.Evaluate(w, h)

	for i := range l {
		l[i] += (tp[i] - cp[i]) * c.inner[i]
	}
	raster.Clip(l, 0, 255)
	raster.SetChannel(cl, 3, 0, l)

	for ch := 1; ch < 3; ch++ {
		cc := raster.Channel(cl, 3, ch)
		diff := raster.WeightedMean(raster.Channel(tl, 3, ch), c.chromaRing) -
			raster.WeightedMean(cc, c.chromaRing)
		for i := range cc {
			cc[i] += float32(diff) * c.inner[i]
		}
		raster.Clip(cc, 0, 255)
		raster.SetChannel(cl, 3, ch, cc)
	}

	return fromLab(cleanLab), nil
}

// toLab converts an 8-bit BGR patch to CV_32FC3 Lab on OpenCV's 8-bit scale
// (L, a and b all in [0, 255]).
func toLab(bgr gocv.Mat) gocv.Mat {
	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(bgr, &lab, gocv.ColorBGRToLab)

	out := gocv.NewMat()
	lab.ConvertTo(&out, gocv.MatTypeCV32F)
	return out
}

func fromLab(lab gocv.Mat) gocv.Mat {
	u8 := gocv.NewMat()
	defer u8.Close()
	lab.ConvertTo(&u8, gocv.MatTypeCV8U)

	bgr := gocv.NewMat()
	gocv.CvtColor(u8, &bgr, gocv.ColorLabToBGR)
	return bgr
}

// Lightness returns the Lab L channel of an 8-bit BGR patch on the 0..255
// scale.
func Lightness(bgr gocv.Mat) []float32 {
	lab := toLab(bgr)
	defer lab.Close()
	return raster.Channel(raster.Floats(lab), 3, 0)
}
