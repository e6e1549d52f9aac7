package eraser

import (
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"

	"github.com/dudu/mouthless/internal/raster"
	"github.com/dudu/mouthless/internal/shading"
)

// gradientEnergy is the mean Sobel gradient magnitude of the grey patch,
// weighted by w.
func gradientEnergy(patch gocv.Mat, w []float32) float64 {
	grey := gocv.NewMat()
	defer grey.Close()
	gocv.CvtColor(patch, &grey, gocv.ColorBGRToGray)
	greyF := gocv.NewMat()
	defer greyF.Close()
	grey.ConvertTo(&greyF, gocv.MatTypeCV32F)

	gx := gocv.NewMat()
	defer gx.Close()
	gy := gocv.NewMat()
	defer gy.Close()
	gocv.Sobel(greyF, &gx, gocv.MatTypeCV32F, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(greyF, &gy, gocv.MatTypeCV32F, 0, 1, 3, 1, 0, gocv.BorderDefault)

	mag := gocv.NewMat()
	defer mag.Close()
	gocv.Magnitude(gx, gy, &mag)

	return raster.WeightedMean(raster.Floats(mag), w)
}

// lightnessVariance is the population variance of Lab lightness over the
// pixels where w > 0.5.
func lightnessVariance(patch gocv.Mat, w []float32) float64 {
	l := shading.Lightness(patch)
	values := make([]float64, 0, len(l))
	for i, v := range l {
		if w[i] > 0.5 {
			values = append(values, float64(v))
		}
	}
	if len(values) == 0 {
		return 0
	}
	return stat.PopVariance(values, nil)
}

// Quality rates a synthesized patch against the patch it replaces; lower is
// better. It combines the lightness step between the inner region of result
// and the ring of target with the gradient energy left inside result.
func Quality(result, target gocv.Mat, inner, ring []float32) float64 {
	innerMean := raster.WeightedMean(shading.Lightness(result), inner)
	ringMean := raster.WeightedMean(shading.Lightness(target), ring)
	return math.Abs(innerMean-ringMean) + 0.2*gradientEnergy(result, inner)
}
