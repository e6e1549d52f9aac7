// Package shading transfers ambient illumination between normalized patches
// with a planar lightness model fitted over a reference ring.
package shading

import (
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"github.com/dudu/mouthless/internal/raster"
)

// MinRingPixels is the smallest ring support a plane can be fitted on.
const MinRingPixels = 10

// ringThreshold selects the ring pixels that take part in the fit.
const ringThreshold = 0.5

// PlaneModel is the affine lightness field a·x + b·y + c over coordinates
// normalized to [-1, 1].
type PlaneModel struct {
	A, B, C float64
}

// at evaluates the plane at pixel (x, y) of a w×h grid.
func (p PlaneModel) at(x, y, w, h int) float64 {
	return p.A*norm(x, w) + p.B*norm(y, h) + p.C
}

// Evaluate returns the plane over every pixel of a w×h grid in row-major
// order.
func (p PlaneModel) Evaluate(w, h int) []float32 {
	out := make([]float32, w*h)
	for y := range h {
		by := p.B*norm(y, h) + p.C
		for x := range w {
			out[y*w+x] = float32(p.A*norm(x, w) + by)
		}
	}
	return out
}

func norm(v, n int) float64 {
	return float64(v)/float64(n)*2 - 1
}

// PlaneFitter solves plane fits over a fixed ring support. The pseudoinverse
// of the [x y 1] design matrix is computed once so each fit is a 3×n
// product.
type PlaneFitter struct {
	w, h  int
	index []int      // flat indices of the support pixels
	pinv  *mat.Dense // 3×len(index)
}

// NewPlaneFitter builds a fitter over the pixels of ring above 0.5.
func NewPlaneFitter(ring gocv.Mat) *PlaneFitter {
	return NewPlaneFitterWeights(raster.Floats(ring), ring.Cols(), ring.Rows())
}

// NewPlaneFitterWeights is NewPlaneFitter over a row-major w×h weight field.
// With fewer than MinRingPixels support pixels the fitter is invalid.
func NewPlaneFitterWeights(ring []float32, w, h int) *PlaneFitter {
	f := &PlaneFitter{w: w, h: h}
	for i, v := range ring {
		if v > ringThreshold {
			f.index = append(f.index, i)
		}
	}
	if len(f.index) < MinRingPixels {
		f.index = nil
		return f
	}

	a := mat.NewDense(len(f.index), 3, nil)
	for r, i := range f.index {
		a.Set(r, 0, norm(i%w, w))
		a.Set(r, 1, norm(i/w, h))
		a.Set(r, 2, 1)
	}
	f.pinv = pseudoInverse(a)
	if f.pinv == nil {
		f.index = nil
	}
	return f
}

// pseudoInverse returns the Moore–Penrose inverse of a via a thin SVD,
// discarding singular values below the usual relative cutoff.
func pseudoInverse(a *mat.Dense) *mat.Dense {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	rows, _ := a.Dims()
	cutoff := 1e-15 * float64(max(rows, 3)) * values[0]
	_, k := v.Dims()
	for j := range k {
		inv := 0.0
		if values[j] > cutoff {
			inv = 1 / values[j]
		}
		for i := range k {
			v.Set(i, j, v.At(i, j)*inv)
		}
	}

	var pinv mat.Dense
	pinv.Mul(&v, u.T())
	return &pinv
}

// Valid reports whether the ring had enough support for a fit.
func (f *PlaneFitter) Valid() bool {
	return f != nil && f.pinv != nil
}

// Support returns the number of ring pixels used by the fit.
func (f *PlaneFitter) Support() int {
	return len(f.index)
}

// Size returns the grid dimensions the fitter was built for.
func (f *PlaneFitter) Size() (w, h int) {
	return f.w, f.h
}

// Fit solves the least-squares plane for a row-major lightness field of the
// fitter's size. It returns false when the fitter is invalid.
func (f *PlaneFitter) Fit(lightness []float32) (PlaneModel, bool) {
	if !f.Valid() {
		return PlaneModel{}, false
	}
	b := mat.NewVecDense(len(f.index), nil)
	for r, i := range f.index {
		b.SetVec(r, float64(lightness[i]))
	}
	var c mat.VecDense
	c.MulVec(f.pinv, b)
	return PlaneModel{A: c.AtVec(0), B: c.AtVec(1), C: c.AtVec(2)}, true
}
